package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"catalog-import-service/internal/models"
	"github.com/google/uuid"
)

// Rule ids
const (
	RuleRequired         = "required"
	RuleRequiredUnmapped = "required_unmapped"
	RuleTypeDecimal      = "type_decimal"
	RuleTypeInteger      = "type_integer"
	RuleTypeUUID         = "type_uuid"
	RuleRangeMin         = "range_min"
	RuleEnum             = "enum"
	RuleUniqueSKU        = "unique_sku"
	RuleWhitespace       = "whitespace"
	RuleMaxLength        = "max_length"
	RuleComparePrice     = "compare_price"
)

// AutoFix actions
const (
	FixTrim          = "trim"
	FixStripCurrency = "strip_currency"
	FixRound         = "round"
	FixUppercase     = "uppercase"
	FixTruncate      = "truncate"
)

// DefaultMaxLength applies to string fields without their own limit
const DefaultMaxLength = 255

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// RuleFinding is a failed check
type RuleFinding struct {
	Message string
	AutoFix *models.AutoFix
}

// FieldCheck inspects one non-empty mapped value. It returns nil when the value passes.
type FieldCheck func(field models.TargetField, value string) *RuleFinding

// FieldRule is a per-value validation rule
type FieldRule struct {
	ID       string
	Severity models.Severity
	// Applies selects the target fields the rule runs on
	Applies func(field models.TargetField) bool
	Check   FieldCheck
	// Stop skips the remaining rules for the value when this one fails
	Stop bool
}

// RuleRegistry holds the field rules keyed by id, evaluated in registration order
type RuleRegistry struct {
	rules map[string]FieldRule
	order []string
	mu    sync.RWMutex
}

// NewRuleRegistry creates a registry with the built-in rules registered
func NewRuleRegistry() *RuleRegistry {
	r := &RuleRegistry{rules: make(map[string]FieldRule)}
	r.Register(FieldRule{ID: RuleWhitespace, Severity: models.SeverityWarning, Applies: anyField, Check: checkWhitespace})
	r.Register(FieldRule{ID: RuleTypeDecimal, Severity: models.SeverityError, Applies: fieldOfType(models.FieldTypeDecimal), Check: checkDecimal, Stop: true})
	r.Register(FieldRule{ID: RuleTypeInteger, Severity: models.SeverityError, Applies: fieldOfType(models.FieldTypeInteger), Check: checkInteger, Stop: true})
	r.Register(FieldRule{ID: RuleTypeUUID, Severity: models.SeverityError, Applies: fieldOfType(models.FieldTypeUUID), Check: checkUUID, Stop: true})
	r.Register(FieldRule{ID: RuleRangeMin, Severity: models.SeverityError, Applies: hasMin, Check: checkRangeMin})
	r.Register(FieldRule{ID: RuleEnum, Severity: models.SeverityError, Applies: fieldOfType(models.FieldTypeEnum), Check: checkEnum})
	r.Register(FieldRule{ID: RuleMaxLength, Severity: models.SeverityWarning, Applies: fieldOfType(models.FieldTypeString), Check: checkMaxLength})
	return r
}

// Register adds or replaces a rule. A replaced rule keeps its position.
func (r *RuleRegistry) Register(rule FieldRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; !exists {
		r.order = append(r.order, rule.ID)
	}
	r.rules[rule.ID] = rule
}

// Rule looks up a rule by id
func (r *RuleRegistry) Rule(id string) (FieldRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// Rules returns the rules in evaluation order
func (r *RuleRegistry) Rules() []FieldRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules := make([]FieldRule, 0, len(r.order))
	for _, id := range r.order {
		rules = append(rules, r.rules[id])
	}
	return rules
}

func anyField(models.TargetField) bool { return true }

func fieldOfType(t models.FieldType) func(models.TargetField) bool {
	return func(f models.TargetField) bool { return f.Type == t }
}

func hasMin(f models.TargetField) bool {
	return f.Min != nil && (f.Type == models.FieldTypeDecimal || f.Type == models.FieldTypeInteger)
}

func maxLengthOf(f models.TargetField) int {
	if f.MaxLength > 0 {
		return f.MaxLength
	}
	return DefaultMaxLength
}

// ParseDecimal parses a plain decimal number, rejecting NaN, Inf and exponents
func ParseDecimal(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if !decimalPattern.MatchString(value) {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	return f, err == nil
}

func checkWhitespace(_ models.TargetField, value string) *RuleFinding {
	trimmed := strings.TrimSpace(value)
	if trimmed == value {
		return nil
	}
	return &RuleFinding{
		Message: "value has leading or trailing whitespace",
		AutoFix: &models.AutoFix{Action: FixTrim, NewValue: trimmed, Confidence: 99},
	}
}

func checkDecimal(field models.TargetField, value string) *RuleFinding {
	if _, ok := ParseDecimal(value); ok {
		return nil
	}
	finding := &RuleFinding{Message: fmt.Sprintf("%s must be a decimal number", field.Name)}
	if stripped := StripCurrency(value); stripped != value {
		if _, ok := ParseDecimal(stripped); ok {
			finding.AutoFix = &models.AutoFix{Action: FixStripCurrency, NewValue: stripped, Confidence: 90}
		}
	}
	return finding
}

func checkInteger(field models.TargetField, value string) *RuleFinding {
	trimmed := strings.TrimSpace(value)
	if _, err := strconv.Atoi(trimmed); err == nil {
		return nil
	}
	finding := &RuleFinding{Message: fmt.Sprintf("%s must be a whole number", field.Name)}
	if f, ok := ParseDecimal(trimmed); ok && f == math.Trunc(f) && math.Abs(f) < math.MaxInt32 {
		finding.AutoFix = &models.AutoFix{Action: FixRound, NewValue: strconv.FormatInt(int64(f), 10), Confidence: 95}
	}
	return finding
}

func checkUUID(field models.TargetField, value string) *RuleFinding {
	if _, err := uuid.Parse(strings.TrimSpace(value)); err == nil {
		return nil
	}
	return &RuleFinding{Message: fmt.Sprintf("%s must be a UUID", field.Name)}
}

func checkRangeMin(field models.TargetField, value string) *RuleFinding {
	f, ok := ParseDecimal(value)
	if !ok || f >= *field.Min {
		return nil
	}
	return &RuleFinding{Message: fmt.Sprintf("%s must be at least %g", field.Name, *field.Min)}
}

func checkEnum(field models.TargetField, value string) *RuleFinding {
	trimmed := strings.TrimSpace(value)
	for _, allowed := range field.EnumValues {
		if trimmed == allowed {
			return nil
		}
	}
	finding := &RuleFinding{Message: fmt.Sprintf("%s must be one of %s", field.Name, strings.Join(field.EnumValues, ", "))}
	upper := strings.ToUpper(trimmed)
	for _, allowed := range field.EnumValues {
		if upper == allowed {
			finding.AutoFix = &models.AutoFix{Action: FixUppercase, NewValue: upper, Confidence: 95}
			break
		}
	}
	return finding
}

func checkMaxLength(field models.TargetField, value string) *RuleFinding {
	limit := maxLengthOf(field)
	if utf8.RuneCountInString(value) <= limit {
		return nil
	}
	return &RuleFinding{
		Message: fmt.Sprintf("%s is longer than %d characters", field.Name, limit),
		AutoFix: &models.AutoFix{Action: FixTruncate, NewValue: truncateRunes(value, limit), Confidence: 80},
	}
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

// ApplyFixAction applies an autoFix action to a value. It reports false for
// unknown actions or when the action does not apply.
func ApplyFixAction(field models.TargetField, action, value string) (string, bool) {
	switch action {
	case FixTrim:
		return strings.TrimSpace(value), true
	case FixStripCurrency:
		stripped := StripCurrency(value)
		_, ok := ParseDecimal(stripped)
		return stripped, ok
	case FixRound:
		f, ok := ParseDecimal(value)
		if !ok || f != math.Trunc(f) {
			return value, false
		}
		return strconv.FormatInt(int64(f), 10), true
	case FixUppercase:
		return strings.ToUpper(strings.TrimSpace(value)), true
	case FixTruncate:
		return truncateRunes(value, maxLengthOf(field)), true
	}
	return value, false
}
