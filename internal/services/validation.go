package services

import (
	"fmt"
	"sort"
	"strings"

	"catalog-import-service/internal/models"
)

// ValidationEngine evaluates mapped records against the target schema. It
// only reports; fixes are applied by the session service on request.
type ValidationEngine struct {
	schema   models.TargetSchema
	registry *RuleRegistry
}

// NewValidationEngine creates a new ValidationEngine. A nil registry uses the built-in rules.
func NewValidationEngine(schema models.TargetSchema, registry *RuleRegistry) *ValidationEngine {
	if registry == nil {
		registry = NewRuleRegistry()
	}
	return &ValidationEngine{schema: schema, registry: registry}
}

// Schema returns the target schema records are validated against
func (v *ValidationEngine) Schema() models.TargetSchema {
	return v.schema
}

// Validate runs every rule for every mapped field of every non-skipped
// record. Values are checked after the mapping transformations. Findings are
// ordered by record index; session-wide findings use index -1 and come first.
func (v *ValidationEngine) Validate(records []models.RawRecord, mappings []models.FieldMapping) []models.ValidationError {
	errs := make([]models.ValidationError, 0)

	mapped := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		if m.TargetField != "" {
			mapped[m.TargetField] = true
		}
	}
	for _, name := range v.schema.RequiredFields() {
		if !mapped[name] {
			errs = append(errs, models.ValidationError{
				RecordIndex: -1,
				Field:       name,
				RuleID:      RuleRequiredUnmapped,
				Severity:    models.SeverityError,
				Message:     fmt.Sprintf("required field %s has no source column mapped", name),
			})
		}
	}

	rules := v.registry.Rules()
	firstSKU := make(map[string]int)

	ordered := make([]models.RawRecord, 0, len(records))
	for _, r := range records {
		if !r.Skipped {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for _, record := range ordered {
		values := make(map[string]string, len(mappings))
		for _, m := range mappings {
			field, ok := v.schema.Field(m.TargetField)
			if !ok {
				continue
			}
			value := ApplyTransformations(record.Values[m.SourceField], m.Transformations)
			values[field.Name] = value

			newError := func(ruleID string, severity models.Severity, message string, fix *models.AutoFix) models.ValidationError {
				return models.ValidationError{
					RecordIndex: record.Index,
					Field:       field.Name,
					SourceField: m.SourceField,
					Value:       value,
					RuleID:      ruleID,
					Severity:    severity,
					Message:     message,
					AutoFix:     fix,
				}
			}

			if strings.TrimSpace(value) == "" {
				if field.Required {
					errs = append(errs, newError(RuleRequired, models.SeverityError, fmt.Sprintf("%s is required", field.Name), nil))
				}
				continue
			}

			for _, rule := range rules {
				if !rule.Applies(field) {
					continue
				}
				finding := rule.Check(field, value)
				if finding == nil {
					continue
				}
				errs = append(errs, newError(rule.ID, rule.Severity, finding.Message, finding.AutoFix))
				if rule.Stop {
					break
				}
			}

			if field.Name == "sku" {
				sku := strings.TrimSpace(value)
				if first, seen := firstSKU[sku]; seen {
					errs = append(errs, newError(RuleUniqueSKU, models.SeverityError,
						fmt.Sprintf("sku %s is already used by record %d", sku, first), nil))
				} else {
					firstSKU[sku] = record.Index
				}
			}
		}

		if finding := checkComparePrice(values); finding != nil {
			errs = append(errs, models.ValidationError{
				RecordIndex: record.Index,
				Field:       "comparePrice",
				SourceField: sourceFor(mappings, "comparePrice"),
				Value:       values["comparePrice"],
				RuleID:      RuleComparePrice,
				Severity:    models.SeverityWarning,
				Message:     finding.Message,
			})
		}
	}

	return errs
}

func checkComparePrice(values map[string]string) *RuleFinding {
	compare, ok := ParseDecimal(values["comparePrice"])
	if !ok {
		return nil
	}
	price, ok := ParseDecimal(values["price"])
	if !ok || compare >= price {
		return nil
	}
	return &RuleFinding{Message: fmt.Sprintf("compare price %g is below price %g", compare, price)}
}

func sourceFor(mappings []models.FieldMapping, target string) string {
	for _, m := range mappings {
		if m.TargetField == target {
			return m.SourceField
		}
	}
	return ""
}

// Summarize builds the validation endpoint view
func Summarize(errs []models.ValidationError) models.ValidationSummary {
	summary := models.ValidationSummary{Errors: errs}
	if summary.Errors == nil {
		summary.Errors = []models.ValidationError{}
	}
	summary.ErrorCount, summary.WarningCount = models.CountBySeverity(errs)
	for _, e := range errs {
		if e.AutoFix != nil {
			summary.Fixable++
		}
	}
	return summary
}
