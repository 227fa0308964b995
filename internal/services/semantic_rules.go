package services

import (
	"fmt"
	"os"
	"regexp"

	"catalog-import-service/internal/models"
	"gopkg.in/yaml.v3"
)

// SemanticRule maps a source-name pattern onto a target field. The optional
// value pattern is checked against sample values.
type SemanticRule struct {
	Target       string
	NamePattern  *regexp.Regexp
	ValuePattern *regexp.Regexp
}

var (
	decimalValuePattern = `^[$€£₹]?\s*-?\d+([.,]\d+)?$`
	integerValuePattern = `^-?\d+$`
	uuidValuePattern    = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`
)

// defaultRuleSpecs is the built-in pattern dictionary
var defaultRuleSpecs = []ruleSpec{
	{Target: "sku", Pattern: `(?i)sku|^code$|item.?(code|no|num)|product.?code|part.?(no|num)|article.?(no|num)`, ValuePattern: `^[A-Za-z0-9][A-Za-z0-9\-_./]+$`},
	{Target: "name", Pattern: `(?i)^(product.?|item.?)?(name|title)$`},
	{Target: "comparePrice", Pattern: `(?i)compare|msrp|rrp|list.?price|original.?price|was.?price`, ValuePattern: decimalValuePattern},
	{Target: "costPrice", Pattern: `(?i)cost|wholesale|purchase.?price`, ValuePattern: decimalValuePattern},
	{Target: "price", Pattern: `(?i)price|amount|^rate$`, ValuePattern: decimalValuePattern},
	{Target: "description", Pattern: `(?i)desc|detail|summary|body`},
	{Target: "categoryId", Pattern: `(?i)categ.*(id|uuid)$`, ValuePattern: uuidValuePattern},
	{Target: "categoryName", Pattern: `(?i)categ|department|dept`},
	{Target: "vendorId", Pattern: `(?i)(vendor|seller).*(id|uuid)$`, ValuePattern: uuidValuePattern},
	{Target: "vendorName", Pattern: `(?i)vendor|seller|merchant`},
	{Target: "warehouseName", Pattern: `(?i)warehouse|location|depot`},
	{Target: "supplierName", Pattern: `(?i)supplier|manufacturer|distributor`},
	{Target: "brand", Pattern: `(?i)brand|^make$`},
	{Target: "minOrderQty", Pattern: `(?i)(min|minimum).?(order|qty|quantity)|^moq$`, ValuePattern: integerValuePattern},
	{Target: "maxOrderQty", Pattern: `(?i)(max|maximum).?(order|qty|quantity)`, ValuePattern: integerValuePattern},
	{Target: "lowStockThreshold", Pattern: `(?i)reorder|low.?stock|threshold`, ValuePattern: integerValuePattern},
	{Target: "quantity", Pattern: `(?i)qty|quantity|stock|inventory|on.?hand`, ValuePattern: integerValuePattern},
	{Target: "weight", Pattern: `(?i)weight|mass|^kg$|^lbs?$`, ValuePattern: decimalValuePattern},
	{Target: "tags", Pattern: `(?i)tags?$|labels?$`},
	{Target: "searchKeywords", Pattern: `(?i)keyword|search`},
	{Target: "currencyCode", Pattern: `(?i)currency|^ccy$`, ValuePattern: `^[A-Za-z]{3}$`},
	{Target: "status", Pattern: `(?i)status|^state$`},
}

type ruleSpec struct {
	Target       string `yaml:"target"`
	Pattern      string `yaml:"pattern"`
	ValuePattern string `yaml:"valuePattern,omitempty"`
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// DefaultSemanticRules compiles the built-in pattern dictionary
func DefaultSemanticRules() []SemanticRule {
	rules, err := compileRules(defaultRuleSpecs)
	if err != nil {
		panic(err)
	}
	return rules
}

// LoadSemanticRules reads extra rules from a YAML file:
//
//	rules:
//	  - target: sku
//	    pattern: "(?i)ean|upc|gtin"
//	    valuePattern: "^\\d{8,14}$"
//
// Rules naming a field missing from the schema are rejected.
func LoadSemanticRules(path string, schema models.TargetSchema) ([]SemanticRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	for i, spec := range file.Rules {
		field, ok := schema.Field(spec.Target)
		if !ok {
			return nil, fmt.Errorf("rule %d: unknown target field %q", i, spec.Target)
		}
		file.Rules[i].Target = field.Name
	}

	return compileRules(file.Rules)
}

func compileRules(specs []ruleSpec) ([]SemanticRule, error) {
	rules := make([]SemanticRule, 0, len(specs))
	for _, spec := range specs {
		namePattern, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for %s: %w", spec.Target, err)
		}
		rule := SemanticRule{Target: spec.Target, NamePattern: namePattern}
		if spec.ValuePattern != "" {
			valuePattern, err := regexp.Compile(spec.ValuePattern)
			if err != nil {
				return nil, fmt.Errorf("invalid value pattern for %s: %w", spec.Target, err)
			}
			rule.ValuePattern = valuePattern
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
