package services

import (
	"math"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// CleanHeader trims a column header and drops the trailing required marker
// used by the import template ("name *").
func CleanHeader(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, "*")
	return strings.TrimSpace(name)
}

// NormalizeIdent folds an identifier for matching: CamelCase is split,
// everything is lowercased and separators are removed.
//
//	"Product_Name" -> "productname"
//	"skuCode"      -> "skucode"
//	"Unit Price *" -> "unitprice"
func NormalizeIdent(s string) string {
	tokens := TokenizeIdent(CleanHeader(s))
	return strings.Join(tokens, "")
}

// FieldSignature is the mapping cache key of a source field name
func FieldSignature(name string) string {
	return NormalizeIdent(name)
}

// TokenizeIdent splits an identifier into lowercase tokens on separators and
// CamelCase boundaries.
//
//	"OrderID"      -> ["order", "id"]
//	"XMLParser"    -> ["xml", "parser"]
//	"min-order qty" -> ["min", "order", "qty"]
func TokenizeIdent(s string) []string {
	if s == "" {
		return nil
	}

	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		if isSeparator(r) {
			flush()
			continue
		}
		if i > 0 && startsNewToken(runes, i) {
			flush()
		}
		current.WriteRune(r)
	}
	flush()

	return tokens
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-' || r == ' ' || r == '.' || r == '/' || r == '\t'
}

func startsNewToken(runes []rune, i int) bool {
	r := runes[i]
	prev := runes[i-1]
	if isSeparator(prev) {
		return false
	}
	// lower -> Upper: "orderID" splits before 'I'
	if unicode.IsUpper(r) && !unicode.IsUpper(prev) && !unicode.IsDigit(prev) {
		return true
	}
	// end of acronym: "XMLParser" splits before 'P'
	if unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
		return true
	}
	return false
}

// Similarity returns the normalized Levenshtein similarity of two
// identifiers in [0,1]. 1 means identical after normalization.
func Similarity(a, b string) float64 {
	na, nb := NormalizeIdent(a), NormalizeIdent(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(maxLen)
}

// fuzzyConfidence scales a similarity onto the fuzzy confidence band.
// 0.9 -> 80, 1.0 -> 89.
func fuzzyConfidence(similarity float64) int {
	return clampConfidence(int(math.Round(similarity * fuzzyConfidenceScale)))
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
