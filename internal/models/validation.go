package models

// Severity of a validation finding. Only errors block the import.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// AutoFix is a suggested deterministic correction. It is never applied
// without an explicit fix request.
type AutoFix struct {
	Action     string `json:"action"`
	NewValue   string `json:"newValue"`
	Confidence int    `json:"confidence"`
}

// ValidationError is one rule failure for one field of one record.
// RecordIndex is -1 for session-wide findings.
type ValidationError struct {
	RecordIndex int      `json:"recordIndex"`
	Field       string   `json:"field"`
	SourceField string   `json:"sourceField,omitempty"`
	Value       string   `json:"value"`
	RuleID      string   `json:"ruleId"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	AutoFix     *AutoFix `json:"autoFix,omitempty"`
}

// CountBySeverity returns the error and warning counts
func CountBySeverity(errs []ValidationError) (errors, warnings int) {
	for _, e := range errs {
		switch e.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		}
	}
	return errors, warnings
}

// ValidationSummary is returned by the validation endpoint
type ValidationSummary struct {
	ErrorCount   int               `json:"errorCount"`
	WarningCount int               `json:"warningCount"`
	Fixable      int               `json:"fixable"`
	Errors       []ValidationError `json:"errors"`
}

// RecordEdit replaces one source value of one record
type RecordEdit struct {
	RecordIndex int    `json:"recordIndex"`
	SourceField string `json:"sourceField" binding:"required"`
	Value       string `json:"value"`
}

// FixRequest selects auto-fixes to apply and carries manual edits. An empty
// selection with no edits applies every available fix.
type FixRequest struct {
	RecordIndexes []int        `json:"recordIndexes,omitempty"`
	RuleIDs       []string     `json:"ruleIds,omitempty"`
	Edits         []RecordEdit `json:"edits,omitempty"`
}

// SkipRequest marks records as skipped
type SkipRequest struct {
	RecordIndexes []int `json:"recordIndexes" binding:"required,min=1"`
}
