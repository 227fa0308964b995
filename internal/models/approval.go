package models

// RiskLevel grades how risky an import is for the approval gate
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// Raise returns the next risk level up
func (r RiskLevel) Raise() RiskLevel {
	switch r {
	case RiskLevelLow:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}

// ApprovalDecision is the terminal decision of an approval request
type ApprovalDecision struct {
	ApprovalRequestID string         `json:"approvalRequestId,omitempty"`
	Approved          bool           `json:"approved"`
	Reasoning         string         `json:"reasoning,omitempty"`
	Overrides         []FieldMapping `json:"overrides,omitempty"`
	DecidedBy         string         `json:"decidedBy,omitempty"`
}
