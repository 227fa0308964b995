package services

import (
	"fmt"

	"catalog-import-service/internal/models"
)

// sessionTransitions is the complete table of allowed status changes.
// Terminal statuses have no entry.
var sessionTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionStatusInitiated: {
		models.SessionStatusAnalyzing,
		models.SessionStatusFailed,
		models.SessionStatusCancelled,
	},
	models.SessionStatusAnalyzing: {
		models.SessionStatusMapping,
		models.SessionStatusFailed,
		models.SessionStatusCancelled,
	},
	models.SessionStatusMapping: {
		models.SessionStatusAwaitingApproval,
		models.SessionStatusPreviewing,
		models.SessionStatusFailed,
		models.SessionStatusCancelled,
	},
	models.SessionStatusAwaitingApproval: {
		models.SessionStatusPreviewing,
		models.SessionStatusMapping,
		models.SessionStatusFailed,
		models.SessionStatusCancelled,
	},
	models.SessionStatusPreviewing: {
		models.SessionStatusImporting,
		models.SessionStatusMapping,
		models.SessionStatusFailed,
		models.SessionStatusCancelled,
	},
	models.SessionStatusImporting: {
		models.SessionStatusCompleted,
		models.SessionStatusFailed,
		models.SessionStatusCancelled,
	},
}

// CanTransition reports whether from -> to is in the transition table
func CanTransition(from, to models.SessionStatus) bool {
	for _, allowed := range sessionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from the given status
func AllowedTransitions(from models.SessionStatus) []models.SessionStatus {
	allowed := sessionTransitions[from]
	out := make([]models.SessionStatus, len(allowed))
	copy(out, allowed)
	return out
}

// Transition moves the session to a new status in memory. The caller persists
// it with a compare-and-set on the previous status. An invalid transition
// leaves the session untouched.
func Transition(session *models.UploadSession, to models.SessionStatus) error {
	from := session.Status
	if !CanTransition(from, to) {
		return models.NewImportError(models.ErrorKindSystem, models.CodeInvalidTransition,
			fmt.Sprintf("cannot move session from %s to %s", from, to))
	}
	session.Status = to
	return nil
}
