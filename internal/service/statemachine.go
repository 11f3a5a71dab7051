package service

import (
	"strings"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

// legalTransitions is the authoritative transition graph. ON_HOLD is reachable
// from every non-terminal state; resume targets are validated against the
// HoldContext recorded when the hold was placed, not against this map alone.
var legalTransitions = map[models.RequestStatus][]models.RequestStatus{
	models.StatusDraft: {
		models.StatusSubmitted, models.StatusCancelled, models.StatusOnHold,
	},
	models.StatusSubmitted: {
		models.StatusSubmissionReceived, models.StatusCancelled, models.StatusOnHold,
	},
	models.StatusSubmissionReceived: {
		models.StatusInProgress, models.StatusCancelled, models.StatusOnHold,
	},
	models.StatusInProgress: {
		models.StatusPendingApproval, models.StatusCancelled, models.StatusOnHold,
	},
	models.StatusPendingApproval: {
		models.StatusApproved, models.StatusRejected, models.StatusSentBack,
		models.StatusCancelled, models.StatusOnHold,
	},
	models.StatusSentBack: {
		models.StatusSubmissionReceived, models.StatusInProgress,
		models.StatusCancelled, models.StatusOnHold,
	},
	models.StatusOnHold: {
		// Resume targets; the workflow service narrows this to the exact
		// status recorded in the hold context.
		models.StatusDraft, models.StatusSubmitted, models.StatusSubmissionReceived,
		models.StatusInProgress, models.StatusPendingApproval, models.StatusSentBack,
		models.StatusCancelled,
	},
	models.StatusApproved:  {},
	models.StatusRejected:  {},
	models.StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to models.RequestStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns a typed error naming both states when illegal.
func checkTransition(from, to models.RequestStatus) error {
	if !CanTransition(from, to) {
		return appErrors.InvalidTransition(string(from), string(to))
	}
	return nil
}

// legacyStatusMap translates free-text status strings found in historical
// records into the closed enumeration. Unknown strings are never accepted
// silently.
var legacyStatusMap = map[string]models.RequestStatus{
	"pending":   models.StatusDraft,
	"draft":     models.StatusDraft,
	"submitted": models.StatusSubmitted,
	"received":  models.StatusSubmissionReceived,
	"wip":       models.StatusInProgress,
	"complete":  models.StatusApproved,
}

// ParseStatus resolves a status string, accepting canonical enum values and
// the documented legacy spellings.
func ParseStatus(raw string) (models.RequestStatus, error) {
	trimmed := strings.TrimSpace(raw)
	status := models.RequestStatus(strings.ToUpper(trimmed))
	if _, ok := legalTransitions[status]; ok {
		return status, nil
	}
	if mapped, ok := legacyStatusMap[strings.ToLower(trimmed)]; ok {
		return mapped, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "unrecognized status: "+raw)
}
