package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []models.RequestStatus{
		models.StatusDraft,
		models.StatusSubmitted,
		models.StatusSubmissionReceived,
		models.StatusInProgress,
		models.StatusPendingApproval,
		models.StatusApproved,
	}
	for i := 0; i < len(path)-1; i++ {
		require.True(t, CanTransition(path[i], path[i+1]),
			"expected %s -> %s to be legal", path[i], path[i+1])
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	require.False(t, CanTransition(models.StatusDraft, models.StatusApproved))
	require.False(t, CanTransition(models.StatusDraft, models.StatusInProgress))
	require.False(t, CanTransition(models.StatusSubmitted, models.StatusPendingApproval))
	require.False(t, CanTransition(models.StatusInProgress, models.StatusApproved))
}

func TestTerminalStatesAdmitNothing(t *testing.T) {
	for _, terminal := range []models.RequestStatus{
		models.StatusApproved, models.StatusRejected, models.StatusCancelled,
	} {
		require.True(t, terminal.Terminal())
		for _, target := range []models.RequestStatus{
			models.StatusDraft, models.StatusSubmitted, models.StatusInProgress,
			models.StatusPendingApproval, models.StatusOnHold, models.StatusCancelled,
		} {
			require.False(t, CanTransition(terminal, target),
				"terminal %s must not reach %s", terminal, target)
		}
	}
}

func TestSentBackReturnsToWorkingStates(t *testing.T) {
	require.True(t, CanTransition(models.StatusPendingApproval, models.StatusSentBack))
	require.True(t, CanTransition(models.StatusSentBack, models.StatusSubmissionReceived))
	require.True(t, CanTransition(models.StatusSentBack, models.StatusInProgress))
	require.False(t, CanTransition(models.StatusSentBack, models.StatusApproved))
}

func TestCheckTransitionNamesBothStates(t *testing.T) {
	err := checkTransition(models.StatusDraft, models.StatusApproved)
	require.Error(t, err)
	typed := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, typed.Code)
	require.Contains(t, typed.Message, "DRAFT")
	require.Contains(t, typed.Message, "APPROVED")
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("in_progress")
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, status)

	// Legacy rename: historical free-text "pending" maps to DRAFT.
	status, err = ParseStatus("pending")
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, status)

	_, err = ParseStatus("definitely-not-a-status")
	require.Error(t, err)
}
