package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

func datePtr(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestComputeSubmissionDueDateFromCompletion(t *testing.T) {
	prior := &models.ValidationRequest{
		ValidationType: models.ValidationTypeComprehensive,
		CompletionDate: datePtr(2024, time.January, 10),
	}
	policy := models.ValidationPolicy{FrequencyMonths: 12, GracePeriodMonths: 3}

	due := ComputeSubmissionDueDate(prior, policy)
	require.NotNil(t, due)
	require.Equal(t, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC), *due)
}

func TestComputeSubmissionDueDateLegacyFallback(t *testing.T) {
	prior := &models.ValidationRequest{
		ValidationType: models.ValidationTypeAnnual,
		UpdatedAt:      time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	due := ComputeSubmissionDueDate(prior, models.ValidationPolicy{FrequencyMonths: 6})
	require.NotNil(t, due)
	require.Equal(t, time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC), *due)
}

func TestComputeSubmissionDueDateTargetedDoesNotResetClock(t *testing.T) {
	prior := &models.ValidationRequest{
		ValidationType: models.ValidationTypeTargeted,
		CompletionDate: datePtr(2024, time.January, 10),
	}
	require.Nil(t, ComputeSubmissionDueDate(prior, models.ValidationPolicy{FrequencyMonths: 12}))

	prior.ValidationType = models.ValidationTypeChange
	require.Nil(t, ComputeSubmissionDueDate(prior, models.ValidationPolicy{FrequencyMonths: 12}))
}

func TestClassifyOverduePreSubmissionWithinGrace(t *testing.T) {
	// frequency 12, grace 3; completed 2024-01-10 so due 2025-01-10.
	// At 2025-03-15 the request is 64 days past due, inside grace.
	request := &models.ValidationRequest{
		Status:            models.StatusDraft,
		SubmissionDueDate: datePtr(2025, time.January, 10),
	}
	policy := models.ValidationPolicy{FrequencyMonths: 12, GracePeriodMonths: 3}
	now := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)

	classification := ClassifyOverdue(request, policy, nil, now)
	require.Equal(t, models.BandPreSubmissionOverdue, classification.Band)
	require.True(t, classification.WithinGrace)
	require.False(t, classification.PastGrace)
	require.Equal(t, 64, classification.DaysPastDue)
	require.Zero(t, classification.DowngradeNotches)
}

func TestClassifyOverduePastGracePicksBucketNotches(t *testing.T) {
	request := &models.ValidationRequest{
		Status:            models.StatusSubmitted,
		SubmissionDueDate: datePtr(2024, time.June, 1),
	}
	policy := models.ValidationPolicy{FrequencyMonths: 12, GracePeriodMonths: 1}
	max90 := 90
	buckets := []models.GraceBucket{
		{MinDaysPastDue: 0, MaxDaysPastDue: &max90, DowngradeNotches: 1},
		{MinDaysPastDue: 91, DowngradeNotches: 2},
	}
	now := time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC)

	classification := ClassifyOverdue(request, policy, buckets, now)
	require.Equal(t, models.BandPreSubmissionOverdue, classification.Band)
	require.True(t, classification.PastGrace)
	require.Equal(t, 183, classification.DaysPastDue)
	require.Equal(t, 2, classification.DowngradeNotches)
}

func TestClassifyOverdueSwitchesToInProgressAfterReceipt(t *testing.T) {
	request := &models.ValidationRequest{
		Status:                 models.StatusInProgress,
		SubmissionDueDate:      datePtr(2024, time.January, 1),
		SubmissionReceivedDate: datePtr(2024, time.February, 1),
		TargetCompletionDate:   datePtr(2024, time.June, 1),
	}
	now := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)

	classification := ClassifyOverdue(request, models.ValidationPolicy{}, nil, now)
	require.Equal(t, models.BandValidationInProgressOverdue, classification.Band)
}

func TestClassifyOverdueUsesPostponedDueDate(t *testing.T) {
	request := &models.ValidationRequest{
		Status:            models.StatusSubmitted,
		SubmissionDueDate: datePtr(2024, time.January, 1),
		PostponedDueDate:  datePtr(2024, time.December, 1),
	}
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	classification := ClassifyOverdue(request, models.ValidationPolicy{}, nil, now)
	require.Equal(t, models.BandOnTime, classification.Band)
}

func TestClassifyOverduePostponementDoesNotOutliveSubmissionReceipt(t *testing.T) {
	// A postponement earned before the submission arrived must not keep
	// governing once the target completion date takes over.
	request := &models.ValidationRequest{
		Status:                 models.StatusInProgress,
		SubmissionDueDate:      datePtr(2024, time.January, 10),
		PostponedDueDate:       datePtr(2024, time.January, 15),
		SubmissionReceivedDate: datePtr(2024, time.January, 20),
		TargetCompletionDate:   datePtr(2024, time.March, 11),
	}
	now := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	classification := ClassifyOverdue(request, models.ValidationPolicy{}, nil, now)
	require.Equal(t, models.BandOnTime, classification.Band)
	require.Equal(t, request.TargetCompletionDate, classification.EffectiveDueDate)
}

func TestClassifyOverdueTerminalAndHeldAreOnTime(t *testing.T) {
	request := &models.ValidationRequest{
		Status:            models.StatusApproved,
		SubmissionDueDate: datePtr(2020, time.January, 1),
	}
	now := time.Now().UTC()
	require.Equal(t, models.BandOnTime, ClassifyOverdue(request, models.ValidationPolicy{}, nil, now).Band)

	request.Status = models.StatusOnHold
	require.Equal(t, models.BandOnTime, ClassifyOverdue(request, models.ValidationPolicy{}, nil, now).Band)
}

func TestMostConservativePolicyTakesMaxima(t *testing.T) {
	folded := mostConservativePolicy([]models.ValidationPolicy{
		{FrequencyMonths: 12, GracePeriodMonths: 1, ModelChangeLeadTimeDays: 30},
		{FrequencyMonths: 24, GracePeriodMonths: 3, ModelChangeLeadTimeDays: 10},
	})
	require.Equal(t, 24, folded.FrequencyMonths)
	require.Equal(t, 3, folded.GracePeriodMonths)
	require.Equal(t, 30, folded.ModelChangeLeadTimeDays)
}
