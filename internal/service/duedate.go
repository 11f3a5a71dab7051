package service

import (
	"time"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

// hoursPerDay for elapsed-day math; due dates are date-valued so partial days
// round down.
const hoursPerDay = 24

// ComputeSubmissionDueDate derives the next submission due date from the
// prior validation and the tier policy. Completion date plus frequency when
// known; last-updated timestamp is the documented fallback for legacy records
// that never had completion_date backfilled. Returns nil when the prior
// validation does not reset the revalidation clock.
func ComputeSubmissionDueDate(prior *models.ValidationRequest, policy models.ValidationPolicy) *time.Time {
	if prior == nil || !prior.ValidationType.ResetsRevalidationClock() {
		return nil
	}
	anchor := prior.UpdatedAt
	if prior.CompletionDate != nil {
		anchor = *prior.CompletionDate
	}
	due := anchor.AddDate(0, policy.FrequencyMonths, 0)
	return &due
}

// effectiveDueDate picks the deadline the clock is currently running against.
// Before the submission is received the submission due date governs, with a
// postponement from a hold/resume cycle superseding it. Once the submission is
// in, the target completion date governs; a pre-submission postponement never
// carries over, since Resume shifts the target completion date itself.
func effectiveDueDate(request *models.ValidationRequest) (*time.Time, models.OverdueType) {
	if request.SubmissionReceivedDate == nil {
		due := request.SubmissionDueDate
		if request.PostponedDueDate != nil {
			due = request.PostponedDueDate
		}
		return due, models.OverduePreSubmission
	}
	return request.TargetCompletionDate, models.OverdueValidationInProgress
}

// ClassifyOverdue bands a request against its effective due date extended by
// the tier's grace period. Inside grace the request is overdue but carries no
// downgrade; past grace it picks up notches from the bucket matching elapsed
// days past due.
func ClassifyOverdue(request *models.ValidationRequest, policy models.ValidationPolicy,
	buckets []models.GraceBucket, now time.Time) models.OverdueClassification {
	if request == nil || request.Status.Terminal() || request.Status == models.StatusOnHold {
		return models.OverdueClassification{Band: models.BandOnTime}
	}

	due, overdueKind := effectiveDueDate(request)
	if due == nil || !now.After(*due) {
		return models.OverdueClassification{Band: models.BandOnTime, EffectiveDueDate: due}
	}

	daysPastDue := int(now.Sub(*due).Hours() / hoursPerDay)
	graceEnd := due.AddDate(0, policy.GracePeriodMonths, 0)
	withinGrace := !now.After(graceEnd)

	band := models.BandPreSubmissionOverdue
	if overdueKind == models.OverdueValidationInProgress {
		band = models.BandValidationInProgressOverdue
	}

	classification := models.OverdueClassification{
		Band:             band,
		DaysPastDue:      daysPastDue,
		WithinGrace:      withinGrace,
		PastGrace:        !withinGrace,
		EffectiveDueDate: due,
	}
	if !withinGrace {
		classification.DowngradeNotches = notchesFor(buckets, daysPastDue)
	}
	return classification
}

// notchesFor picks the downgrade for the bucket whose day band contains
// daysPastDue. Buckets with a nil max are open-ended.
func notchesFor(buckets []models.GraceBucket, daysPastDue int) int {
	for _, bucket := range buckets {
		if daysPastDue < bucket.MinDaysPastDue {
			continue
		}
		if bucket.MaxDaysPastDue != nil && daysPastDue > *bucket.MaxDaysPastDue {
			continue
		}
		return bucket.DowngradeNotches
	}
	return 0
}

// OverdueTypeFor maps a classification band to the comment overdue type.
func OverdueTypeFor(band models.OverdueBand) (models.OverdueType, bool) {
	switch band {
	case models.BandPreSubmissionOverdue:
		return models.OverduePreSubmission, true
	case models.BandValidationInProgressOverdue:
		return models.OverdueValidationInProgress, true
	}
	return "", false
}

// mostConservativePolicy folds per-model policies into the strictest single
// policy for a multi-model request: maximum frequency, grace, and lead time.
func mostConservativePolicy(policies []models.ValidationPolicy) models.ValidationPolicy {
	var out models.ValidationPolicy
	for _, policy := range policies {
		if policy.FrequencyMonths > out.FrequencyMonths {
			out.FrequencyMonths = policy.FrequencyMonths
		}
		if policy.GracePeriodMonths > out.GracePeriodMonths {
			out.GracePeriodMonths = policy.GracePeriodMonths
		}
		if policy.ModelChangeLeadTimeDays > out.ModelChangeLeadTimeDays {
			out.ModelChangeLeadTimeDays = policy.ModelChangeLeadTimeDays
		}
	}
	return out
}
