package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

func exceptionFixture() (*ExceptionService, *exceptionStoreStub, *modelStateStub, *requestStoreStub) {
	exceptions := &exceptionStoreStub{}
	scanner := newModelStateStub()
	requests := newRequestStoreStub()
	svc := NewExceptionService(exceptions, scanner, requests, nil, nil)
	return svc, exceptions, scanner, requests
}

func redRun(modelID, metric string, length int, latest time.Time) []models.MonitoringOutcome {
	outcomes := make([]models.MonitoringOutcome, 0, length)
	for i := 0; i < length; i++ {
		outcomes = append(outcomes, models.MonitoringOutcome{
			ID:      fmt.Sprintf("%s-%d", metric, i),
			ModelID: modelID,
			Metric:  metric,
			Outcome: models.OutcomeRed,
			RunDate: latest.AddDate(0, -i, 0),
		})
	}
	return outcomes
}

func TestDetectType1OpensOnPersistentRedRun(t *testing.T) {
	svc, exceptions, scanner, _ := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	scanner.outcomes["model-1"] = redRun("model-1", "ks_statistic", 3,
		time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))

	result := svc.DetectModel(context.Background(), "model-1")
	require.Empty(t, result.Err)
	require.Equal(t, 1, result.Opened)

	require.Len(t, exceptions.exceptions, 1)
	exc := exceptions.exceptions[0]
	require.Equal(t, models.ExceptionType1UnmitigatedPerformance, exc.ExceptionType)
	require.Equal(t, "T1:model-1:ks_statistic", exc.NaturalKey)
	require.Equal(t, models.ExceptionOpen, exc.Status)
	require.Contains(t, exc.Code, "EXC-T1-")

	// Rerunning against the same open finding is a no-op.
	result = svc.DetectModel(context.Background(), "model-1")
	require.Equal(t, 0, result.Opened)
	require.Len(t, exceptions.exceptions, 1)
}

func TestDetectType1RunBrokenByRemediation(t *testing.T) {
	svc, exceptions, scanner, _ := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	outcomes := redRun("model-1", "ks_statistic", 3,
		time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))
	outcomes[1].RemediationAccepted = true
	scanner.outcomes["model-1"] = outcomes

	result := svc.DetectModel(context.Background(), "model-1")
	require.Empty(t, result.Err)
	require.Equal(t, 0, result.Opened)
	require.Empty(t, exceptions.exceptions)
}

func TestDetectType1AutoClosesOnImprovement(t *testing.T) {
	svc, exceptions, scanner, _ := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	scanner.outcomes["model-1"] = redRun("model-1", "ks_statistic", 3,
		time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 1, svc.DetectModel(context.Background(), "model-1").Opened)

	// The next run comes back green.
	improved := append([]models.MonitoringOutcome{{
		ModelID: "model-1",
		Metric:  "ks_statistic",
		Outcome: models.OutcomeGreen,
		RunDate: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
	}}, scanner.outcomes["model-1"]...)
	scanner.outcomes["model-1"] = improved

	result := svc.DetectModel(context.Background(), "model-1")
	require.Empty(t, result.Err)
	require.Equal(t, 1, result.Closed)

	exc := exceptions.exceptions[0]
	require.Equal(t, models.ExceptionClosed, exc.Status)
	require.True(t, exc.AutoClosed)
	require.NotNil(t, exc.ClosureReason)
	require.Equal(t, "monitoring result improved above threshold", *exc.ClosureReason)
	require.NotNil(t, exc.ClosureNarrative)
}

func TestDetectType2OpensOutsidePurpose(t *testing.T) {
	svc, exceptions, scanner, _ := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1", IntendedPurpose: "CREDIT_SCORING"}
	scanner.usages["model-1"] = []models.ModelUsage{{
		ID:                    "usage-1",
		ModelID:               "model-1",
		RelationshipDirection: "FEEDS",
		RelationshipType:      "INPUT",
		PurposeClassification: "MARKETING",
		RecordedAt:            time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
	}}

	result := svc.DetectModel(context.Background(), "model-1")
	require.Empty(t, result.Err)
	require.Equal(t, 1, result.Opened)
	require.Equal(t, "T2:model-1:usage-1", exceptions.exceptions[0].NaturalKey)
}

func TestCloseRequiresReasonAndNarrative(t *testing.T) {
	svc, exceptions, scanner, _ := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1", IntendedPurpose: "CREDIT_SCORING"}
	scanner.usages["model-1"] = []models.ModelUsage{{
		ID: "usage-1", ModelID: "model-1", PurposeClassification: "MARKETING",
		RecordedAt: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
	}}
	svc.DetectModel(context.Background(), "model-1")
	actor := &models.JWTClaims{UserID: "val-1", Role: models.RoleValidator}
	id := exceptions.exceptions[0].ID

	_, err := svc.Close(context.Background(), id, dto.CloseExceptionRequest{
		ClosureReason: "usage retired", ClosureNarrative: "   ",
	}, actor)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrClosureRequirement.Code, appErrors.FromError(err).Code)

	closed, err := svc.Close(context.Background(), id, dto.CloseExceptionRequest{
		ClosureReason:    "usage retired",
		ClosureNarrative: "The marketing usage was decommissioned in May.",
	}, actor)
	require.NoError(t, err)
	require.Equal(t, models.ExceptionClosed, closed.Status)
	require.False(t, closed.AutoClosed)
}

func TestManualCloseIsNotReopenedForStaleCondition(t *testing.T) {
	svc, exceptions, scanner, _ := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1", IntendedPurpose: "CREDIT_SCORING"}
	scanner.usages["model-1"] = []models.ModelUsage{{
		ID: "usage-1", ModelID: "model-1", PurposeClassification: "MARKETING",
		RecordedAt: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
	}}
	svc.DetectModel(context.Background(), "model-1")
	actor := &models.JWTClaims{UserID: "val-1", Role: models.RoleValidator}

	_, err := svc.Close(context.Background(), exceptions.exceptions[0].ID, dto.CloseExceptionRequest{
		ClosureReason:    "accepted risk",
		ClosureNarrative: "Risk committee accepted the out-of-purpose usage.",
	}, actor)
	require.NoError(t, err)

	// The usage record has not changed since the close, so detection must
	// not resurrect the finding.
	result := svc.DetectModel(context.Background(), "model-1")
	require.Empty(t, result.Err)
	require.Equal(t, 0, result.Opened)
	require.Len(t, exceptions.exceptions, 1)
}

// racingExceptionStore reports no existing finding on the first key lookup,
// reproducing a second sweep whose freshness check ran before a concurrent
// insert committed.
type racingExceptionStore struct {
	*exceptionStoreStub
	raced bool
}

func (r *racingExceptionStore) LatestByNaturalKey(ctx context.Context, naturalKey string) (*models.ModelException, error) {
	if !r.raced {
		r.raced = true
		return nil, sql.ErrNoRows
	}
	return r.exceptionStoreStub.LatestByNaturalKey(ctx, naturalKey)
}

func TestConcurrentDetectionDoesNotDuplicateOpenException(t *testing.T) {
	store := &racingExceptionStore{exceptionStoreStub: &exceptionStoreStub{}}
	scanner := newModelStateStub()
	requests := newRequestStoreStub()
	svc := NewExceptionService(store, scanner, requests, nil, nil)

	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	scanner.outcomes["model-1"] = redRun("model-1", "ks_statistic", 3,
		time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))

	// The racing sweep already opened the finding.
	store.exceptionStoreStub.exceptions = append(store.exceptionStoreStub.exceptions, &models.ModelException{
		ID:            "exc-racer",
		ModelID:       "model-1",
		ExceptionType: models.ExceptionType1UnmitigatedPerformance,
		NaturalKey:    "T1:model-1:ks_statistic",
		Status:        models.ExceptionOpen,
	})

	result := svc.DetectModel(context.Background(), "model-1")
	require.Empty(t, result.Err)
	require.Equal(t, 0, result.Opened)
	require.Len(t, store.exceptionStoreStub.exceptions, 1)
}

func TestDetectType3OpensAndClosesWithApproval(t *testing.T) {
	svc, exceptions, scanner, requests := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	requestID := "req-1"
	requests.requests[requestID] = &models.ValidationRequest{
		ID:             requestID,
		Status:         models.StatusInProgress,
		ValidationType: models.ValidationTypeComprehensive,
	}
	scanner.versions["model-1"] = []models.ModelVersion{{
		ID:                  "ver-1",
		ModelID:             "model-1",
		VersionLabel:        "2.0",
		InProduction:        true,
		ValidationRequestID: &requestID,
	}}

	result := svc.DetectModel(context.Background(), "model-1")
	require.Empty(t, result.Err)
	require.Equal(t, 1, result.Opened)
	exc := exceptions.exceptions[0]
	require.Equal(t, models.ExceptionType3UsePriorToValidation, exc.ExceptionType)
	require.Equal(t, "T3:model-1:ver-1", exc.NaturalKey)

	requests.requests[requestID].Status = models.StatusApproved
	result = svc.DetectModel(context.Background(), "model-1")
	require.Equal(t, 1, result.Closed)
	require.Equal(t, models.ExceptionClosed, exceptions.exceptions[0].Status)
	require.True(t, exceptions.exceptions[0].AutoClosed)
}

func TestHandleValidationApprovedClosesLinkedType3(t *testing.T) {
	svc, exceptions, scanner, requests := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	requestID := "req-1"
	requests.requests[requestID] = &models.ValidationRequest{
		ID:             requestID,
		Status:         models.StatusInProgress,
		ValidationType: models.ValidationTypeComprehensive,
	}
	scanner.versions["model-1"] = []models.ModelVersion{{
		ID: "ver-1", ModelID: "model-1", InProduction: true, ValidationRequestID: &requestID,
	}}
	svc.DetectModel(context.Background(), "model-1")
	require.Len(t, exceptions.exceptions, 1)

	requests.requests[requestID].Status = models.StatusApproved
	err := svc.HandleValidationApproved(context.Background(), requestID, "appr-9")
	require.NoError(t, err)

	exc := exceptions.exceptions[0]
	require.Equal(t, models.ExceptionClosed, exc.Status)
	require.True(t, exc.AutoClosed)
	require.NotNil(t, exc.ClosingApprovalID)
	require.Equal(t, "appr-9", *exc.ClosingApprovalID)

	// Idempotent on a second delivery.
	require.NoError(t, svc.HandleValidationApproved(context.Background(), requestID, "appr-9"))
}

func TestHandleValidationApprovedSkipsTargeted(t *testing.T) {
	svc, exceptions, scanner, requests := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	requestID := "req-1"
	requests.requests[requestID] = &models.ValidationRequest{
		ID:             requestID,
		Status:         models.StatusApproved,
		ValidationType: models.ValidationTypeTargeted,
	}
	exceptions.exceptions = append(exceptions.exceptions, &models.ModelException{
		ID: "exc-1", ModelID: "model-1",
		ExceptionType:       models.ExceptionType3UsePriorToValidation,
		Status:              models.ExceptionOpen,
		ValidationRequestID: &requestID,
	})

	require.NoError(t, svc.HandleValidationApproved(context.Background(), requestID, "appr-9"))
	require.Equal(t, models.ExceptionOpen, exceptions.exceptions[0].Status)
}

func TestAcknowledgeThenClose(t *testing.T) {
	svc, exceptions, scanner, _ := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	scanner.outcomes["model-1"] = redRun("model-1", "psi", 3,
		time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))
	svc.DetectModel(context.Background(), "model-1")
	actor := &models.JWTClaims{UserID: "val-1", Role: models.RoleValidator}
	id := exceptions.exceptions[0].ID

	acked, err := svc.Acknowledge(context.Background(), id, dto.AcknowledgeExceptionRequest{Note: "under review"}, actor)
	require.NoError(t, err)
	require.Equal(t, models.ExceptionAcknowledged, acked.Status)

	// Acknowledging twice conflicts.
	_, err = svc.Acknowledge(context.Background(), id, dto.AcknowledgeExceptionRequest{}, actor)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	closed, err := svc.Close(context.Background(), id, dto.CloseExceptionRequest{
		ClosureReason:    "performance restored",
		ClosureNarrative: "June scorecard back in the green band after recalibration.",
	}, actor)
	require.NoError(t, err)
	require.Equal(t, models.ExceptionClosed, closed.Status)
}

func TestDetectAllIsolatesModelFailures(t *testing.T) {
	svc, _, scanner, _ := exceptionFixture()
	scanner.models["model-1"] = &models.Model{ID: "model-1"}
	// model-2 has usage data but no model record, so its sweep fails.
	scanner.usages["model-2"] = []models.ModelUsage{{ID: "usage-2", ModelID: "model-2", PurposeClassification: "MARKETING"}}
	scanner.ids = []string{"model-1", "model-2"}

	response, err := svc.DetectAll(context.Background(), dto.DetectRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, response.Requested)
	require.Equal(t, 1, response.Succeeded)
	require.Equal(t, 1, response.Failed)
	require.Len(t, response.Results, 2)
	require.NotEmpty(t, response.Results[1].Err)
}

func TestDetectAllBoundsSweep(t *testing.T) {
	exceptions := &exceptionStoreStub{}
	scanner := newModelStateStub()
	requests := newRequestStoreStub()
	svc := NewExceptionService(exceptions, scanner, requests, nil, nil, WithMaxSweepModels(2))
	for _, id := range []string{"model-1", "model-2", "model-3"} {
		scanner.models[id] = &models.Model{ID: id}
		scanner.ids = append(scanner.ids, id)
	}

	response, err := svc.DetectAll(context.Background(), dto.DetectRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, response.Requested)
	require.Len(t, response.Results, 2)
}
