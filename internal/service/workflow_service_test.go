package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/repository"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

func transitionTo(requestID string, from, to models.RequestStatus, completion *time.Time) repository.TransitionParams {
	return repository.TransitionParams{
		RequestID: requestID,
		From:      from,
		To:        to,
		Reason:    "test transition",
		Updates:   repository.RequestUpdates{CompletionDate: completion},
	}
}

func workflowFixture() (*WorkflowService, *requestStoreStub, *modelStateStub, *policyProviderStub, *auditStub) {
	requests := newRequestStoreStub()
	modelState := newModelStateStub()
	policies := newPolicyProviderStub()
	audit := &auditStub{}

	modelState.models["model-1"] = &models.Model{ID: "model-1", RiskTier: "HIGH"}
	policies.policies["HIGH"] = models.ValidationPolicy{
		FrequencyMonths: 12, GracePeriodMonths: 3, ModelChangeLeadTimeDays: 30,
	}
	policies.regions["US"] = models.Region{Code: "US", RequiresRegionalApproval: true}
	policies.regions["EU"] = models.Region{Code: "EU"}

	svc := NewWorkflowService(requests, modelState, policies, audit, nil)
	return svc, requests, modelState, policies, audit
}

func workflowActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleValidator}
}

func seedRequest(requests *requestStoreStub, status models.RequestStatus) *models.ValidationRequest {
	request := &models.ValidationRequest{
		ID:                "req-seeded",
		Status:            status,
		ValidationType:    models.ValidationTypeComprehensive,
		VersionSource:     models.VersionSourceExplicit,
		SubmissionDueDate: datePtr(2025, time.June, 1),
		CreatedBy:         "user-1",
		ModelIDs:          []string{"model-1"},
		Regions:           []string{"US"},
	}
	requests.requests[request.ID] = request
	return request
}

func TestWorkflowCreateComputesDueDatesFromPrior(t *testing.T) {
	svc, requests, _, _, audit := workflowFixture()

	prior := &models.ValidationRequest{
		ID:             "prior-1",
		Status:         models.StatusApproved,
		ValidationType: models.ValidationTypeComprehensive,
		CompletionDate: datePtr(2024, time.January, 10),
	}
	requests.requests[prior.ID] = prior
	requests.priors["model-1"] = prior

	created, err := svc.Create(context.Background(), dto.CreateValidationRequest{
		ValidationType: models.ValidationTypeComprehensive,
		ModelIDs:       []string{"model-1"},
		Regions:        []string{"US"},
	}, workflowActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, created.Status)
	require.Equal(t, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC), *created.SubmissionDueDate)
	require.Equal(t, time.Date(2025, time.February, 9, 0, 0, 0, 0, time.UTC), *created.TargetCompletionDate)
	require.Len(t, audit.logs, 1)
}

func TestWorkflowCreateWalksPastTargetedPriors(t *testing.T) {
	svc, requests, _, _, _ := workflowFixture()

	comprehensive := &models.ValidationRequest{
		ID:             "prior-comp",
		Status:         models.StatusApproved,
		ValidationType: models.ValidationTypeComprehensive,
		CompletionDate: datePtr(2024, time.March, 1),
	}
	targeted := &models.ValidationRequest{
		ID:             "prior-targeted",
		Status:         models.StatusApproved,
		ValidationType: models.ValidationTypeTargeted,
		CompletionDate: datePtr(2024, time.September, 1),
		PriorRequestID: &comprehensive.ID,
	}
	requests.requests[comprehensive.ID] = comprehensive
	requests.requests[targeted.ID] = targeted

	created, err := svc.Create(context.Background(), dto.CreateValidationRequest{
		ValidationType: models.ValidationTypeComprehensive,
		ModelIDs:       []string{"model-1"},
		PriorRequestID: targeted.ID,
	}, workflowActor())
	require.NoError(t, err)
	// Anchored on the comprehensive prior, not the targeted one.
	require.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), *created.SubmissionDueDate)
}

func TestWorkflowCreatePolicyMissingBlocks(t *testing.T) {
	svc, _, modelState, _, _ := workflowFixture()
	modelState.models["model-2"] = &models.Model{ID: "model-2", RiskTier: "UNCONFIGURED"}

	_, err := svc.Create(context.Background(), dto.CreateValidationRequest{
		ValidationType: models.ValidationTypeInitial,
		ModelIDs:       []string{"model-2"},
	}, workflowActor())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPolicyMissing.Code, appErrors.FromError(err).Code)
}

func TestWorkflowSubmitFromDraft(t *testing.T) {
	svc, requests, _, _, _ := workflowFixture()
	seedRequest(requests, models.StatusDraft)

	updated, err := svc.Submit(context.Background(), "req-seeded", dto.SubmitRequest{}, workflowActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, updated.Status)
	require.Len(t, requests.history["req-seeded"], 1)
}

func TestWorkflowSubmitRejectsIllegalState(t *testing.T) {
	svc, requests, _, _, _ := workflowFixture()
	seedRequest(requests, models.StatusInProgress)

	_, err := svc.Submit(context.Background(), "req-seeded", dto.SubmitRequest{}, workflowActor())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestWorkflowSubmitRequiresStandaloneRating(t *testing.T) {
	svc, requests, modelState, policies, _ := workflowFixture()
	policies.regions["APAC"] = models.Region{Code: "APAC", RequiresStandaloneRating: true}
	request := seedRequest(requests, models.StatusDraft)
	request.Regions = []string{"APAC"}

	_, err := svc.Submit(context.Background(), "req-seeded", dto.SubmitRequest{}, workflowActor())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrStandaloneRating.Code, appErrors.FromError(err).Code)

	modelState.ratings["model-1:APAC"] = true
	updated, err := svc.Submit(context.Background(), "req-seeded", dto.SubmitRequest{}, workflowActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, updated.Status)
}

func TestWorkflowReceiveSetsReceivedDateOnce(t *testing.T) {
	svc, requests, _, _, _ := workflowFixture()
	seedRequest(requests, models.StatusSubmitted)

	updated, err := svc.ReceiveSubmission(context.Background(), "req-seeded", dto.TransitionRequest{}, workflowActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmissionReceived, updated.Status)
	require.NotNil(t, updated.SubmissionReceivedDate)
}

func TestWorkflowSendBackRecordsSnapshot(t *testing.T) {
	svc, requests, _, _, _ := workflowFixture()
	seedRequest(requests, models.StatusPendingApproval)

	updated, err := svc.SendBack(context.Background(), "req-seeded", dto.SendBackRequest{
		ReviewerComment: "methodology section incomplete",
		Snapshot:        map[string]any{"section": "methodology"},
	}, workflowActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusSentBack, updated.Status)

	history := requests.history["req-seeded"]
	require.Len(t, history, 1)
	var sendBack models.SendBackContext
	require.NoError(t, json.Unmarshal(history[0].AdditionalContext, &sendBack))
	require.Equal(t, models.ContextKindSendBack, sendBack.Kind)
	require.Equal(t, "methodology section incomplete", sendBack.ReviewerComment)
	require.Equal(t, "methodology", sendBack.Snapshot["section"])
}

func TestWorkflowHoldResumeShiftsDueDate(t *testing.T) {
	base := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	current := base
	requests := newRequestStoreStub()
	modelState := newModelStateStub()
	policies := newPolicyProviderStub()
	modelState.models["model-1"] = &models.Model{ID: "model-1", RiskTier: "HIGH"}
	policies.policies["HIGH"] = models.ValidationPolicy{FrequencyMonths: 12}
	policies.regions["US"] = models.Region{Code: "US"}
	svc := NewWorkflowService(requests, modelState, policies, nil, nil,
		WithWorkflowClock(func() time.Time { return current }))

	request := seedRequest(requests, models.StatusSubmitted)
	request.TargetCompletionDate = datePtr(2025, time.August, 1)
	originalDue := *request.SubmissionDueDate
	originalTarget := *request.TargetCompletionDate

	held, err := svc.Hold(context.Background(), "req-seeded", dto.HoldRequest{Reason: "vendor outage"}, workflowActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusOnHold, held.Status)
	require.NotNil(t, held.HoldStartDate)
	require.Equal(t, originalDue, *held.OriginalDueDate)

	// Ten days on hold.
	current = base.Add(10 * 24 * time.Hour)
	resumed, err := svc.Resume(context.Background(), "req-seeded", workflowActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, resumed.Status)
	require.Nil(t, resumed.HoldStartDate)
	require.Equal(t, 1, resumed.PostponementCount)
	require.Equal(t, originalDue.Add(10*24*time.Hour), *resumed.PostponedDueDate)
	require.Equal(t, originalTarget.Add(10*24*time.Hour), *resumed.TargetCompletionDate)
}

func TestWorkflowInProgressHoldShiftsTargetCompletion(t *testing.T) {
	base := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	current := base
	requests := newRequestStoreStub()
	modelState := newModelStateStub()
	policies := newPolicyProviderStub()
	modelState.models["model-1"] = &models.Model{ID: "model-1", RiskTier: "HIGH"}
	policies.policies["HIGH"] = models.ValidationPolicy{FrequencyMonths: 12}
	policies.regions["US"] = models.Region{Code: "US"}
	svc := NewWorkflowService(requests, modelState, policies, nil, nil,
		WithWorkflowClock(func() time.Time { return current }))

	request := seedRequest(requests, models.StatusInProgress)
	received := base.AddDate(0, 0, -7)
	request.SubmissionReceivedDate = &received
	request.TargetCompletionDate = datePtr(2025, time.August, 1)
	originalTarget := *request.TargetCompletionDate

	_, err := svc.Hold(context.Background(), "req-seeded", dto.HoldRequest{Reason: "scope change"}, workflowActor())
	require.NoError(t, err)

	// Five days on hold.
	current = base.Add(5 * 24 * time.Hour)
	resumed, err := svc.Resume(context.Background(), "req-seeded", workflowActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, resumed.Status)
	require.Equal(t, originalTarget.Add(5*24*time.Hour), *resumed.TargetCompletionDate)
	// The held time extends the target completion date directly; no
	// submission-phase postponement is recorded.
	require.Nil(t, resumed.PostponedDueDate)
}

func TestWorkflowResumeRequiresHoldContext(t *testing.T) {
	svc, requests, _, _, _ := workflowFixture()
	seedRequest(requests, models.StatusOnHold)

	_, err := svc.Resume(context.Background(), "req-seeded", workflowActor())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestWorkflowCancelFromTerminalRejected(t *testing.T) {
	svc, requests, _, _, _ := workflowFixture()
	seedRequest(requests, models.StatusApproved)

	_, err := svc.Cancel(context.Background(), "req-seeded", dto.TransitionRequest{}, workflowActor())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestWorkflowCompletionDateImmutable(t *testing.T) {
	_, requests, _, _, _ := workflowFixture()
	request := seedRequest(requests, models.StatusPendingApproval)

	first := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, requests.Transition(context.Background(), transitionTo(request.ID,
		models.StatusPendingApproval, models.StatusApproved, &first)))

	stored := requests.requests[request.ID]
	require.Equal(t, first, *stored.CompletionDate)

	// A later write must not alter the stored completion date.
	stored.Status = models.StatusPendingApproval
	second := first.Add(48 * time.Hour)
	require.NoError(t, requests.Transition(context.Background(), transitionTo(request.ID,
		models.StatusPendingApproval, models.StatusApproved, &second)))
	require.Equal(t, first, *requests.requests[request.ID].CompletionDate)
}
