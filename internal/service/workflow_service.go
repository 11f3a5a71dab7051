package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/repository"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, request *models.ValidationRequest) error
	GetByID(ctx context.Context, id string) (*models.ValidationRequest, error)
	List(ctx context.Context, filter models.ValidationRequestFilter) ([]models.ValidationRequest, int, error)
	Transition(ctx context.Context, params repository.TransitionParams) error
	History(ctx context.Context, requestID string) ([]models.RequestStatusHistory, error)
	LatestPriorOf(ctx context.Context, modelID string) (*models.ValidationRequest, error)
	SetDueDates(ctx context.Context, id string, submissionDue, targetCompletion time.Time) error
}

type modelStateReader interface {
	GetModel(ctx context.Context, id string) (*models.Model, error)
	HasStandaloneRating(ctx context.Context, modelID, regionCode string) (bool, error)
}

type policyProvider interface {
	GetPolicy(ctx context.Context, riskTier string) (*models.ValidationPolicy, error)
	RegionsFor(ctx context.Context, codes []string) ([]models.Region, error)
	GraceBuckets(ctx context.Context) ([]models.GraceBucket, error)
}

// WorkflowService drives the validation request lifecycle: creation, the
// legal-transition graph, hold/resume clock shifting, and send-back reverts.
type WorkflowService struct {
	requests      requestStore
	modelState    modelStateReader
	policies      policyProvider
	audit         auditLogger
	logger        *zap.Logger
	now           func() time.Time
	priorMaxDepth int
}

// WorkflowServiceOption configures the service.
type WorkflowServiceOption func(*WorkflowService)

// WithWorkflowClock overrides the wall clock, used by tests.
func WithWorkflowClock(now func() time.Time) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPriorChainMaxDepth caps prior-validation chain traversal.
func WithPriorChainMaxDepth(depth int) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if depth > 0 {
			s.priorMaxDepth = depth
		}
	}
}

// NewWorkflowService constructs the service with defaults.
func NewWorkflowService(requests requestStore, modelState modelStateReader, policies policyProvider,
	audit auditLogger, logger *zap.Logger, opts ...WorkflowServiceOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &WorkflowService{
		requests:      requests,
		modelState:    modelState,
		policies:      policies,
		audit:         audit,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		priorMaxDepth: 25,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create opens a request in DRAFT and computes its due dates from the prior
// validation chain and the tier policies of every constituent model.
func (s *WorkflowService) Create(ctx context.Context, req dto.CreateValidationRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	versionSource := req.VersionSource
	if versionSource == "" {
		versionSource = models.VersionSourceInferred
	}
	request := &models.ValidationRequest{
		Status:         models.StatusDraft,
		ValidationType: req.ValidationType,
		VersionSource:  versionSource,
		CreatedBy:      actor.UserID,
		ModelIDs:       req.ModelIDs,
		Regions:        req.Regions,
	}
	if req.PriorRequestID != "" {
		request.PriorRequestID = &req.PriorRequestID
	}

	policy, err := s.conservativePolicy(ctx, req.ModelIDs)
	if err != nil {
		return nil, err
	}
	if _, err := s.policies.RegionsFor(ctx, req.Regions); err != nil {
		return nil, err
	}

	submissionDue, err := s.submissionDueDate(ctx, request, policy)
	if err != nil {
		return nil, err
	}
	request.SubmissionDueDate = &submissionDue
	target := submissionDue.AddDate(0, 0, policy.ModelChangeLeadTimeDays)
	request.TargetCompletionDate = &target

	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create validation request")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionRequestCreate,
		Resource:   "validation_request",
		ResourceID: &request.ID,
	})
	return request, nil
}

// conservativePolicy folds each model's tier policy into the strictest one.
// A model whose tier has no policy blocks the request (PolicyMissing).
func (s *WorkflowService) conservativePolicy(ctx context.Context, modelIDs []string) (models.ValidationPolicy, error) {
	return resolveConservativePolicy(ctx, s.modelState, s.policies, modelIDs)
}

// submissionDueDate anchors the due date on the prior validation chain,
// walking past targeted/change validations that do not reset the clock. The
// walk is iterative with a visited set so corrupted links cannot loop.
func (s *WorkflowService) submissionDueDate(ctx context.Context, request *models.ValidationRequest, policy models.ValidationPolicy) (time.Time, error) {
	prior, err := s.resolvePrior(ctx, request)
	if err != nil {
		return time.Time{}, err
	}

	visited := map[string]bool{}
	for depth := 0; prior != nil && depth < s.priorMaxDepth; depth++ {
		if visited[prior.ID] {
			s.logger.Warn("prior validation chain contains a cycle", zap.String("request_id", prior.ID))
			break
		}
		visited[prior.ID] = true
		if due := ComputeSubmissionDueDate(prior, policy); due != nil {
			return *due, nil
		}
		if prior.PriorRequestID == nil {
			break
		}
		next, err := s.requests.GetByID(ctx, *prior.PriorRequestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to walk prior chain")
		}
		prior = next
	}

	// No clock-resetting prior exists (initial validations, or a chain of
	// targeted reviews); anchor on now.
	return s.now().AddDate(0, policy.FrequencyMonths, 0), nil
}

func (s *WorkflowService) resolvePrior(ctx context.Context, request *models.ValidationRequest) (*models.ValidationRequest, error) {
	if request.PriorRequestID != nil {
		prior, err := s.requests.GetByID(ctx, *request.PriorRequestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "prior request not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prior request")
		}
		return prior, nil
	}
	for _, modelID := range request.ModelIDs {
		prior, err := s.requests.LatestPriorOf(ctx, modelID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up prior validation")
		}
		return prior, nil
	}
	return nil, nil
}

// Get returns one request.
func (s *WorkflowService) Get(ctx context.Context, id string) (*models.ValidationRequest, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation request")
	}
	return request, nil
}

// List returns requests matching the query.
func (s *WorkflowService) List(ctx context.Context, query dto.ValidationRequestQuery) ([]models.ValidationRequest, int, error) {
	filter := models.ValidationRequestFilter{
		Status:         query.Status,
		ValidationType: query.ValidationType,
		ModelID:        query.ModelID,
		Region:         query.Region,
		Page:           query.Page,
		PageSize:       query.PageSize,
	}
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list validation requests")
	}
	return requests, total, nil
}

// History returns the append-only transition ledger.
func (s *WorkflowService) History(ctx context.Context, id string) ([]models.RequestStatusHistory, error) {
	history, err := s.requests.History(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status history")
	}
	return history, nil
}

// Submit moves a draft to SUBMITTED. Preconditions: the due date has been
// computed, every tier in scope has a policy, and every model carries a
// standalone rating for regions that demand one.
func (s *WorkflowService) Submit(ctx context.Context, id string, req dto.SubmitRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(request.Status, models.StatusSubmitted); err != nil {
		return nil, err
	}
	if request.SubmissionDueDate == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "submission due date has not been computed")
	}
	if _, err := s.conservativePolicy(ctx, request.ModelIDs); err != nil {
		return nil, err
	}
	if err := s.checkStandaloneRatings(ctx, request); err != nil {
		return nil, err
	}

	reason := req.Note
	if reason == "" {
		reason = "submitted for validation"
	}
	return s.applySimple(ctx, request, models.StatusSubmitted, reason, actor, repository.RequestUpdates{})
}

// checkStandaloneRatings enforces the region-specific risk assessment gate
// for regions flagged requires_standalone_rating.
func (s *WorkflowService) checkStandaloneRatings(ctx context.Context, request *models.ValidationRequest) error {
	regions, err := s.policies.RegionsFor(ctx, request.Regions)
	if err != nil {
		return err
	}
	for _, region := range regions {
		if !region.RequiresStandaloneRating {
			continue
		}
		for _, modelID := range request.ModelIDs {
			ok, err := s.modelState.HasStandaloneRating(ctx, modelID, region.Code)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check standalone rating")
			}
			if !ok {
				return appErrors.Clone(appErrors.ErrStandaloneRating,
					"model "+modelID+" lacks a standalone rating for region "+region.Code)
			}
		}
	}
	return nil
}

// ReceiveSubmission records that documentation actually arrived, a separate
// event from the submit action itself.
func (s *WorkflowService) ReceiveSubmission(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(request.Status, models.StatusSubmissionReceived); err != nil {
		return nil, err
	}
	updates := repository.RequestUpdates{}
	if request.SubmissionReceivedDate == nil {
		received := s.now()
		updates.SubmissionReceivedDate = &received
	}
	reason := req.Reason
	if reason == "" {
		reason = "submission documentation received"
	}
	return s.applySimple(ctx, request, models.StatusSubmissionReceived, reason, actor, updates)
}

// Start moves a received submission into active validation work.
func (s *WorkflowService) Start(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	return s.simpleTransition(ctx, id, models.StatusInProgress, req.Reason, "validation started", actor)
}

// RequestApproval moves in-progress work to PENDING_APPROVAL.
func (s *WorkflowService) RequestApproval(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	return s.simpleTransition(ctx, id, models.StatusPendingApproval, req.Reason, "approval requested", actor)
}

// Reject is a terminal disposition from PENDING_APPROVAL.
func (s *WorkflowService) Reject(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	return s.simpleTransition(ctx, id, models.StatusRejected, req.Reason, "rejected by approver", actor)
}

// Cancel is a terminal disposition from any non-terminal state.
func (s *WorkflowService) Cancel(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	return s.simpleTransition(ctx, id, models.StatusCancelled, req.Reason, "cancelled", actor)
}

func (s *WorkflowService) simpleTransition(ctx context.Context, id string, to models.RequestStatus,
	reason, defaultReason string, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(request.Status, to); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = defaultReason
	}
	return s.applySimple(ctx, request, to, reason, actor, repository.RequestUpdates{})
}

// SendBack reverts a pending-approval request for revision. The reviewer
// comment and the reverted work-product snapshot go into the history row's
// additional_context for later audit and restoration.
func (s *WorkflowService) SendBack(ctx context.Context, id string, req dto.SendBackRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(request.Status, models.StatusSentBack); err != nil {
		return nil, err
	}
	if req.ReturnTo != "" &&
		req.ReturnTo != models.StatusSubmissionReceived && req.ReturnTo != models.StatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrValidation, "returnTo must be SUBMISSION_RECEIVED or IN_PROGRESS")
	}
	payload, err := json.Marshal(models.SendBackContext{
		Kind:            models.ContextKindSendBack,
		ReviewerComment: req.ReviewerComment,
		Snapshot:        req.Snapshot,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode send-back context")
	}
	return s.apply(ctx, request, models.StatusSentBack, "sent back: "+req.ReviewerComment,
		actor, payload, repository.RequestUpdates{})
}

// ResumeRevision moves a sent-back request back into the working state the
// reviewer selected.
func (s *WorkflowService) ResumeRevision(ctx context.Context, id string, target models.RequestStatus, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	if target != models.StatusSubmissionReceived && target != models.StatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrValidation, "revision target must be SUBMISSION_RECEIVED or IN_PROGRESS")
	}
	return s.simpleTransition(ctx, id, target, "", "revision resumed", actor)
}

// Hold freezes a request and its due-date clocks. The previous status and the
// due date in force are captured in the hold context so Resume can restore
// them.
func (s *WorkflowService) Hold(ctx context.Context, id string, req dto.HoldRequest, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(request.Status, models.StatusOnHold); err != nil {
		return nil, err
	}
	now := s.now()
	due, _ := effectiveDueDate(request)
	payload, err := json.Marshal(models.HoldContext{
		Kind:            models.ContextKindHold,
		PreviousStatus:  request.Status,
		Reason:          req.Reason,
		HoldStartDate:   now,
		OriginalDueDate: due,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode hold context")
	}
	updates := repository.RequestUpdates{HoldStartDate: &now}
	if due != nil {
		updates.OriginalDueDate = due
	}
	return s.apply(ctx, request, models.StatusOnHold, "placed on hold: "+req.Reason, actor, payload, updates)
}

// Resume lifts a hold, returning the request to the status recorded when the
// hold was placed and shifting deadlines forward by the held duration. The
// postponement count and the new due date move in the same transaction so a
// crash cannot leave one without the other.
func (s *WorkflowService) Resume(ctx context.Context, id string, actor *models.JWTClaims) (*models.ValidationRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.StatusOnHold {
		return nil, appErrors.InvalidTransition(string(request.Status), "resume")
	}
	holdCtx, err := s.latestHoldContext(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	held := now.Sub(holdCtx.HoldStartDate)
	updates := repository.RequestUpdates{ClearHold: true, IncrementPostponement: true}
	var postponed *time.Time
	if request.SubmissionReceivedDate == nil && holdCtx.OriginalDueDate != nil {
		shifted := holdCtx.OriginalDueDate.Add(held)
		postponed = &shifted
		updates.PostponedDueDate = postponed
	}
	// The held duration pushes every downstream deadline, so the target
	// completion date moves too regardless of which phase the hold froze.
	if request.TargetCompletionDate != nil {
		shiftedTarget := request.TargetCompletionDate.Add(held)
		updates.TargetCompletionDate = &shiftedTarget
		if postponed == nil {
			postponed = &shiftedTarget
		}
	}
	payload, err := json.Marshal(models.ResumeContext{
		Kind:             models.ContextKindResume,
		HeldFor:          held.String(),
		PostponedDueDate: postponed,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode resume context")
	}
	return s.apply(ctx, request, holdCtx.PreviousStatus, "resumed from hold", actor, payload, updates)
}

// latestHoldContext finds the hold context of the most recent transition into
// ON_HOLD.
func (s *WorkflowService) latestHoldContext(ctx context.Context, id string) (*models.HoldContext, error) {
	history, err := s.requests.History(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status history")
	}
	for _, row := range history {
		if row.ToStatus != models.StatusOnHold {
			continue
		}
		var holdCtx models.HoldContext
		if err := json.Unmarshal(row.AdditionalContext, &holdCtx); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode hold context")
		}
		return &holdCtx, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "request is on hold but no hold context was recorded")
}

func (s *WorkflowService) applySimple(ctx context.Context, request *models.ValidationRequest,
	to models.RequestStatus, reason string, actor *models.JWTClaims, updates repository.RequestUpdates) (*models.ValidationRequest, error) {
	return s.apply(ctx, request, to, reason, actor, nil, updates)
}

func (s *WorkflowService) apply(ctx context.Context, request *models.ValidationRequest,
	to models.RequestStatus, reason string, actor *models.JWTClaims,
	additionalContext []byte, updates repository.RequestUpdates) (*models.ValidationRequest, error) {
	var actorID *string
	if actor != nil {
		actorID = &actor.UserID
	}
	params := repository.TransitionParams{
		RequestID:         request.ID,
		From:              request.Status,
		To:                to,
		ActorID:           actorID,
		Reason:            reason,
		AdditionalContext: additionalContext,
		Updates:           updates,
	}
	if err := s.requests.Transition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was modified concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
	}
	updated, err := s.Get(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     actorID,
		Action:     models.AuditActionRequestTransition,
		Resource:   "validation_request",
		ResourceID: &request.ID,
		OldValues:  []byte(`{"status":"` + string(request.Status) + `"}`),
		NewValues:  []byte(`{"status":"` + string(to) + `"}`),
	})
	return updated, nil
}

func (s *WorkflowService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "workflow-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
