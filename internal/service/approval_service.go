package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/repository"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

type approvalStore interface {
	GetByID(ctx context.Context, id string) (*models.ValidationApproval, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.ValidationApproval, error)
	RecordApproval(ctx context.Context, approval *models.ValidationApproval,
		decide func(approvals []models.ValidationApproval) (*repository.CompletionUpdate, error)) error
	FinalizeConditional(ctx context.Context, approvalID, approverID string, representedRegion *string,
		approvedAt time.Time, decide func(approvals []models.ValidationApproval) (*repository.CompletionUpdate, error)) (*models.ValidationApproval, error)
}

type requestReader interface {
	GetByID(ctx context.Context, id string) (*models.ValidationRequest, error)
}

// ApprovalObserver is notified after a request reaches APPROVED through an
// approval action. The exception engine uses it to auto-close Type 3
// exceptions linked to the request.
type ApprovalObserver interface {
	HandleValidationApproved(ctx context.Context, requestID, approvalID string) error
}

// ApprovalService records Global/Regional/Conditional sign-offs and applies
// the completion transition when the aggregate is satisfied. Satisfaction is
// re-evaluated inside the approval transaction so racing approvals cannot
// both complete the request.
type ApprovalService struct {
	approvals approvalStore
	requests  requestReader
	policies  policyProvider
	audit     auditLogger
	observer  ApprovalObserver
	logger    *zap.Logger
	now       func() time.Time
}

// ApprovalServiceOption configures the service.
type ApprovalServiceOption func(*ApprovalService)

// WithApprovalObserver registers the post-approval hook.
func WithApprovalObserver(observer ApprovalObserver) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.observer = observer
	}
}

// WithApprovalClock overrides the wall clock, used by tests.
func WithApprovalClock(now func() time.Time) ApprovalServiceOption {
	return func(s *ApprovalService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewApprovalService constructs the service.
func NewApprovalService(approvals approvalStore, requests requestReader, policies policyProvider,
	audit auditLogger, logger *zap.Logger, opts ...ApprovalServiceOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ApprovalService{
		approvals: approvals,
		requests:  requests,
		policies:  policies,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Record stores one approval action. Global and regional approvals are
// finalized immediately by the acting approver; conditional approvals are
// created unfilled and finalized later by proxy.
func (s *ApprovalService) Record(ctx context.Context, requestID string, req dto.RecordApprovalRequest, actor *models.JWTClaims) (*models.ValidationApproval, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status == models.StatusApproved && req.ApprovalType == models.ApprovalTypeGlobal {
		return nil, appErrors.ErrDuplicateApproval
	}
	if request.Status != models.StatusPendingApproval {
		return nil, appErrors.InvalidTransition(string(request.Status), string(models.StatusApproved))
	}

	approval, err := s.buildApproval(requestID, req, actor)
	if err != nil {
		return nil, err
	}

	completed, err := s.recordWithCompletion(ctx, request, approval, actor)
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionApprovalRecord,
		Resource:   "validation_approval",
		ResourceID: &approval.ID,
	})
	if completed {
		s.notifyApproved(ctx, requestID, approval.ID)
	}
	return approval, nil
}

// buildApproval validates the tri-state type/region constraints before any
// persistence.
func (s *ApprovalService) buildApproval(requestID string, req dto.RecordApprovalRequest, actor *models.JWTClaims) (*models.ValidationApproval, error) {
	now := s.now()
	approval := &models.ValidationApproval{
		RequestID:    requestID,
		ApprovalType: req.ApprovalType,
	}
	switch req.ApprovalType {
	case models.ApprovalTypeGlobal:
		if req.RegionCode != "" {
			return nil, appErrors.Clone(appErrors.ErrApprovalConstraint, "a global approval must not carry a region")
		}
		approval.ApproverID = &actor.UserID
		approval.ApprovalStatus = models.ApprovalStatusApproved
		approval.ApprovedAt = &now
	case models.ApprovalTypeRegional:
		if req.RegionCode == "" {
			return nil, appErrors.Clone(appErrors.ErrApprovalConstraint, "a regional approval requires a region")
		}
		represented := req.RepresentedRegion
		if represented == "" {
			represented = req.RegionCode
		}
		if !actorAuthorizedFor(actor, represented) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "approver is not authorized for region "+represented)
		}
		approval.RegionCode = &req.RegionCode
		approval.RepresentedRegion = &represented
		approval.ApproverID = &actor.UserID
		approval.ApprovalStatus = models.ApprovalStatusApproved
		approval.ApprovedAt = &now
	case models.ApprovalTypeConditional:
		if req.RegionCode != "" {
			return nil, appErrors.Clone(appErrors.ErrApprovalConstraint, "a conditional approval must not carry a region")
		}
		// Approver stays null until an administrator finalizes by proxy.
		approval.ApprovalStatus = models.ApprovalStatusPending
		if req.RepresentedRegion != "" {
			represented := req.RepresentedRegion
			approval.RepresentedRegion = &represented
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrApprovalConstraint, "unsupported approval type")
	}
	return approval, nil
}

// actorAuthorizedFor checks the approver's own authorization set. This gates
// submission only; aggregation reads the represented_region snapshot.
func actorAuthorizedFor(actor *models.JWTClaims, region string) bool {
	if actor.Role == models.RoleAdmin {
		return true
	}
	for _, authorized := range actor.AuthorizedRegions {
		if authorized == region {
			return true
		}
	}
	return false
}

// Finalize fills in the approver on a conditional approval, typically by an
// administrator acting as proxy, and re-evaluates satisfaction.
func (s *ApprovalService) Finalize(ctx context.Context, approvalID string, req dto.FinalizeConditionalRequest, actor *models.JWTClaims) (*models.ValidationApproval, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	existing, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}
	request, err := s.loadRequest(ctx, existing.RequestID)
	if err != nil {
		return nil, err
	}

	var represented *string
	if req.RepresentedRegion != "" {
		represented = &req.RepresentedRegion
	}
	var completed bool
	approval, err := s.approvals.FinalizeConditional(ctx, approvalID, req.ApproverID, represented,
		s.now(), s.decideCompletion(ctx, request, &actor.UserID, &completed))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "approval is not an unfilled conditional approval")
		}
		var typed *appErrors.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize approval")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionApprovalFinalize,
		Resource:   "validation_approval",
		ResourceID: &approval.ID,
	})
	if completed {
		s.notifyApproved(ctx, request.ID, approval.ID)
	}
	return approval, nil
}

// Status builds the deficiency report for a request.
func (s *ApprovalService) Status(ctx context.Context, requestID string) (*dto.ApprovalStatusResponse, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.approvals.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approvals")
	}
	regions, err := s.policies.RegionsFor(ctx, request.Regions)
	if err != nil {
		return nil, err
	}
	verdict := EvaluateApprovals(approvals, regions)
	outstanding := verdict.OutstandingRegions
	if outstanding == nil {
		outstanding = []string{}
	}
	return &dto.ApprovalStatusResponse{
		Satisfied:          verdict.Satisfied,
		ViaConditional:     verdict.ViaConditional,
		OutstandingRegions: outstanding,
		Approvals:          approvals,
	}, nil
}

func (s *ApprovalService) loadRequest(ctx context.Context, id string) (*models.ValidationRequest, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation request")
	}
	return request, nil
}

func (s *ApprovalService) recordWithCompletion(ctx context.Context, request *models.ValidationRequest,
	approval *models.ValidationApproval, actor *models.JWTClaims) (bool, error) {
	var completed bool
	decide := s.decideCompletion(ctx, request, &actor.UserID, &completed)
	if approval.ApprovalType == models.ApprovalTypeGlobal {
		// The duplicate check runs against the set re-read inside the
		// recording transaction, which includes this insert; a second
		// finalized global rolls back instead of persisting.
		inner := decide
		decide = func(approvals []models.ValidationApproval) (*repository.CompletionUpdate, error) {
			if countFinalizedGlobals(approvals) > 1 {
				return nil, appErrors.ErrDuplicateApproval
			}
			return inner(approvals)
		}
	}
	err := s.approvals.RecordApproval(ctx, approval, decide)
	if err != nil {
		var typed *appErrors.Error
		if errors.As(err, &typed) {
			return false, typed
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record approval")
	}
	return completed, nil
}

// decideCompletion is the in-transaction satisfaction check. It runs against
// the approval set re-read inside the transaction, so two racing approvals
// cannot both observe "not yet satisfied". The completion date is the latest
// approval timestamp, not wall-clock now.
func (s *ApprovalService) decideCompletion(ctx context.Context, request *models.ValidationRequest,
	actorID *string, completed *bool) func([]models.ValidationApproval) (*repository.CompletionUpdate, error) {
	return func(approvals []models.ValidationApproval) (*repository.CompletionUpdate, error) {
		regions, err := s.policies.RegionsFor(ctx, request.Regions)
		if err != nil {
			return nil, err
		}
		verdict := EvaluateApprovals(approvals, regions)
		if !verdict.Satisfied || verdict.LatestApprovedAt == nil {
			return nil, nil
		}
		if request.Status != models.StatusPendingApproval {
			return nil, nil
		}
		*completed = true
		return &repository.CompletionUpdate{
			CompletionDate: *verdict.LatestApprovedAt,
			ActorID:        actorID,
		}, nil
	}
}

func (s *ApprovalService) notifyApproved(ctx context.Context, requestID, approvalID string) {
	if s.observer == nil {
		return
	}
	if err := s.observer.HandleValidationApproved(ctx, requestID, approvalID); err != nil {
		s.logger.Warn("post-approval hook failed",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

func (s *ApprovalService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "approval-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
