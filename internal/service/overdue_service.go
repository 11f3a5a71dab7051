package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

type commentStore interface {
	Current(ctx context.Context, requestID string, overdueType models.OverdueType) (*models.OverdueRevalidationComment, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.OverdueRevalidationComment, error)
	Supersede(ctx context.Context, comment *models.OverdueRevalidationComment) error
}

// resolveConservativePolicy folds each model's tier policy into the strictest
// one. A model whose tier has no policy blocks the caller (PolicyMissing).
func resolveConservativePolicy(ctx context.Context, modelState modelStateReader,
	policies policyProvider, modelIDs []string) (models.ValidationPolicy, error) {
	var folded []models.ValidationPolicy
	for _, modelID := range modelIDs {
		model, err := modelState.GetModel(ctx, modelID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ValidationPolicy{}, appErrors.Clone(appErrors.ErrNotFound, "unknown model "+modelID)
			}
			return models.ValidationPolicy{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load model")
		}
		policy, err := policies.GetPolicy(ctx, model.RiskTier)
		if err != nil {
			return models.ValidationPolicy{}, err
		}
		folded = append(folded, *policy)
	}
	return mostConservativePolicy(folded), nil
}

// OverdueService classifies requests against their due dates and manages the
// append-only justification comment trail.
type OverdueService struct {
	requests   requestReader
	comments   commentStore
	modelState modelStateReader
	policies   policyProvider
	audit      auditLogger
	logger     *zap.Logger
	now        func() time.Time
}

// OverdueServiceOption configures the service.
type OverdueServiceOption func(*OverdueService)

// WithOverdueClock overrides the wall clock, used by tests.
func WithOverdueClock(now func() time.Time) OverdueServiceOption {
	return func(s *OverdueService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewOverdueService constructs the service.
func NewOverdueService(requests requestReader, comments commentStore, modelState modelStateReader,
	policies policyProvider, audit auditLogger, logger *zap.Logger, opts ...OverdueServiceOption) *OverdueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &OverdueService{
		requests:   requests,
		comments:   comments,
		modelState: modelState,
		policies:   policies,
		audit:      audit,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Classification bands a request against its effective due date.
func (s *OverdueService) Classification(ctx context.Context, requestID string) (*models.OverdueClassification, error) {
	_, classification, err := s.classify(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return classification, nil
}

func (s *OverdueService) classify(ctx context.Context, requestID string) (*models.ValidationRequest, *models.OverdueClassification, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrNotFound
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation request")
	}
	policy, err := resolveConservativePolicy(ctx, s.modelState, s.policies, request.ModelIDs)
	if err != nil {
		return nil, nil, err
	}
	buckets, err := s.policies.GraceBuckets(ctx)
	if err != nil {
		return nil, nil, err
	}
	classification := ClassifyOverdue(request, policy, buckets, s.now())
	return request, &classification, nil
}

// CommentStatus reports the current justification comment for the request's
// overdue band. An overdue request with no current comment is flagged
// missing; a comment whose underlying due date has since changed (after a
// hold/resume) is flagged stale and surfaced for re-justification, never
// auto-invalidated.
func (s *OverdueService) CommentStatus(ctx context.Context, requestID string) (*dto.OverdueCommentStatus, error) {
	_, classification, err := s.classify(ctx, requestID)
	if err != nil {
		return nil, err
	}
	status := &dto.OverdueCommentStatus{Classification: *classification}

	overdueType, overdue := OverdueTypeFor(classification.Band)
	if !overdue {
		return status, nil
	}
	current, err := s.comments.Current(ctx, requestID, overdueType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			status.Missing = true
			return status, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current comment")
	}
	status.Current = current
	if classification.EffectiveDueDate != nil && !current.DueDateSnapshot.Equal(*classification.EffectiveDueDate) {
		status.Stale = true
	}
	return status, nil
}

// AddComment records a new current justification, atomically superseding the
// previous current comment of the same overdue type.
func (s *OverdueService) AddComment(ctx context.Context, requestID string, req dto.CreateOverdueCommentRequest, actor *models.JWTClaims) (*models.OverdueRevalidationComment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if req.OverdueType != models.OverduePreSubmission && req.OverdueType != models.OverdueValidationInProgress {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported overdue type")
	}
	request, classification, err := s.classify(ctx, requestID)
	if err != nil {
		return nil, err
	}

	snapshot := s.now()
	if classification.EffectiveDueDate != nil {
		snapshot = *classification.EffectiveDueDate
	} else if due, _ := effectiveDueDate(request); due != nil {
		snapshot = *due
	}

	comment := &models.OverdueRevalidationComment{
		RequestID:       requestID,
		OverdueType:     req.OverdueType,
		Comment:         req.Comment,
		DueDateSnapshot: snapshot,
		CreatedBy:       actor.UserID,
	}
	if err := s.comments.Supersede(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record overdue comment")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionOverdueComment,
		Resource:   "overdue_revalidation_comment",
		ResourceID: &comment.ID,
	})
	return comment, nil
}

// ListComments returns the full comment trail for a request, current and
// superseded.
func (s *OverdueService) ListComments(ctx context.Context, requestID string) ([]models.OverdueRevalidationComment, error) {
	comments, err := s.comments.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue comments")
	}
	return comments, nil
}

func (s *OverdueService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "overdue-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
