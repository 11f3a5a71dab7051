package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/repository"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

type exceptionStore interface {
	Create(ctx context.Context, exc *models.ModelException) error
	GetByID(ctx context.Context, id string) (*models.ModelException, error)
	LatestByNaturalKey(ctx context.Context, naturalKey string) (*models.ModelException, error)
	ListOpenByRequest(ctx context.Context, requestID string) ([]models.ModelException, error)
	ListOpenByModel(ctx context.Context, modelID string, excType models.ExceptionType) ([]models.ModelException, error)
	List(ctx context.Context, filter models.ExceptionFilter) ([]models.ModelException, int, error)
	UpdateStatus(ctx context.Context, params repository.ExceptionStatusParams) error
}

type exceptionMetrics interface {
	RecordExceptionOpened(exceptionType string)
	RecordExceptionClosed(auto bool)
}

type modelScanner interface {
	GetModel(ctx context.Context, id string) (*models.Model, error)
	ListModelIDs(ctx context.Context, limit int) ([]string, error)
	ListOutcomes(ctx context.Context, modelID string, limit int) ([]models.MonitoringOutcome, error)
	ListUsages(ctx context.Context, modelID string) ([]models.ModelUsage, error)
	ListVersions(ctx context.Context, modelID string) ([]models.ModelVersion, error)
}

// ExceptionService runs the three governance detectors and manages the
// exception lifecycle. Detection is idempotent: a condition already covered
// by an open exception is a no-op, and a manually closed exception is never
// reopened; only a condition observed after the close creates a new one.
type ExceptionService struct {
	exceptions exceptionStore
	scanner    modelScanner
	requests   requestReader
	audit      auditLogger
	logger     *zap.Logger
	metrics    exceptionMetrics
	now        func() time.Time

	type1RunLength int
	maxSweepModels int
}

// ExceptionServiceOption configures the service.
type ExceptionServiceOption func(*ExceptionService)

// WithExceptionMetrics registers open/close counters.
func WithExceptionMetrics(metrics exceptionMetrics) ExceptionServiceOption {
	return func(s *ExceptionService) {
		s.metrics = metrics
	}
}

// WithType1RunLength sets how many consecutive RED outcomes open a Type 1
// exception.
func WithType1RunLength(n int) ExceptionServiceOption {
	return func(s *ExceptionService) {
		if n > 0 {
			s.type1RunLength = n
		}
	}
}

// WithMaxSweepModels bounds a single detect-all sweep.
func WithMaxSweepModels(n int) ExceptionServiceOption {
	return func(s *ExceptionService) {
		if n > 0 {
			s.maxSweepModels = n
		}
	}
}

// WithExceptionClock overrides the wall clock, used by tests.
func WithExceptionClock(now func() time.Time) ExceptionServiceOption {
	return func(s *ExceptionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewExceptionService constructs the service with defaults.
func NewExceptionService(exceptions exceptionStore, scanner modelScanner, requests requestReader,
	audit auditLogger, logger *zap.Logger, opts ...ExceptionServiceOption) *ExceptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ExceptionService{
		exceptions:     exceptions,
		scanner:        scanner,
		requests:       requests,
		audit:          audit,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		type1RunLength: 3,
		maxSweepModels: 500,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Get returns one exception.
func (s *ExceptionService) Get(ctx context.Context, id string) (*models.ModelException, error) {
	exc, err := s.exceptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exception")
	}
	return exc, nil
}

// List returns exceptions matching the query.
func (s *ExceptionService) List(ctx context.Context, query dto.ExceptionQuery) ([]models.ModelException, int, error) {
	filter := models.ExceptionFilter{
		ModelID:       query.ModelID,
		ExceptionType: query.Type,
		Status:        query.Status,
		Page:          query.Page,
		PageSize:      query.PageSize,
	}
	exceptions, total, err := s.exceptions.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exceptions")
	}
	return exceptions, total, nil
}

// Acknowledge marks an open exception as acknowledged. Acknowledgement is an
// optional information step, never a prerequisite for closing.
func (s *ExceptionService) Acknowledge(ctx context.Context, id string, req dto.AcknowledgeExceptionRequest, actor *models.JWTClaims) (*models.ModelException, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	note := req.Note
	if note == "" {
		note = "acknowledged"
	}
	err := s.exceptions.UpdateStatus(ctx, repository.ExceptionStatusParams{
		ExceptionID: id,
		From:        []models.ExceptionStatus{models.ExceptionOpen},
		To:          models.ExceptionAcknowledged,
		ActorID:     &actor.UserID,
		Note:        note,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "exception is not open")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acknowledge exception")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionExceptionAck,
		Resource:   "model_exception",
		ResourceID: &id,
	})
	return s.Get(ctx, id)
}

// Close manually closes an exception. Both the reason and the narrative are
// mandatory and checked before any write.
func (s *ExceptionService) Close(ctx context.Context, id string, req dto.CloseExceptionRequest, actor *models.JWTClaims) (*models.ModelException, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(req.ClosureReason) == "" || strings.TrimSpace(req.ClosureNarrative) == "" {
		return nil, appErrors.ErrClosureRequirement
	}
	err := s.exceptions.UpdateStatus(ctx, repository.ExceptionStatusParams{
		ExceptionID:      id,
		From:             []models.ExceptionStatus{models.ExceptionOpen, models.ExceptionAcknowledged},
		To:               models.ExceptionClosed,
		ActorID:          &actor.UserID,
		Note:             "manually closed",
		ClosureReason:    &req.ClosureReason,
		ClosureNarrative: &req.ClosureNarrative,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "exception is already closed")
		}
		var typed *appErrors.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close exception")
	}
	if s.metrics != nil {
		s.metrics.RecordExceptionClosed(false)
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionExceptionClose,
		Resource:   "model_exception",
		ResourceID: &id,
	})
	return s.Get(ctx, id)
}

// DetectModel runs all three detectors for one model.
func (s *ExceptionService) DetectModel(ctx context.Context, modelID string) models.SweepResult {
	result := models.SweepResult{ModelID: modelID}

	opened, closed, err := s.detectType1(ctx, modelID)
	result.Opened += opened
	result.Closed += closed
	if err == nil {
		opened, err = s.detectType2(ctx, modelID)
		result.Opened += opened
	}
	if err == nil {
		opened, closed, err = s.detectType3(ctx, modelID)
		result.Opened += opened
		result.Closed += closed
	}
	if err != nil {
		result.Err = err.Error()
	}
	return result
}

// DetectAll sweeps the given models, or up to the sweep bound of the whole
// inventory when none are named. Per-model failures never abort the sweep.
func (s *ExceptionService) DetectAll(ctx context.Context, req dto.DetectRequest) (*dto.SweepResponse, error) {
	modelIDs := req.ModelIDs
	if len(modelIDs) == 0 {
		ids, err := s.scanner.ListModelIDs(ctx, s.maxSweepModels)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list models for sweep")
		}
		modelIDs = ids
	}
	if len(modelIDs) > s.maxSweepModels {
		modelIDs = modelIDs[:s.maxSweepModels]
	}

	response := &dto.SweepResponse{Requested: len(modelIDs)}
	for _, modelID := range modelIDs {
		result := s.DetectModel(ctx, modelID)
		if result.Err == "" {
			response.Succeeded++
		} else {
			response.Failed++
			s.logger.Warn("detection failed for model",
				zap.String("model_id", modelID), zap.String("error", result.Err))
		}
		response.Results = append(response.Results, result)
	}
	return response, nil
}

// HandleValidationApproved auto-closes Type 3 exceptions linked to a request
// that just reached APPROVED, tying the closure to the triggering approval.
// Targeted and change validations do not clear a use-prior-to-validation
// finding.
func (s *ExceptionService) HandleValidationApproved(ctx context.Context, requestID, approvalID string) error {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load approved request: %w", err)
	}
	if request.ValidationType == models.ValidationTypeTargeted || request.ValidationType == models.ValidationTypeChange {
		return nil
	}
	open, err := s.exceptions.ListOpenByRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("list open exceptions: %w", err)
	}
	for _, exc := range open {
		if exc.ExceptionType != models.ExceptionType3UsePriorToValidation {
			continue
		}
		if err := s.autoClose(ctx, exc.ID, "full validation approved", &approvalID); err != nil {
			return err
		}
	}
	return nil
}

// detectType1 opens an exception when a model shows a persistent RED outcome
// across the configured run length without an accepted remediation, and
// auto-closes open findings whose latest result has improved.
func (s *ExceptionService) detectType1(ctx context.Context, modelID string) (opened, closed int, err error) {
	outcomes, err := s.scanner.ListOutcomes(ctx, modelID, s.type1RunLength*10)
	if err != nil {
		return 0, 0, fmt.Errorf("list outcomes: %w", err)
	}

	// Newest first, grouped per metric.
	byMetric := make(map[string][]models.MonitoringOutcome)
	for _, outcome := range outcomes {
		byMetric[outcome.Metric] = append(byMetric[outcome.Metric], outcome)
	}

	for metric, runs := range byMetric {
		naturalKey := fmt.Sprintf("T1:%s:%s", modelID, metric)
		latest := runs[0]

		if latest.Outcome != models.OutcomeRed {
			// Improved result: close any open finding for this metric.
			n, err := s.autoCloseOpenByKey(ctx, modelID, models.ExceptionType1UnmitigatedPerformance,
				naturalKey, "monitoring result improved above threshold")
			if err != nil {
				return opened, closed, err
			}
			closed += n
			continue
		}

		persistent := len(runs) >= s.type1RunLength
		for i := 0; i < s.type1RunLength && i < len(runs); i++ {
			if runs[i].Outcome != models.OutcomeRed || runs[i].RemediationAccepted {
				persistent = false
				break
			}
		}
		if !persistent {
			continue
		}
		created, err := s.openIfFresh(ctx, &models.ModelException{
			ModelID:       modelID,
			ExceptionType: models.ExceptionType1UnmitigatedPerformance,
			NaturalKey:    naturalKey,
			Detail:        mustJSON(map[string]any{"metric": metric, "runLength": s.type1RunLength}),
		}, latest.RunDate)
		if err != nil {
			return opened, closed, err
		}
		if created {
			opened++
		}
	}
	return opened, closed, nil
}

// detectType2 opens an exception when a recorded usage relationship falls
// outside the model's documented intended purpose. Closure is always manual;
// "intended purpose" is a narrative judgment.
func (s *ExceptionService) detectType2(ctx context.Context, modelID string) (opened int, err error) {
	model, err := s.scanner.GetModel(ctx, modelID)
	if err != nil {
		return 0, fmt.Errorf("load model: %w", err)
	}
	usages, err := s.scanner.ListUsages(ctx, modelID)
	if err != nil {
		return 0, fmt.Errorf("list usages: %w", err)
	}
	for _, usage := range usages {
		if usage.PurposeClassification == "" || usage.PurposeClassification == model.IntendedPurpose {
			continue
		}
		created, err := s.openIfFresh(ctx, &models.ModelException{
			ModelID:       modelID,
			ExceptionType: models.ExceptionType2OutsidePurpose,
			NaturalKey:    fmt.Sprintf("T2:%s:%s", modelID, usage.ID),
			Detail: mustJSON(map[string]any{
				"usageId":               usage.ID,
				"relationshipDirection": usage.RelationshipDirection,
				"relationshipType":      usage.RelationshipType,
				"purposeClassification": usage.PurposeClassification,
				"intendedPurpose":       model.IntendedPurpose,
			}),
		}, usage.RecordedAt)
		if err != nil {
			return opened, err
		}
		if created {
			opened++
		}
	}
	return opened, nil
}

// detectType3 opens an exception for any production version whose linked
// validation has not reached APPROVED, and closes stale findings whose
// validation has since been approved.
func (s *ExceptionService) detectType3(ctx context.Context, modelID string) (opened, closed int, err error) {
	versions, err := s.scanner.ListVersions(ctx, modelID)
	if err != nil {
		return 0, 0, fmt.Errorf("list versions: %w", err)
	}
	for _, version := range versions {
		if !version.InProduction {
			continue
		}
		naturalKey := fmt.Sprintf("T3:%s:%s", modelID, version.ID)
		validated := false
		if version.ValidationRequestID != nil {
			request, err := s.requests.GetByID(ctx, *version.ValidationRequestID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return opened, closed, fmt.Errorf("load linked request: %w", err)
			}
			validated = err == nil && request.Status == models.StatusApproved
		}
		if validated {
			n, err := s.autoCloseOpenByKey(ctx, modelID, models.ExceptionType3UsePriorToValidation,
				naturalKey, "linked validation approved")
			if err != nil {
				return opened, closed, err
			}
			closed += n
			continue
		}
		exc := &models.ModelException{
			ModelID:        modelID,
			ModelVersionID: &version.ID,
			ExceptionType:  models.ExceptionType3UsePriorToValidation,
			NaturalKey:     naturalKey,
			Detail:         mustJSON(map[string]any{"versionLabel": version.VersionLabel}),
		}
		exc.ValidationRequestID = version.ValidationRequestID
		created, err := s.openIfFresh(ctx, exc, s.now())
		if err != nil {
			return opened, closed, err
		}
		if created {
			opened++
		}
	}
	return opened, closed, nil
}

// openIfFresh creates an exception unless the natural key already has one
// open, or was closed after the condition was last observed. Detection never
// reopens a manually closed exception for a stale condition.
func (s *ExceptionService) openIfFresh(ctx context.Context, exc *models.ModelException, observedAt time.Time) (bool, error) {
	latest, err := s.exceptions.LatestByNaturalKey(ctx, exc.NaturalKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("look up exception by key: %w", err)
	}
	if latest != nil {
		if latest.Status != models.ExceptionClosed {
			return false, nil
		}
		if latest.ClosedAt != nil && !observedAt.After(*latest.ClosedAt) {
			return false, nil
		}
	}

	exc.Code = generateExceptionCode(exc.ExceptionType)
	exc.Status = models.ExceptionOpen
	exc.OpenedAt = s.now()
	if err := s.exceptions.Create(ctx, exc); err != nil {
		// A concurrent sweep won the insert; its open row covers this finding.
		if appErrors.FromError(err).Code == appErrors.ErrConflict.Code {
			return false, nil
		}
		return false, fmt.Errorf("create exception: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordExceptionOpened(string(exc.ExceptionType))
	}
	s.emitAudit(ctx, &models.AuditLog{
		Action:     models.AuditActionExceptionOpen,
		Resource:   "model_exception",
		ResourceID: &exc.ID,
		NewValues:  exc.Detail,
	})
	return true, nil
}

func (s *ExceptionService) autoCloseOpenByKey(ctx context.Context, modelID string,
	excType models.ExceptionType, naturalKey, reason string) (int, error) {
	open, err := s.exceptions.ListOpenByModel(ctx, modelID, excType)
	if err != nil {
		return 0, fmt.Errorf("list open exceptions: %w", err)
	}
	closed := 0
	for _, exc := range open {
		if exc.NaturalKey != naturalKey {
			continue
		}
		if err := s.autoClose(ctx, exc.ID, reason, nil); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// autoClose satisfies the closure requirement with generated fields; the
// schema CHECK constraint applies to auto-closes too.
func (s *ExceptionService) autoClose(ctx context.Context, id, reason string, closingApprovalID *string) error {
	narrative := "Closed automatically by the detection engine: " + reason + "."
	err := s.exceptions.UpdateStatus(ctx, repository.ExceptionStatusParams{
		ExceptionID:       id,
		From:              []models.ExceptionStatus{models.ExceptionOpen, models.ExceptionAcknowledged},
		To:                models.ExceptionClosed,
		Note:              "auto-closed",
		ClosureReason:     &reason,
		ClosureNarrative:  &narrative,
		AutoClosed:        true,
		ClosingApprovalID: closingApprovalID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already closed by a concurrent path.
			return nil
		}
		return fmt.Errorf("auto-close exception: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordExceptionClosed(true)
	}
	s.emitAudit(ctx, &models.AuditLog{
		Action:     models.AuditActionExceptionClose,
		Resource:   "model_exception",
		ResourceID: &id,
	})
	return nil
}

func generateExceptionCode(excType models.ExceptionType) string {
	prefix := "EXC"
	switch excType {
	case models.ExceptionType1UnmitigatedPerformance:
		prefix = "EXC-T1"
	case models.ExceptionType2OutsidePurpose:
		prefix = "EXC-T2"
	case models.ExceptionType3UsePriorToValidation:
		prefix = "EXC-T3"
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}

func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return payload
}

func (s *ExceptionService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "exception-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
