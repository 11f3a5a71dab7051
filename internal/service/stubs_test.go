package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/repository"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type requestStoreStub struct {
	requests map[string]*models.ValidationRequest
	history  map[string][]models.RequestStatusHistory
	priors   map[string]*models.ValidationRequest
	seq      int
}

func newRequestStoreStub() *requestStoreStub {
	return &requestStoreStub{
		requests: make(map[string]*models.ValidationRequest),
		history:  make(map[string][]models.RequestStatusHistory),
		priors:   make(map[string]*models.ValidationRequest),
	}
}

func (r *requestStoreStub) Create(ctx context.Context, request *models.ValidationRequest) error {
	if request.ID == "" {
		r.seq++
		request.ID = fmt.Sprintf("req-%d", r.seq)
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	copied := *request
	r.requests[request.ID] = &copied
	return nil
}

func (r *requestStoreStub) GetByID(ctx context.Context, id string) (*models.ValidationRequest, error) {
	request, ok := r.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *request
	return &copied, nil
}

func (r *requestStoreStub) List(ctx context.Context, filter models.ValidationRequestFilter) ([]models.ValidationRequest, int, error) {
	var out []models.ValidationRequest
	for _, request := range r.requests {
		out = append(out, *request)
	}
	return out, len(out), nil
}

func (r *requestStoreStub) Transition(ctx context.Context, params repository.TransitionParams) error {
	request, ok := r.requests[params.RequestID]
	if !ok || request.Status != params.From {
		return sql.ErrNoRows
	}
	request.Status = params.To
	u := params.Updates
	if u.SubmissionDueDate != nil {
		request.SubmissionDueDate = u.SubmissionDueDate
	}
	if u.TargetCompletionDate != nil {
		request.TargetCompletionDate = u.TargetCompletionDate
	}
	if u.SubmissionReceivedDate != nil {
		request.SubmissionReceivedDate = u.SubmissionReceivedDate
	}
	if u.CompletionDate != nil && request.CompletionDate == nil {
		request.CompletionDate = u.CompletionDate
	}
	if u.HoldStartDate != nil {
		request.HoldStartDate = u.HoldStartDate
	}
	if u.OriginalDueDate != nil {
		request.OriginalDueDate = u.OriginalDueDate
	}
	if u.PostponedDueDate != nil {
		request.PostponedDueDate = u.PostponedDueDate
	}
	if u.ClearHold {
		request.HoldStartDate = nil
	}
	if u.IncrementPostponement {
		request.PostponementCount++
	}
	row := models.RequestStatusHistory{
		ID:                fmt.Sprintf("hist-%d", len(r.history[params.RequestID])+1),
		RequestID:         params.RequestID,
		FromStatus:        params.From,
		ToStatus:          params.To,
		ActorID:           params.ActorID,
		Reason:            params.Reason,
		AdditionalContext: params.AdditionalContext,
		CreatedAt:         time.Now().UTC(),
	}
	// Newest first, matching the repository ordering.
	r.history[params.RequestID] = append([]models.RequestStatusHistory{row}, r.history[params.RequestID]...)
	return nil
}

func (r *requestStoreStub) History(ctx context.Context, requestID string) ([]models.RequestStatusHistory, error) {
	return r.history[requestID], nil
}

func (r *requestStoreStub) LatestPriorOf(ctx context.Context, modelID string) (*models.ValidationRequest, error) {
	prior, ok := r.priors[modelID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *prior
	return &copied, nil
}

func (r *requestStoreStub) SetDueDates(ctx context.Context, id string, submissionDue, targetCompletion time.Time) error {
	request, ok := r.requests[id]
	if !ok || request.Status != models.StatusDraft {
		return sql.ErrNoRows
	}
	request.SubmissionDueDate = &submissionDue
	request.TargetCompletionDate = &targetCompletion
	return nil
}

type modelStateStub struct {
	models   map[string]*models.Model
	ratings  map[string]bool
	outcomes map[string][]models.MonitoringOutcome
	usages   map[string][]models.ModelUsage
	versions map[string][]models.ModelVersion
	ids      []string
}

func newModelStateStub() *modelStateStub {
	return &modelStateStub{
		models:   make(map[string]*models.Model),
		ratings:  make(map[string]bool),
		outcomes: make(map[string][]models.MonitoringOutcome),
		usages:   make(map[string][]models.ModelUsage),
		versions: make(map[string][]models.ModelVersion),
	}
}

func (m *modelStateStub) GetModel(ctx context.Context, id string) (*models.Model, error) {
	model, ok := m.models[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *model
	return &copied, nil
}

func (m *modelStateStub) HasStandaloneRating(ctx context.Context, modelID, regionCode string) (bool, error) {
	return m.ratings[modelID+":"+regionCode], nil
}

func (m *modelStateStub) ListModelIDs(ctx context.Context, limit int) ([]string, error) {
	if limit > 0 && len(m.ids) > limit {
		return m.ids[:limit], nil
	}
	return m.ids, nil
}

func (m *modelStateStub) ListOutcomes(ctx context.Context, modelID string, limit int) ([]models.MonitoringOutcome, error) {
	return m.outcomes[modelID], nil
}

func (m *modelStateStub) ListUsages(ctx context.Context, modelID string) ([]models.ModelUsage, error) {
	return m.usages[modelID], nil
}

func (m *modelStateStub) ListVersions(ctx context.Context, modelID string) ([]models.ModelVersion, error) {
	return m.versions[modelID], nil
}

type policyProviderStub struct {
	policies map[string]models.ValidationPolicy
	regions  map[string]models.Region
	buckets  []models.GraceBucket
}

func newPolicyProviderStub() *policyProviderStub {
	return &policyProviderStub{
		policies: make(map[string]models.ValidationPolicy),
		regions:  make(map[string]models.Region),
	}
}

func (p *policyProviderStub) GetPolicy(ctx context.Context, riskTier string) (*models.ValidationPolicy, error) {
	policy, ok := p.policies[riskTier]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrPolicyMissing, "no validation policy configured for risk tier "+riskTier)
	}
	copied := policy
	return &copied, nil
}

func (p *policyProviderStub) RegionsFor(ctx context.Context, codes []string) ([]models.Region, error) {
	var out []models.Region
	for _, code := range codes {
		region, ok := p.regions[code]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "request references unknown regions")
		}
		out = append(out, region)
	}
	return out, nil
}

func (p *policyProviderStub) GraceBuckets(ctx context.Context) ([]models.GraceBucket, error) {
	return p.buckets, nil
}

type approvalStoreStub struct {
	approvals []*models.ValidationApproval
	requests  *requestStoreStub
	seq       int
}

func newApprovalStoreStub(requests *requestStoreStub) *approvalStoreStub {
	return &approvalStoreStub{requests: requests}
}

func (a *approvalStoreStub) GetByID(ctx context.Context, id string) (*models.ValidationApproval, error) {
	for _, approval := range a.approvals {
		if approval.ID == id {
			copied := *approval
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (a *approvalStoreStub) ListByRequest(ctx context.Context, requestID string) ([]models.ValidationApproval, error) {
	var out []models.ValidationApproval
	for _, approval := range a.approvals {
		if approval.RequestID == requestID {
			out = append(out, *approval)
		}
	}
	return out, nil
}

func (a *approvalStoreStub) RecordApproval(ctx context.Context, approval *models.ValidationApproval,
	decide func(approvals []models.ValidationApproval) (*repository.CompletionUpdate, error)) error {
	if approval.ID == "" {
		a.seq++
		approval.ID = fmt.Sprintf("appr-%d", a.seq)
	}
	copied := *approval
	a.approvals = append(a.approvals, &copied)
	if err := a.evaluate(ctx, approval.RequestID, decide); err != nil {
		// A decide error rolls the insert back, like the repository tx.
		a.approvals = a.approvals[:len(a.approvals)-1]
		return err
	}
	return nil
}

func (a *approvalStoreStub) FinalizeConditional(ctx context.Context, approvalID, approverID string,
	representedRegion *string, approvedAt time.Time,
	decide func(approvals []models.ValidationApproval) (*repository.CompletionUpdate, error)) (*models.ValidationApproval, error) {
	for _, approval := range a.approvals {
		if approval.ID != approvalID {
			continue
		}
		if approval.ApprovalType != models.ApprovalTypeConditional || approval.ApproverID != nil {
			return nil, sql.ErrNoRows
		}
		approval.ApproverID = &approverID
		if representedRegion != nil {
			approval.RepresentedRegion = representedRegion
		}
		approval.ApprovalStatus = models.ApprovalStatusApproved
		at := approvedAt
		approval.ApprovedAt = &at
		if err := a.evaluate(ctx, approval.RequestID, decide); err != nil {
			return nil, err
		}
		copied := *approval
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (a *approvalStoreStub) evaluate(ctx context.Context, requestID string,
	decide func(approvals []models.ValidationApproval) (*repository.CompletionUpdate, error)) error {
	if decide == nil {
		return nil
	}
	approvals, _ := a.ListByRequest(ctx, requestID)
	completion, err := decide(approvals)
	if err != nil {
		return err
	}
	if completion == nil {
		return nil
	}
	return a.requests.Transition(ctx, repository.TransitionParams{
		RequestID: requestID,
		From:      models.StatusPendingApproval,
		To:        models.StatusApproved,
		ActorID:   completion.ActorID,
		Reason:    "fully approved",
		Updates:   repository.RequestUpdates{CompletionDate: &completion.CompletionDate},
	})
}

type commentStoreStub struct {
	comments []*models.OverdueRevalidationComment
	seq      int
}

func (c *commentStoreStub) Current(ctx context.Context, requestID string, overdueType models.OverdueType) (*models.OverdueRevalidationComment, error) {
	for _, comment := range c.comments {
		if comment.RequestID == requestID && comment.OverdueType == overdueType && comment.IsCurrent {
			copied := *comment
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (c *commentStoreStub) ListByRequest(ctx context.Context, requestID string) ([]models.OverdueRevalidationComment, error) {
	var out []models.OverdueRevalidationComment
	for _, comment := range c.comments {
		if comment.RequestID == requestID {
			out = append(out, *comment)
		}
	}
	return out, nil
}

func (c *commentStoreStub) Supersede(ctx context.Context, comment *models.OverdueRevalidationComment) error {
	c.seq++
	comment.ID = fmt.Sprintf("cmt-%d", c.seq)
	comment.IsCurrent = true
	now := time.Now().UTC()
	comment.CreatedAt = now
	for _, existing := range c.comments {
		if existing.RequestID == comment.RequestID && existing.OverdueType == comment.OverdueType && existing.IsCurrent {
			existing.IsCurrent = false
			existing.SupersededAt = &now
			existing.SupersededBy = &comment.ID
		}
	}
	copied := *comment
	c.comments = append(c.comments, &copied)
	return nil
}

type exceptionStoreStub struct {
	exceptions []*models.ModelException
	history    []models.ModelExceptionStatusHistory
	seq        int
}

func (e *exceptionStoreStub) Create(ctx context.Context, exc *models.ModelException) error {
	// Same rule as the partial unique index on open natural keys.
	for _, existing := range e.exceptions {
		if existing.NaturalKey == exc.NaturalKey && existing.Status != models.ExceptionClosed {
			return appErrors.Clone(appErrors.ErrConflict, "an open exception already exists for "+exc.NaturalKey)
		}
	}
	e.seq++
	exc.ID = fmt.Sprintf("exc-%d", e.seq)
	copied := *exc
	e.exceptions = append(e.exceptions, &copied)
	return nil
}

func (e *exceptionStoreStub) GetByID(ctx context.Context, id string) (*models.ModelException, error) {
	for _, exc := range e.exceptions {
		if exc.ID == id {
			copied := *exc
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (e *exceptionStoreStub) LatestByNaturalKey(ctx context.Context, naturalKey string) (*models.ModelException, error) {
	for i := len(e.exceptions) - 1; i >= 0; i-- {
		if e.exceptions[i].NaturalKey == naturalKey {
			copied := *e.exceptions[i]
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (e *exceptionStoreStub) ListOpenByRequest(ctx context.Context, requestID string) ([]models.ModelException, error) {
	var out []models.ModelException
	for _, exc := range e.exceptions {
		if exc.Status == models.ExceptionClosed {
			continue
		}
		if exc.ValidationRequestID != nil && *exc.ValidationRequestID == requestID {
			out = append(out, *exc)
		}
	}
	return out, nil
}

func (e *exceptionStoreStub) ListOpenByModel(ctx context.Context, modelID string, excType models.ExceptionType) ([]models.ModelException, error) {
	var out []models.ModelException
	for _, exc := range e.exceptions {
		if exc.Status != models.ExceptionClosed && exc.ModelID == modelID && exc.ExceptionType == excType {
			out = append(out, *exc)
		}
	}
	return out, nil
}

func (e *exceptionStoreStub) List(ctx context.Context, filter models.ExceptionFilter) ([]models.ModelException, int, error) {
	var out []models.ModelException
	for _, exc := range e.exceptions {
		out = append(out, *exc)
	}
	return out, len(out), nil
}

func (e *exceptionStoreStub) UpdateStatus(ctx context.Context, params repository.ExceptionStatusParams) error {
	if params.To == models.ExceptionClosed &&
		(params.ClosureReason == nil || params.ClosureNarrative == nil) {
		return appErrors.ErrClosureRequirement
	}
	for _, exc := range e.exceptions {
		if exc.ID != params.ExceptionID {
			continue
		}
		allowed := false
		for _, from := range params.From {
			if exc.Status == from {
				allowed = true
			}
		}
		if !allowed {
			return sql.ErrNoRows
		}
		from := exc.Status
		exc.Status = params.To
		if params.To == models.ExceptionClosed {
			exc.ClosureReason = params.ClosureReason
			exc.ClosureNarrative = params.ClosureNarrative
			exc.AutoClosed = params.AutoClosed
			exc.ClosingApprovalID = params.ClosingApprovalID
			now := time.Now().UTC()
			exc.ClosedAt = &now
		}
		e.history = append(e.history, models.ModelExceptionStatusHistory{
			ExceptionID: exc.ID,
			FromStatus:  from,
			ToStatus:    params.To,
			ActorID:     params.ActorID,
			Note:        params.Note,
		})
		return nil
	}
	return sql.ErrNoRows
}
