package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

const requestColumns = `id, status, validation_type, version_source, prior_request_id,
       submission_due_date, target_completion_date, submission_received_date, completion_date,
       hold_start_date, original_due_date, postponed_due_date, postponement_count,
       created_by, created_at, updated_at`

// ValidationRequestRepository persists validation requests, their join tables
// and the append-only status history.
type ValidationRequestRepository struct {
	db *sqlx.DB
}

// NewValidationRequestRepository constructs the repository.
func NewValidationRequestRepository(db *sqlx.DB) *ValidationRequestRepository {
	return &ValidationRequestRepository{db: db}
}

// Create inserts the request and its model/region scope in one transaction.
func (r *ValidationRequestRepository) Create(ctx context.Context, request *models.ValidationRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const insert = `INSERT INTO validation_requests
	(id, status, validation_type, version_source, prior_request_id, submission_due_date,
	 target_completion_date, submission_received_date, completion_date, hold_start_date,
	 original_due_date, postponed_due_date, postponement_count, created_by, created_at, updated_at)
	VALUES (:id, :status, :validation_type, :version_source, :prior_request_id, :submission_due_date,
	 :target_completion_date, :submission_received_date, :completion_date, :hold_start_date,
	 :original_due_date, :postponed_due_date, :postponement_count, :created_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, request); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create validation request: %w", err)
	}
	for _, modelID := range request.ModelIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO validation_request_models (request_id, model_id) VALUES ($1, $2)`,
			request.ID, modelID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("link request model: %w", err)
		}
	}
	for _, region := range request.Regions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO validation_request_regions (request_id, region_code) VALUES ($1, $2)`,
			request.ID, region); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("link request region: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit validation request: %w", err)
	}
	return nil
}

// GetByID fetches a request with its model and region scope hydrated.
func (r *ValidationRequestRepository) GetByID(ctx context.Context, id string) (*models.ValidationRequest, error) {
	var request models.ValidationRequest
	query := fmt.Sprintf(`SELECT %s FROM validation_requests WHERE id = $1`, requestColumns)
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &request.ModelIDs,
		`SELECT model_id FROM validation_request_models WHERE request_id = $1`, id); err != nil {
		return nil, fmt.Errorf("load request models: %w", err)
	}
	if err := r.db.SelectContext(ctx, &request.Regions,
		`SELECT region_code FROM validation_request_regions WHERE request_id = $1 ORDER BY region_code`, id); err != nil {
		return nil, fmt.Errorf("load request regions: %w", err)
	}
	return &request, nil
}

// List returns requests matching the filter (latest first) plus a total count.
func (r *ValidationRequestRepository) List(ctx context.Context, filter models.ValidationRequestFilter) ([]models.ValidationRequest, int, error) {
	base := "FROM validation_requests vr WHERE 1=1"
	var conditions []string
	var args []interface{}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("vr.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ValidationType != "" {
		args = append(args, filter.ValidationType)
		conditions = append(conditions, fmt.Sprintf("vr.validation_type = $%d", len(args)))
	}
	if filter.ModelID != "" {
		args = append(args, filter.ModelID)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM validation_request_models m WHERE m.request_id = vr.id AND m.model_id = $%d)", len(args)))
	}
	if filter.Region != "" {
		args = append(args, filter.Region)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM validation_request_regions g WHERE g.request_id = vr.id AND g.region_code = $%d)", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conditions = append(conditions, fmt.Sprintf("vr.created_by = $%d", len(args)))
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		requestColumns, base, size, offset)
	var requests []models.ValidationRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list validation requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count validation requests: %w", err)
	}
	return requests, total, nil
}

// RequestUpdates groups optional column updates applied atomically with a
// transition.
type RequestUpdates struct {
	SubmissionDueDate      *time.Time
	TargetCompletionDate   *time.Time
	SubmissionReceivedDate *time.Time
	CompletionDate         *time.Time
	HoldStartDate          *time.Time
	OriginalDueDate        *time.Time
	PostponedDueDate       *time.Time
	ClearHold              bool
	IncrementPostponement  bool
}

// TransitionParams describes one status transition.
type TransitionParams struct {
	RequestID         string
	From              models.RequestStatus
	To                models.RequestStatus
	ActorID           *string
	Reason            string
	AdditionalContext []byte
	Updates           RequestUpdates
}

// Transition applies a status change as a single atomic unit: conditional
// update guarded on the expected current status, column updates, and the
// history row. A zero-row update means the request was concurrently moved and
// surfaces as sql.ErrNoRows for the caller to map.
func (r *ValidationRequestRepository) Transition(ctx context.Context, params TransitionParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := applyTransition(ctx, tx, params); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// applyTransition runs the transition inside an existing transaction so the
// approval path can combine it with an approval insert.
func applyTransition(ctx context.Context, tx *sqlx.Tx, params TransitionParams) error {
	now := time.Now().UTC()
	setParts := []string{"status = :to_status", "updated_at = :now"}
	args := map[string]interface{}{
		"id":          params.RequestID,
		"from_status": params.From,
		"to_status":   params.To,
		"now":         now,
	}
	u := params.Updates
	if u.SubmissionDueDate != nil {
		setParts = append(setParts, "submission_due_date = :submission_due_date")
		args["submission_due_date"] = *u.SubmissionDueDate
	}
	if u.TargetCompletionDate != nil {
		setParts = append(setParts, "target_completion_date = :target_completion_date")
		args["target_completion_date"] = *u.TargetCompletionDate
	}
	if u.SubmissionReceivedDate != nil {
		setParts = append(setParts, "submission_received_date = :submission_received_date")
		args["submission_received_date"] = *u.SubmissionReceivedDate
	}
	if u.CompletionDate != nil {
		// completion_date is write-once; the guard keeps a concurrent
		// completion from overwriting it.
		setParts = append(setParts, "completion_date = COALESCE(completion_date, :completion_date)")
		args["completion_date"] = *u.CompletionDate
	}
	if u.HoldStartDate != nil {
		setParts = append(setParts, "hold_start_date = :hold_start_date")
		args["hold_start_date"] = *u.HoldStartDate
	}
	if u.OriginalDueDate != nil {
		setParts = append(setParts, "original_due_date = :original_due_date")
		args["original_due_date"] = *u.OriginalDueDate
	}
	if u.PostponedDueDate != nil {
		setParts = append(setParts, "postponed_due_date = :postponed_due_date")
		args["postponed_due_date"] = *u.PostponedDueDate
	}
	if u.ClearHold {
		setParts = append(setParts, "hold_start_date = NULL")
	}
	if u.IncrementPostponement {
		setParts = append(setParts, "postponement_count = postponement_count + 1")
	}

	query := fmt.Sprintf("UPDATE validation_requests SET %s WHERE id = :id AND status = :from_status",
		strings.Join(setParts, ", "))
	result, err := tx.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	history := models.RequestStatusHistory{
		ID:                uuid.NewString(),
		RequestID:         params.RequestID,
		FromStatus:        params.From,
		ToStatus:          params.To,
		ActorID:           params.ActorID,
		Reason:            params.Reason,
		AdditionalContext: params.AdditionalContext,
		CreatedAt:         now,
	}
	const historyInsert = `INSERT INTO request_status_history
	(id, request_id, from_status, to_status, actor_id, reason, additional_context, created_at)
	VALUES (:id, :request_id, :from_status, :to_status, :actor_id, :reason, :additional_context, :created_at)`
	if _, err := tx.NamedExecContext(ctx, historyInsert, history); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

// History returns the transition ledger for a request, newest first.
func (r *ValidationRequestRepository) History(ctx context.Context, requestID string) ([]models.RequestStatusHistory, error) {
	const query = `SELECT id, request_id, from_status, to_status, actor_id, reason, additional_context, created_at
	FROM request_status_history WHERE request_id = $1 ORDER BY created_at DESC`
	var history []models.RequestStatusHistory
	if err := r.db.SelectContext(ctx, &history, query, requestID); err != nil {
		return nil, fmt.Errorf("load status history: %w", err)
	}
	return history, nil
}

// LatestPriorOf returns the most recent completed request that a new
// revalidation of the given models would chain from.
func (r *ValidationRequestRepository) LatestPriorOf(ctx context.Context, modelID string) (*models.ValidationRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM validation_requests vr
	WHERE vr.status = $1
	  AND EXISTS (SELECT 1 FROM validation_request_models m WHERE m.request_id = vr.id AND m.model_id = $2)
	ORDER BY vr.completion_date DESC NULLS LAST LIMIT 1`, requestColumns)
	var request models.ValidationRequest
	if err := r.db.GetContext(ctx, &request, query, models.StatusApproved, modelID); err != nil {
		return nil, err
	}
	return &request, nil
}

// SetDueDates stores computed due dates on a draft request.
func (r *ValidationRequestRepository) SetDueDates(ctx context.Context, id string, submissionDue, targetCompletion time.Time) error {
	const query = `UPDATE validation_requests
	SET submission_due_date = $2, target_completion_date = $3, updated_at = $4
	WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id, submissionDue, targetCompletion, time.Now().UTC(), models.StatusDraft)
	if err != nil {
		return fmt.Errorf("set due dates: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check due date rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
