package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
)

const exceptionColumns = `id, model_id, model_version_id, validation_request_id, exception_type,
       code, natural_key, status, detail, closure_reason, closure_narrative,
       auto_closed, closing_approval_id, opened_at, closed_at`

// ExceptionRepository persists model exceptions and their status history.
type ExceptionRepository struct {
	db *sqlx.DB
}

// NewExceptionRepository constructs the repository.
func NewExceptionRepository(db *sqlx.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create inserts a new OPEN exception.
func (r *ExceptionRepository) Create(ctx context.Context, exc *models.ModelException) error {
	if exc.ID == "" {
		exc.ID = uuid.NewString()
	}
	if exc.Status == "" {
		exc.Status = models.ExceptionOpen
	}
	if exc.OpenedAt.IsZero() {
		exc.OpenedAt = time.Now().UTC()
	}
	const query = `INSERT INTO model_exceptions
	(id, model_id, model_version_id, validation_request_id, exception_type, code, natural_key,
	 status, detail, closure_reason, closure_narrative, auto_closed, closing_approval_id, opened_at, closed_at)
	VALUES (:id, :model_id, :model_version_id, :validation_request_id, :exception_type, :code, :natural_key,
	 :status, :detail, :closure_reason, :closure_narrative, :auto_closed, :closing_approval_id, :opened_at, :closed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, exc); err != nil {
		// The partial unique index on open natural keys catches a racing
		// detector; the winner's row stands.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return appErrors.Clone(appErrors.ErrConflict, "an open exception already exists for "+exc.NaturalKey)
		}
		return fmt.Errorf("create exception: %w", err)
	}
	return nil
}

// GetByID fetches one exception.
func (r *ExceptionRepository) GetByID(ctx context.Context, id string) (*models.ModelException, error) {
	query := fmt.Sprintf(`SELECT %s FROM model_exceptions WHERE id = $1`, exceptionColumns)
	var exc models.ModelException
	if err := r.db.GetContext(ctx, &exc, query, id); err != nil {
		return nil, err
	}
	return &exc, nil
}

// LatestByNaturalKey returns the newest exception for a natural key, open or
// closed, used for duplicate suppression.
func (r *ExceptionRepository) LatestByNaturalKey(ctx context.Context, naturalKey string) (*models.ModelException, error) {
	query := fmt.Sprintf(`SELECT %s FROM model_exceptions WHERE natural_key = $1 ORDER BY opened_at DESC LIMIT 1`, exceptionColumns)
	var exc models.ModelException
	if err := r.db.GetContext(ctx, &exc, query, naturalKey); err != nil {
		return nil, err
	}
	return &exc, nil
}

// ListOpenByRequest returns non-closed exceptions linked to a validation
// request (the Type 3 auto-close scan).
func (r *ExceptionRepository) ListOpenByRequest(ctx context.Context, requestID string) ([]models.ModelException, error) {
	query := fmt.Sprintf(`SELECT %s FROM model_exceptions
	WHERE validation_request_id = $1 AND status <> $2`, exceptionColumns)
	var excs []models.ModelException
	if err := r.db.SelectContext(ctx, &excs, query, requestID, models.ExceptionClosed); err != nil {
		return nil, fmt.Errorf("list open exceptions by request: %w", err)
	}
	return excs, nil
}

// ListOpenByModel returns non-closed exceptions for a model, optionally
// narrowed by type.
func (r *ExceptionRepository) ListOpenByModel(ctx context.Context, modelID string, excType models.ExceptionType) ([]models.ModelException, error) {
	args := []interface{}{modelID, models.ExceptionClosed}
	query := fmt.Sprintf(`SELECT %s FROM model_exceptions WHERE model_id = $1 AND status <> $2`, exceptionColumns)
	if excType != "" {
		args = append(args, excType)
		query += fmt.Sprintf(" AND exception_type = $%d", len(args))
	}
	var excs []models.ModelException
	if err := r.db.SelectContext(ctx, &excs, query, args...); err != nil {
		return nil, fmt.Errorf("list open exceptions by model: %w", err)
	}
	return excs, nil
}

// List returns exceptions matching the filter (newest first) plus a count.
func (r *ExceptionRepository) List(ctx context.Context, filter models.ExceptionFilter) ([]models.ModelException, int, error) {
	base := "FROM model_exceptions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.ModelID != "" {
		args = append(args, filter.ModelID)
		conditions = append(conditions, fmt.Sprintf("model_id = $%d", len(args)))
	}
	if filter.ExceptionType != "" {
		args = append(args, filter.ExceptionType)
		conditions = append(conditions, fmt.Sprintf("exception_type = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY opened_at DESC LIMIT %d OFFSET %d", exceptionColumns, base, size, offset)
	var excs []models.ModelException
	if err := r.db.SelectContext(ctx, &excs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list exceptions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count exceptions: %w", err)
	}
	return excs, total, nil
}

// ExceptionStatusParams describes a lifecycle transition.
type ExceptionStatusParams struct {
	ExceptionID       string
	From              []models.ExceptionStatus
	To                models.ExceptionStatus
	ActorID           *string
	Note              string
	ClosureReason     *string
	ClosureNarrative  *string
	AutoClosed        bool
	ClosingApprovalID *string
}

// UpdateStatus applies a lifecycle transition with its history row in one
// transaction. Closing without both reason and narrative is rejected before
// any write; the schema CHECK constraint backs this up.
func (r *ExceptionRepository) UpdateStatus(ctx context.Context, params ExceptionStatusParams) error {
	if params.To == models.ExceptionClosed {
		if params.ClosureReason == nil || strings.TrimSpace(*params.ClosureReason) == "" ||
			params.ClosureNarrative == nil || strings.TrimSpace(*params.ClosureNarrative) == "" {
			return appErrors.ErrClosureRequirement
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	// Re-read inside the transaction; the conditional update below is the
	// actual race guard.
	var from models.ExceptionStatus
	if err := tx.GetContext(ctx, &from,
		`SELECT status FROM model_exceptions WHERE id = $1 FOR UPDATE`, params.ExceptionID); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	allowed := false
	for _, s := range params.From {
		if s == from {
			allowed = true
			break
		}
	}
	if !allowed {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}

	args := []interface{}{params.To, params.ExceptionID, from}
	setParts := []string{"status = $1"}
	if params.To == models.ExceptionClosed {
		args = append(args, *params.ClosureReason)
		setParts = append(setParts, fmt.Sprintf("closure_reason = $%d", len(args)))
		args = append(args, *params.ClosureNarrative)
		setParts = append(setParts, fmt.Sprintf("closure_narrative = $%d", len(args)))
		args = append(args, params.AutoClosed)
		setParts = append(setParts, fmt.Sprintf("auto_closed = $%d", len(args)))
		args = append(args, now)
		setParts = append(setParts, fmt.Sprintf("closed_at = $%d", len(args)))
		if params.ClosingApprovalID != nil {
			args = append(args, *params.ClosingApprovalID)
			setParts = append(setParts, fmt.Sprintf("closing_approval_id = $%d", len(args)))
		}
	}
	query := fmt.Sprintf("UPDATE model_exceptions SET %s WHERE id = $2 AND status = $3",
		strings.Join(setParts, ", "))
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update exception status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("check exception status rows: %w", err)
	}
	if rows == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}
	history := models.ModelExceptionStatusHistory{
		ID:          uuid.NewString(),
		ExceptionID: params.ExceptionID,
		FromStatus:  from,
		ToStatus:    params.To,
		ActorID:     params.ActorID,
		Note:        params.Note,
		CreatedAt:   now,
	}
	const historyInsert = `INSERT INTO model_exception_status_history
	(id, exception_id, from_status, to_status, actor_id, note, created_at)
	VALUES (:id, :exception_id, :from_status, :to_status, :actor_id, :note, :created_at)`
	if _, err := tx.NamedExecContext(ctx, historyInsert, history); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("append exception history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exception status: %w", err)
	}
	return nil
}
