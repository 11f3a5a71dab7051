package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

const commentColumns = `id, request_id, overdue_type, comment, due_date_snapshot,
       is_current, superseded_at, superseded_by, created_by, created_at`

// OverdueCommentRepository persists the overdue-justification trail.
type OverdueCommentRepository struct {
	db *sqlx.DB
}

// NewOverdueCommentRepository constructs the repository.
func NewOverdueCommentRepository(db *sqlx.DB) *OverdueCommentRepository {
	return &OverdueCommentRepository{db: db}
}

// Current returns the current comment for (request, overdueType), if any.
func (r *OverdueCommentRepository) Current(ctx context.Context, requestID string, overdueType models.OverdueType) (*models.OverdueRevalidationComment, error) {
	query := fmt.Sprintf(`SELECT %s FROM overdue_revalidation_comments
	WHERE request_id = $1 AND overdue_type = $2 AND is_current`, commentColumns)
	var comment models.OverdueRevalidationComment
	if err := r.db.GetContext(ctx, &comment, query, requestID, overdueType); err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListByRequest returns the full comment history, newest first.
func (r *OverdueCommentRepository) ListByRequest(ctx context.Context, requestID string) ([]models.OverdueRevalidationComment, error) {
	query := fmt.Sprintf(`SELECT %s FROM overdue_revalidation_comments
	WHERE request_id = $1 ORDER BY created_at DESC`, commentColumns)
	var comments []models.OverdueRevalidationComment
	if err := r.db.SelectContext(ctx, &comments, query, requestID); err != nil {
		return nil, fmt.Errorf("list overdue comments: %w", err)
	}
	return comments, nil
}

// Supersede atomically retires the previous current comment and inserts the
// new one in a single transaction; two rows can never race to current.
func (r *OverdueCommentRepository) Supersede(ctx context.Context, comment *models.OverdueRevalidationComment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	comment.IsCurrent = true

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const retire = `UPDATE overdue_revalidation_comments
	SET is_current = FALSE, superseded_at = $1, superseded_by = $2
	WHERE request_id = $3 AND overdue_type = $4 AND is_current`
	if _, err := tx.ExecContext(ctx, retire, now, comment.ID, comment.RequestID, comment.OverdueType); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("retire current comment: %w", err)
	}
	const insert = `INSERT INTO overdue_revalidation_comments
	(id, request_id, overdue_type, comment, due_date_snapshot, is_current, superseded_at, superseded_by, created_by, created_at)
	VALUES (:id, :request_id, :overdue_type, :comment, :due_date_snapshot, :is_current, :superseded_at, :superseded_by, :created_by, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, comment); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert overdue comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit overdue comment: %w", err)
	}
	return nil
}
