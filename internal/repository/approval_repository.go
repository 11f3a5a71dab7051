package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

const approvalColumns = `id, request_id, approval_type, region_code, approver_id,
       represented_region, approval_status, approved_at, superseded, created_at`

// CompletionUpdate tells RecordApproval to move the request to APPROVED.
type CompletionUpdate struct {
	CompletionDate time.Time
	ActorID        *string
}

// ApprovalRepository persists approval actions. The request owns its
// approvals, so the repository also applies the completion transition the
// aggregation decides on, inside the same transaction as the insert.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// GetByID fetches one approval row.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ValidationApproval, error) {
	query := fmt.Sprintf(`SELECT %s FROM validation_approvals WHERE id = $1`, approvalColumns)
	var approval models.ValidationApproval
	if err := r.db.GetContext(ctx, &approval, query, id); err != nil {
		return nil, err
	}
	return &approval, nil
}

// ListByRequest returns all approval rows for a request.
func (r *ApprovalRepository) ListByRequest(ctx context.Context, requestID string) ([]models.ValidationApproval, error) {
	query := fmt.Sprintf(`SELECT %s FROM validation_approvals WHERE request_id = $1 ORDER BY created_at`, approvalColumns)
	var approvals []models.ValidationApproval
	if err := r.db.SelectContext(ctx, &approvals, query, requestID); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return approvals, nil
}

// RecordApproval inserts the approval and re-reads the full approval set
// inside the transaction; decide runs against that snapshot so two racing
// approvals cannot both observe "not yet satisfied". A non-nil
// CompletionUpdate applies the PENDING_APPROVAL -> APPROVED transition in the
// same transaction.
func (r *ApprovalRepository) RecordApproval(ctx context.Context, approval *models.ValidationApproval,
	decide func(approvals []models.ValidationApproval) (*CompletionUpdate, error)) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const insert = `INSERT INTO validation_approvals
	(id, request_id, approval_type, region_code, approver_id, represented_region,
	 approval_status, approved_at, superseded, created_at)
	VALUES (:id, :request_id, :approval_type, :region_code, :approver_id, :represented_region,
	 :approval_status, :approved_at, :superseded, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, approval); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert approval: %w", err)
	}
	if err := r.evaluateInTx(ctx, tx, approval.RequestID, decide); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approval: %w", err)
	}
	return nil
}

// FinalizeConditional fills the approver on a conditional approval and
// re-evaluates satisfaction, all in one transaction.
func (r *ApprovalRepository) FinalizeConditional(ctx context.Context, approvalID, approverID string,
	representedRegion *string, approvedAt time.Time,
	decide func(approvals []models.ValidationApproval) (*CompletionUpdate, error)) (*models.ValidationApproval, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	const update = `UPDATE validation_approvals
	SET approver_id = $2, represented_region = COALESCE($3, represented_region),
	    approval_status = $4, approved_at = $5
	WHERE id = $1 AND approval_type = $6 AND approver_id IS NULL`
	result, err := tx.ExecContext(ctx, update, approvalID, approverID, representedRegion,
		models.ApprovalStatusApproved, approvedAt, models.ApprovalTypeConditional)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("finalize conditional approval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("check finalize rows: %w", err)
	}
	if rows == 0 {
		tx.Rollback() //nolint:errcheck
		return nil, sql.ErrNoRows
	}

	query := fmt.Sprintf(`SELECT %s FROM validation_approvals WHERE id = $1`, approvalColumns)
	var approval models.ValidationApproval
	if err := tx.GetContext(ctx, &approval, query, approvalID); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("reload approval: %w", err)
	}
	if err := r.evaluateInTx(ctx, tx, approval.RequestID, decide); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return &approval, nil
}

func (r *ApprovalRepository) evaluateInTx(ctx context.Context, tx *sqlx.Tx, requestID string,
	decide func(approvals []models.ValidationApproval) (*CompletionUpdate, error)) error {
	if decide == nil {
		return nil
	}
	query := fmt.Sprintf(`SELECT %s FROM validation_approvals WHERE request_id = $1 ORDER BY created_at`, approvalColumns)
	var approvals []models.ValidationApproval
	if err := tx.SelectContext(ctx, &approvals, query, requestID); err != nil {
		return fmt.Errorf("reread approvals: %w", err)
	}
	completion, err := decide(approvals)
	if err != nil {
		return err
	}
	if completion == nil {
		return nil
	}
	return applyTransition(ctx, tx, TransitionParams{
		RequestID: requestID,
		From:      models.StatusPendingApproval,
		To:        models.StatusApproved,
		ActorID:   completion.ActorID,
		Reason:    "fully approved",
		Updates:   RequestUpdates{CompletionDate: &completion.CompletionDate},
	})
}
