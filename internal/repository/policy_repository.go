package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

// PolicyRepository reads and writes per-risk-tier validation policies and the
// grace-bucket taxonomy.
type PolicyRepository struct {
	db *sqlx.DB
}

// NewPolicyRepository constructs the repository.
func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetByRiskTier fetches the policy for one risk tier.
func (r *PolicyRepository) GetByRiskTier(ctx context.Context, riskTier string) (*models.ValidationPolicy, error) {
	const query = `SELECT risk_tier, frequency_months, grace_period_months, model_change_lead_time_days, updated_by, updated_at
	FROM validation_policies WHERE risk_tier = $1`
	var policy models.ValidationPolicy
	if err := r.db.GetContext(ctx, &policy, query, riskTier); err != nil {
		return nil, err
	}
	return &policy, nil
}

// List returns all configured policies.
func (r *PolicyRepository) List(ctx context.Context) ([]models.ValidationPolicy, error) {
	const query = `SELECT risk_tier, frequency_months, grace_period_months, model_change_lead_time_days, updated_by, updated_at
	FROM validation_policies ORDER BY risk_tier`
	var policies []models.ValidationPolicy
	if err := r.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// Upsert creates or replaces the policy for a risk tier.
func (r *PolicyRepository) Upsert(ctx context.Context, policy *models.ValidationPolicy) error {
	policy.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO validation_policies
	(risk_tier, frequency_months, grace_period_months, model_change_lead_time_days, updated_by, updated_at)
	VALUES (:risk_tier, :frequency_months, :grace_period_months, :model_change_lead_time_days, :updated_by, :updated_at)
	ON CONFLICT (risk_tier)
	DO UPDATE SET frequency_months = EXCLUDED.frequency_months,
	              grace_period_months = EXCLUDED.grace_period_months,
	              model_change_lead_time_days = EXCLUDED.model_change_lead_time_days,
	              updated_by = EXCLUDED.updated_by,
	              updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, policy); err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

// ListGraceBuckets returns the downgrade taxonomy ordered by band start.
func (r *PolicyRepository) ListGraceBuckets(ctx context.Context) ([]models.GraceBucket, error) {
	const query = `SELECT id, min_days_past_due, max_days_past_due, downgrade_notches
	FROM grace_buckets ORDER BY min_days_past_due`
	var buckets []models.GraceBucket
	if err := r.db.SelectContext(ctx, &buckets, query); err != nil {
		return nil, fmt.Errorf("list grace buckets: %w", err)
	}
	return buckets, nil
}

// UpsertGraceBucket stores one taxonomy band.
func (r *PolicyRepository) UpsertGraceBucket(ctx context.Context, bucket *models.GraceBucket) error {
	if bucket.ID == "" {
		bucket.ID = uuid.NewString()
	}
	const query = `INSERT INTO grace_buckets (id, min_days_past_due, max_days_past_due, downgrade_notches)
	VALUES (:id, :min_days_past_due, :max_days_past_due, :downgrade_notches)
	ON CONFLICT (id)
	DO UPDATE SET min_days_past_due = EXCLUDED.min_days_past_due,
	              max_days_past_due = EXCLUDED.max_days_past_due,
	              downgrade_notches = EXCLUDED.downgrade_notches`
	if _, err := r.db.NamedExecContext(ctx, query, bucket); err != nil {
		return fmt.Errorf("upsert grace bucket: %w", err)
	}
	return nil
}
