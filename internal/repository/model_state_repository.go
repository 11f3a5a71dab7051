package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

// ModelStateRepository provides the read-only model/version/monitoring state
// the exception detectors scan. The detection engine never writes through it.
type ModelStateRepository struct {
	db *sqlx.DB
}

// NewModelStateRepository constructs the repository.
func NewModelStateRepository(db *sqlx.DB) *ModelStateRepository {
	return &ModelStateRepository{db: db}
}

// GetModel fetches one model.
func (r *ModelStateRepository) GetModel(ctx context.Context, id string) (*models.Model, error) {
	const query = `SELECT id, name, risk_tier, intended_purpose, in_production, created_at FROM models WHERE id = $1`
	var model models.Model
	if err := r.db.GetContext(ctx, &model, query, id); err != nil {
		return nil, err
	}
	return &model, nil
}

// ListModelIDs returns up to limit model IDs for a bounded sweep.
func (r *ModelStateRepository) ListModelIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id FROM models ORDER BY created_at LIMIT %d`, limit)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list model ids: %w", err)
	}
	return ids, nil
}

// ListOutcomes returns monitoring outcomes for a model, newest first.
func (r *ModelStateRepository) ListOutcomes(ctx context.Context, modelID string, limit int) ([]models.MonitoringOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, model_id, metric, outcome, remediation_accepted, run_date
	FROM monitoring_outcomes WHERE model_id = $1 ORDER BY run_date DESC LIMIT %d`, limit)
	var outcomes []models.MonitoringOutcome
	if err := r.db.SelectContext(ctx, &outcomes, query, modelID); err != nil {
		return nil, fmt.Errorf("list monitoring outcomes: %w", err)
	}
	return outcomes, nil
}

// ListUsages returns recorded usage relationships for a model.
func (r *ModelStateRepository) ListUsages(ctx context.Context, modelID string) ([]models.ModelUsage, error) {
	const query = `SELECT id, model_id, relationship_direction, relationship_type, purpose_classification, recorded_at
	FROM model_usages WHERE model_id = $1 ORDER BY recorded_at DESC`
	var usages []models.ModelUsage
	if err := r.db.SelectContext(ctx, &usages, query, modelID); err != nil {
		return nil, fmt.Errorf("list model usages: %w", err)
	}
	return usages, nil
}

// ListVersions returns the versions of a model.
func (r *ModelStateRepository) ListVersions(ctx context.Context, modelID string) ([]models.ModelVersion, error) {
	const query = `SELECT id, model_id, version_label, in_production, validation_request_id, created_at
	FROM model_versions WHERE model_id = $1 ORDER BY created_at DESC`
	var versions []models.ModelVersion
	if err := r.db.SelectContext(ctx, &versions, query, modelID); err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	return versions, nil
}

// HasStandaloneRating reports whether a region-specific risk assessment is on
// file for the model.
func (r *ModelStateRepository) HasStandaloneRating(ctx context.Context, modelID, regionCode string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM standalone_ratings WHERE model_id = $1 AND region_code = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, modelID, regionCode); err != nil {
		return false, fmt.Errorf("check standalone rating: %w", err)
	}
	return exists, nil
}
