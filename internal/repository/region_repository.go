package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

// RegionRepository reads region reference data.
type RegionRepository struct {
	db *sqlx.DB
}

// NewRegionRepository constructs the repository.
func NewRegionRepository(db *sqlx.DB) *RegionRepository {
	return &RegionRepository{db: db}
}

// GetByCode fetches one region.
func (r *RegionRepository) GetByCode(ctx context.Context, code string) (*models.Region, error) {
	const query = `SELECT code, name, requires_regional_approval, enforce_validation_plan, requires_standalone_rating
	FROM regions WHERE code = $1`
	var region models.Region
	if err := r.db.GetContext(ctx, &region, query, code); err != nil {
		return nil, err
	}
	return &region, nil
}

// List returns all regions.
func (r *RegionRepository) List(ctx context.Context) ([]models.Region, error) {
	const query = `SELECT code, name, requires_regional_approval, enforce_validation_plan, requires_standalone_rating
	FROM regions ORDER BY code`
	var regions []models.Region
	if err := r.db.SelectContext(ctx, &regions, query); err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return regions, nil
}

// ListByCodes returns the named regions.
func (r *RegionRepository) ListByCodes(ctx context.Context, codes []string) ([]models.Region, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(codes))
	args := make([]interface{}, len(codes))
	for i, code := range codes {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = code
	}
	query := fmt.Sprintf(`SELECT code, name, requires_regional_approval, enforce_validation_plan, requires_standalone_rating
	FROM regions WHERE code IN (%s) ORDER BY code`, strings.Join(placeholders, ","))
	var regions []models.Region
	if err := r.db.SelectContext(ctx, &regions, query, args...); err != nil {
		return nil, fmt.Errorf("list regions by codes: %w", err)
	}
	return regions, nil
}
