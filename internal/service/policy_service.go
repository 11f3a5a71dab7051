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

type policyStore interface {
	GetByRiskTier(ctx context.Context, riskTier string) (*models.ValidationPolicy, error)
	List(ctx context.Context) ([]models.ValidationPolicy, error)
	Upsert(ctx context.Context, policy *models.ValidationPolicy) error
	ListGraceBuckets(ctx context.Context) ([]models.GraceBucket, error)
}

type regionStore interface {
	GetByCode(ctx context.Context, code string) (*models.Region, error)
	List(ctx context.Context) ([]models.Region, error)
	ListByCodes(ctx context.Context, codes []string) ([]models.Region, error)
}

type referenceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// PolicyService is the policy and region-flag provider for the engine.
// Reference data is administrator-edited and read-heavy, so lookups go
// through the cache with a bounded TTL.
type PolicyService struct {
	policies policyStore
	regions  regionStore
	cache    referenceCache
	audit    auditLogger
	ttl      time.Duration
	logger   *zap.Logger
}

// NewPolicyService constructs the service.
func NewPolicyService(policies policyStore, regions regionStore, cache referenceCache,
	audit auditLogger, ttl time.Duration, logger *zap.Logger) *PolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PolicyService{
		policies: policies,
		regions:  regions,
		cache:    cache,
		audit:    audit,
		ttl:      ttl,
		logger:   logger,
	}
}

// GetPolicy returns the policy for a risk tier. A tier without a configured
// policy is a blocking configuration error, never silently defaulted.
func (s *PolicyService) GetPolicy(ctx context.Context, riskTier string) (*models.ValidationPolicy, error) {
	key := "policy:" + riskTier
	var cached models.ValidationPolicy
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}
	policy, err := s.policies.GetByRiskTier(ctx, riskTier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPolicyMissing, "no validation policy configured for risk tier "+riskTier)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load policy")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, policy, s.ttl); err != nil {
			s.logger.Warn("failed to cache policy", zap.String("risk_tier", riskTier), zap.Error(err))
		}
	}
	return policy, nil
}

// ListPolicies returns all configured tier policies.
func (s *PolicyService) ListPolicies(ctx context.Context) ([]models.ValidationPolicy, error) {
	policies, err := s.policies.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list policies")
	}
	return policies, nil
}

// UpsertPolicy creates or replaces the policy for one tier and invalidates
// the cached copy so the engine sees the edit within the same request cycle.
func (s *PolicyService) UpsertPolicy(ctx context.Context, riskTier string, req dto.UpsertPolicyRequest, actorID string) (*models.ValidationPolicy, error) {
	policy := &models.ValidationPolicy{
		RiskTier:                riskTier,
		FrequencyMonths:         req.FrequencyMonths,
		GracePeriodMonths:       req.GracePeriodMonths,
		ModelChangeLeadTimeDays: req.ModelChangeLeadTimeDays,
		UpdatedBy:               &actorID,
	}
	if err := s.policies.Upsert(ctx, policy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upsert policy")
	}
	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "policy:*"); err != nil {
			s.logger.Warn("failed to invalidate policy cache", zap.Error(err))
		}
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionPolicyUpsert,
		Resource:   "validation_policy",
		ResourceID: &policy.RiskTier,
	})
	return policy, nil
}

// GetRegionFlags returns the governance flags for one region.
func (s *PolicyService) GetRegionFlags(ctx context.Context, code string) (*models.Region, error) {
	key := "region:" + code
	var cached models.Region
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}
	region, err := s.regions.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown region "+code)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load region")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, region, s.ttl); err != nil {
			s.logger.Warn("failed to cache region", zap.String("code", code), zap.Error(err))
		}
	}
	return region, nil
}

// RegionsFor loads the region flag set for a request's region scope.
func (s *PolicyService) RegionsFor(ctx context.Context, codes []string) ([]models.Region, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	regions, err := s.regions.ListByCodes(ctx, codes)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load regions")
	}
	if len(regions) != len(codes) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request references unknown regions")
	}
	return regions, nil
}

// ListRegions returns all regions.
func (s *PolicyService) ListRegions(ctx context.Context) ([]models.Region, error) {
	regions, err := s.regions.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list regions")
	}
	return regions, nil
}

// GraceBuckets returns the downgrade-notch taxonomy.
func (s *PolicyService) GraceBuckets(ctx context.Context) ([]models.GraceBucket, error) {
	const key = "grace_buckets"
	var cached []models.GraceBucket
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}
	buckets, err := s.policies.ListGraceBuckets(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grace buckets")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, buckets, s.ttl); err != nil {
			s.logger.Warn("failed to cache grace buckets", zap.Error(err))
		}
	}
	return buckets, nil
}

func (s *PolicyService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "policy-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
