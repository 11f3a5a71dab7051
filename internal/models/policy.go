package models

import "time"

// ValidationPolicy is the per-risk-tier governance configuration.
// Administrator-edited, read-only to the engine.
type ValidationPolicy struct {
	RiskTier                string    `db:"risk_tier" json:"riskTier"`
	FrequencyMonths         int       `db:"frequency_months" json:"frequencyMonths"`
	GracePeriodMonths       int       `db:"grace_period_months" json:"gracePeriodMonths"`
	ModelChangeLeadTimeDays int       `db:"model_change_lead_time_days" json:"modelChangeLeadTimeDays"`
	UpdatedBy               *string   `db:"updated_by" json:"updatedBy,omitempty"`
	UpdatedAt               time.Time `db:"updated_at" json:"updatedAt"`
}

// Region is governance reference data for one jurisdiction.
type Region struct {
	Code                     string `db:"code" json:"code"`
	Name                     string `db:"name" json:"name"`
	RequiresRegionalApproval bool   `db:"requires_regional_approval" json:"requiresRegionalApproval"`
	EnforceValidationPlan    bool   `db:"enforce_validation_plan" json:"enforceValidationPlan"`
	RequiresStandaloneRating bool   `db:"requires_standalone_rating" json:"requiresStandaloneRating"`
}
