package models

import "time"

// Model is the inventory record the detection engine scans. The engine reads
// this state; it never mutates it.
type Model struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	RiskTier        string    `db:"risk_tier" json:"riskTier"`
	IntendedPurpose string    `db:"intended_purpose" json:"intendedPurpose"`
	InProduction    bool      `db:"in_production" json:"inProduction"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// ModelVersion is one deployable revision of a model.
type ModelVersion struct {
	ID                  string    `db:"id" json:"id"`
	ModelID             string    `db:"model_id" json:"modelId"`
	VersionLabel        string    `db:"version_label" json:"versionLabel"`
	InProduction        bool      `db:"in_production" json:"inProduction"`
	ValidationRequestID *string   `db:"validation_request_id" json:"validationRequestId,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
}

// ModelUsage records an application/usage relationship for a model.
type ModelUsage struct {
	ID                    string    `db:"id" json:"id"`
	ModelID               string    `db:"model_id" json:"modelId"`
	RelationshipDirection string    `db:"relationship_direction" json:"relationshipDirection"`
	RelationshipType      string    `db:"relationship_type" json:"relationshipType"`
	PurposeClassification string    `db:"purpose_classification" json:"purposeClassification"`
	RecordedAt            time.Time `db:"recorded_at" json:"recordedAt"`
}

// Monitoring outcome colors as recorded by the scorecard process.
const (
	OutcomeGreen = "GREEN"
	OutcomeAmber = "AMBER"
	OutcomeRed   = "RED"
)

// MonitoringOutcome is one scorecard/monitoring result for a model metric.
type MonitoringOutcome struct {
	ID                  string    `db:"id" json:"id"`
	ModelID             string    `db:"model_id" json:"modelId"`
	Metric              string    `db:"metric" json:"metric"`
	Outcome             string    `db:"outcome" json:"outcome"`
	RemediationAccepted bool      `db:"remediation_accepted" json:"remediationAccepted"`
	RunDate             time.Time `db:"run_date" json:"runDate"`
}

// StandaloneRating is a region-specific risk assessment for a model, required
// before submission in regions flagged requires_standalone_rating.
type StandaloneRating struct {
	ID         string    `db:"id" json:"id"`
	ModelID    string    `db:"model_id" json:"modelId"`
	RegionCode string    `db:"region_code" json:"regionCode"`
	Rating     string    `db:"rating" json:"rating"`
	RatedAt    time.Time `db:"rated_at" json:"ratedAt"`
}
