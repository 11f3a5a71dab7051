package models

import "time"

// RequestStatus enumerates the validation request lifecycle states.
type RequestStatus string

const (
	StatusDraft              RequestStatus = "DRAFT"
	StatusSubmitted          RequestStatus = "SUBMITTED"
	StatusSubmissionReceived RequestStatus = "SUBMISSION_RECEIVED"
	StatusInProgress         RequestStatus = "IN_PROGRESS"
	StatusPendingApproval    RequestStatus = "PENDING_APPROVAL"
	StatusApproved           RequestStatus = "APPROVED"
	StatusRejected           RequestStatus = "REJECTED"
	StatusCancelled          RequestStatus = "CANCELLED"
	StatusOnHold             RequestStatus = "ON_HOLD"
	StatusSentBack           RequestStatus = "SENT_BACK"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// ValidationType enumerates supported validation categories.
type ValidationType string

const (
	ValidationTypeInitial       ValidationType = "INITIAL"
	ValidationTypeComprehensive ValidationType = "COMPREHENSIVE"
	ValidationTypeAnnual        ValidationType = "ANNUAL"
	ValidationTypeTargeted      ValidationType = "TARGETED"
	ValidationTypeChange        ValidationType = "CHANGE"
)

// ResetsRevalidationClock reports whether a completed validation of this type
// restarts the revalidation cadence. Targeted/change validations do not.
func (t ValidationType) ResetsRevalidationClock() bool {
	return t == ValidationTypeComprehensive || t == ValidationTypeAnnual
}

// VersionSource records whether the model-version linkage was explicit or inferred.
type VersionSource string

const (
	VersionSourceExplicit VersionSource = "EXPLICIT"
	VersionSourceInferred VersionSource = "INFERRED"
)

// ValidationRequest is one validation engagement over one or more models.
// The status column is a cached projection; request_status_history is the
// source of truth for past states.
type ValidationRequest struct {
	ID                     string         `db:"id" json:"id"`
	Status                 RequestStatus  `db:"status" json:"status"`
	ValidationType         ValidationType `db:"validation_type" json:"validationType"`
	VersionSource          VersionSource  `db:"version_source" json:"versionSource"`
	PriorRequestID         *string        `db:"prior_request_id" json:"priorRequestId,omitempty"`
	SubmissionDueDate      *time.Time     `db:"submission_due_date" json:"submissionDueDate,omitempty"`
	TargetCompletionDate   *time.Time     `db:"target_completion_date" json:"targetCompletionDate,omitempty"`
	SubmissionReceivedDate *time.Time     `db:"submission_received_date" json:"submissionReceivedDate,omitempty"`
	CompletionDate         *time.Time     `db:"completion_date" json:"completionDate,omitempty"`
	HoldStartDate          *time.Time     `db:"hold_start_date" json:"holdStartDate,omitempty"`
	OriginalDueDate        *time.Time     `db:"original_due_date" json:"originalDueDate,omitempty"`
	PostponedDueDate       *time.Time     `db:"postponed_due_date" json:"postponedDueDate,omitempty"`
	PostponementCount      int            `db:"postponement_count" json:"postponementCount"`
	CreatedBy              string         `db:"created_by" json:"createdBy"`
	CreatedAt              time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time      `db:"updated_at" json:"updatedAt"`

	// Hydrated from join tables, not columns.
	ModelIDs []string `db:"-" json:"modelIds,omitempty"`
	Regions  []string `db:"-" json:"regions,omitempty"`
}

// ValidationRequestFilter constrains listing queries.
type ValidationRequestFilter struct {
	Status         []RequestStatus
	ValidationType ValidationType
	ModelID        string
	Region         string
	CreatedBy      string
	Page           int
	PageSize       int
}
