package models

import "time"

// ExceptionType enumerates detected governance violations.
type ExceptionType string

const (
	ExceptionType1UnmitigatedPerformance ExceptionType = "TYPE1_UNMITIGATED_PERFORMANCE"
	ExceptionType2OutsidePurpose         ExceptionType = "TYPE2_OUTSIDE_INTENDED_PURPOSE"
	ExceptionType3UsePriorToValidation   ExceptionType = "TYPE3_USE_PRIOR_TO_VALIDATION"
)

// ExceptionStatus is the exception lifecycle. Acknowledge is an optional
// information step; auto-close goes OPEN -> CLOSED directly.
type ExceptionStatus string

const (
	ExceptionOpen         ExceptionStatus = "OPEN"
	ExceptionAcknowledged ExceptionStatus = "ACKNOWLEDGED"
	ExceptionClosed       ExceptionStatus = "CLOSED"
)

// ModelException is a detected governance violation.
//
// Invariant: Status == CLOSED implies ClosureReason and ClosureNarrative are
// both set. The engine enforces this before any write and the schema carries
// a matching CHECK constraint.
type ModelException struct {
	ID                  string          `db:"id" json:"id"`
	ModelID             string          `db:"model_id" json:"modelId"`
	ModelVersionID      *string         `db:"model_version_id" json:"modelVersionId,omitempty"`
	ValidationRequestID *string         `db:"validation_request_id" json:"validationRequestId,omitempty"`
	ExceptionType       ExceptionType   `db:"exception_type" json:"exceptionType"`
	Code                string          `db:"code" json:"code"`
	NaturalKey          string          `db:"natural_key" json:"naturalKey"`
	Status              ExceptionStatus `db:"status" json:"status"`
	Detail              []byte          `db:"detail" json:"detail,omitempty"`
	ClosureReason       *string         `db:"closure_reason" json:"closureReason,omitempty"`
	ClosureNarrative    *string         `db:"closure_narrative" json:"closureNarrative,omitempty"`
	AutoClosed          bool            `db:"auto_closed" json:"autoClosed"`
	ClosingApprovalID   *string         `db:"closing_approval_id" json:"closingApprovalId,omitempty"`
	OpenedAt            time.Time       `db:"opened_at" json:"openedAt"`
	ClosedAt            *time.Time      `db:"closed_at" json:"closedAt,omitempty"`
}

// ModelExceptionStatusHistory records every exception lifecycle transition.
type ModelExceptionStatusHistory struct {
	ID          string          `db:"id" json:"id"`
	ExceptionID string          `db:"exception_id" json:"exceptionId"`
	FromStatus  ExceptionStatus `db:"from_status" json:"fromStatus"`
	ToStatus    ExceptionStatus `db:"to_status" json:"toStatus"`
	ActorID     *string         `db:"actor_id" json:"actorId,omitempty"`
	Note        string          `db:"note" json:"note"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// ExceptionFilter constrains listing queries.
type ExceptionFilter struct {
	ModelID       string
	ExceptionType ExceptionType
	Status        []ExceptionStatus
	Page          int
	PageSize      int
}

// SweepResult reports a per-model detection outcome. A sweep never fails
// atomically; failures are captured per model.
type SweepResult struct {
	ModelID string `json:"modelId"`
	Opened  int    `json:"opened"`
	Closed  int    `json:"closed"`
	Err     string `json:"error,omitempty"`
}
