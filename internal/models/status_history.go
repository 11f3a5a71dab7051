package models

import "time"

// HistoryContextKind discriminates the typed additional_context payloads.
type HistoryContextKind string

const (
	ContextKindSendBack HistoryContextKind = "send_back"
	ContextKindHold     HistoryContextKind = "hold"
	ContextKindResume   HistoryContextKind = "resume"
)

// RequestStatusHistory is the append-only transition ledger. Rows are never
// updated or deleted.
type RequestStatusHistory struct {
	ID                string        `db:"id" json:"id"`
	RequestID         string        `db:"request_id" json:"requestId"`
	FromStatus        RequestStatus `db:"from_status" json:"fromStatus"`
	ToStatus          RequestStatus `db:"to_status" json:"toStatus"`
	ActorID           *string       `db:"actor_id" json:"actorId,omitempty"`
	Reason            string        `db:"reason" json:"reason"`
	AdditionalContext []byte        `db:"additional_context" json:"additionalContext,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
}

// SendBackContext is the typed additional_context payload for a send-back:
// the reviewer comment plus a snapshot of the work product being reverted,
// kept for audit and restoration.
type SendBackContext struct {
	Kind            HistoryContextKind `json:"kind"`
	ReviewerComment string             `json:"reviewerComment"`
	Snapshot        map[string]any     `json:"snapshot"`
}

// HoldContext is recorded when a request is placed on hold. PreviousStatus is
// what Resume returns the request to.
type HoldContext struct {
	Kind            HistoryContextKind `json:"kind"`
	PreviousStatus  RequestStatus      `json:"previousStatus"`
	Reason          string             `json:"reason"`
	HoldStartDate   time.Time          `json:"holdStartDate"`
	OriginalDueDate *time.Time         `json:"originalDueDate,omitempty"`
}

// ResumeContext is recorded when a hold is lifted.
type ResumeContext struct {
	Kind             HistoryContextKind `json:"kind"`
	HeldFor          string             `json:"heldFor"`
	PostponedDueDate *time.Time         `json:"postponedDueDate,omitempty"`
}
