package models

import "time"

// OverdueType distinguishes which deadline a request has blown.
type OverdueType string

const (
	OverduePreSubmission        OverdueType = "PRE_SUBMISSION"
	OverdueValidationInProgress OverdueType = "VALIDATION_IN_PROGRESS"
)

// OverdueBand is the overdue classification of a request at a point in time.
type OverdueBand string

const (
	BandOnTime                      OverdueBand = "ON_TIME"
	BandPreSubmissionOverdue        OverdueBand = "PRE_SUBMISSION_OVERDUE"
	BandValidationInProgressOverdue OverdueBand = "VALIDATION_IN_PROGRESS_OVERDUE"
)

// OverdueClassification is the calculator output. A request inside its grace
// window is overdue but not yet penalized; past grace it picks up downgrade
// notches from the matching grace bucket.
type OverdueClassification struct {
	Band             OverdueBand `json:"band"`
	DaysPastDue      int         `json:"daysPastDue"`
	WithinGrace      bool        `json:"withinGrace"`
	PastGrace        bool        `json:"pastGrace"`
	DowngradeNotches int         `json:"downgradeNotches"`
	EffectiveDueDate *time.Time  `json:"effectiveDueDate,omitempty"`
}

// OverdueRevalidationComment is the append-only justification trail for
// overdue requests. At most one row per (request, overdue_type) is current;
// supersession links rows into a singly-linked history.
type OverdueRevalidationComment struct {
	ID              string      `db:"id" json:"id"`
	RequestID       string      `db:"request_id" json:"requestId"`
	OverdueType     OverdueType `db:"overdue_type" json:"overdueType"`
	Comment         string      `db:"comment" json:"comment"`
	DueDateSnapshot time.Time   `db:"due_date_snapshot" json:"dueDateSnapshot"`
	IsCurrent       bool        `db:"is_current" json:"isCurrent"`
	SupersededAt    *time.Time  `db:"superseded_at" json:"supersededAt,omitempty"`
	SupersededBy    *string     `db:"superseded_by" json:"supersededBy,omitempty"`
	CreatedBy       string      `db:"created_by" json:"createdBy"`
	CreatedAt       time.Time   `db:"created_at" json:"createdAt"`
}

// GraceBucket maps an elapsed-days-past-due band to a scorecard downgrade.
type GraceBucket struct {
	ID               string `db:"id" json:"id"`
	MinDaysPastDue   int    `db:"min_days_past_due" json:"minDaysPastDue"`
	MaxDaysPastDue   *int   `db:"max_days_past_due" json:"maxDaysPastDue,omitempty"`
	DowngradeNotches int    `db:"downgrade_notches" json:"downgradeNotches"`
}
