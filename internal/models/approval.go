package models

import "time"

// ApprovalType enumerates the sign-off varieties.
type ApprovalType string

const (
	ApprovalTypeGlobal      ApprovalType = "GLOBAL"
	ApprovalTypeRegional    ApprovalType = "REGIONAL"
	ApprovalTypeConditional ApprovalType = "CONDITIONAL"
)

// ApprovalStatus mirrors the recorded decision on an approval row.
type ApprovalStatus string

const (
	ApprovalStatusApproved ApprovalStatus = "Approved"
	ApprovalStatusPending  ApprovalStatus = "Pending"
)

// ValidationApproval is one approval action on a request.
//
// Invariant: (ApprovalType == REGIONAL) == (RegionCode != nil). Global
// approvals never carry a region; regional ones always do; conditional ones
// carry neither a mandatory region nor a mandatory approver at creation time,
// which is why ApproverID is nullable. RepresentedRegion snapshots which
// region the approver acted for and is authoritative for aggregation.
type ValidationApproval struct {
	ID                string         `db:"id" json:"id"`
	RequestID         string         `db:"request_id" json:"requestId"`
	ApprovalType      ApprovalType   `db:"approval_type" json:"approvalType"`
	RegionCode        *string        `db:"region_code" json:"regionCode,omitempty"`
	ApproverID        *string        `db:"approver_id" json:"approverId,omitempty"`
	RepresentedRegion *string        `db:"represented_region" json:"representedRegion,omitempty"`
	ApprovalStatus    ApprovalStatus `db:"approval_status" json:"approvalStatus"`
	ApprovedAt        *time.Time     `db:"approved_at" json:"approvedAt,omitempty"`
	Superseded        bool           `db:"superseded" json:"superseded"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
}

// Finalized reports whether the approval counts toward aggregation.
func (a ValidationApproval) Finalized() bool {
	return !a.Superseded && a.ApproverID != nil && a.ApprovalStatus == ApprovalStatusApproved
}
