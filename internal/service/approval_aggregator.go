package service

import (
	"sort"
	"time"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

// Aggregate is the approval-aggregation verdict for one request.
type Aggregate struct {
	Satisfied          bool
	ViaConditional     bool
	OutstandingRegions []string
	// LatestApprovedAt is the max approved_at across counted approvals; it
	// becomes the request's completion_date on full approval.
	LatestApprovedAt *time.Time
}

// EvaluateApprovals reconciles the recorded approvals against the regional
// policy. A request is fully approved when exactly one non-superseded global
// (or finalized conditional) approval with a non-null approver exists, and
// every region requiring regional approval has a finalized regional approval
// whose represented_region matches. The function is pure: it never mutates
// its inputs and two calls with the same arguments yield the same verdict.
func EvaluateApprovals(approvals []models.ValidationApproval, regions []models.Region) Aggregate {
	var (
		globalCount      int
		conditionalCount int
		latest           *time.Time
	)
	covered := make(map[string]bool)

	for _, approval := range approvals {
		if !approval.Finalized() {
			continue
		}
		switch approval.ApprovalType {
		case models.ApprovalTypeGlobal:
			globalCount++
		case models.ApprovalTypeConditional:
			// A finalized conditional stands in for the global requirement
			// but is counted apart for the delegated-approval trail.
			conditionalCount++
		case models.ApprovalTypeRegional:
			if approval.RepresentedRegion != nil {
				covered[*approval.RepresentedRegion] = true
			}
		}
		if approval.ApprovedAt != nil && (latest == nil || approval.ApprovedAt.After(*latest)) {
			t := *approval.ApprovedAt
			latest = &t
		}
	}

	var outstanding []string
	for _, region := range regions {
		if region.RequiresRegionalApproval && !covered[region.Code] {
			outstanding = append(outstanding, region.Code)
		}
	}
	sort.Strings(outstanding)

	// Exactly one global; a second finalized global is an invariant breach,
	// never a stronger approval.
	viaConditional := globalCount == 0 && conditionalCount >= 1
	globallyApproved := globalCount == 1 || viaConditional

	return Aggregate{
		Satisfied:          globallyApproved && len(outstanding) == 0,
		ViaConditional:     viaConditional,
		OutstandingRegions: outstanding,
		LatestApprovedAt:   latest,
	}
}

// countFinalizedGlobals counts non-superseded global approvals carrying an
// approver, used to reject a duplicate global sign-off inside the recording
// transaction.
func countFinalizedGlobals(approvals []models.ValidationApproval) int {
	count := 0
	for _, approval := range approvals {
		if approval.Finalized() && approval.ApprovalType == models.ApprovalTypeGlobal {
			count++
		}
	}
	return count
}
