package dto

import "github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"

// RecordApprovalRequest records one approval action on a request.
type RecordApprovalRequest struct {
	ApprovalType      models.ApprovalType `json:"approvalType" binding:"required"`
	RegionCode        string              `json:"regionCode"`
	RepresentedRegion string              `json:"representedRegion"`
}

// FinalizeConditionalRequest fills in the approver on a conditional approval,
// typically by an administrator acting as proxy.
type FinalizeConditionalRequest struct {
	ApproverID        string `json:"approverId" binding:"required"`
	RepresentedRegion string `json:"representedRegion"`
}

// ApprovalStatusResponse is the deficiency report for a request.
type ApprovalStatusResponse struct {
	Satisfied          bool                        `json:"satisfied"`
	ViaConditional     bool                        `json:"viaConditional"`
	OutstandingRegions []string                    `json:"outstandingRegions"`
	Approvals          []models.ValidationApproval `json:"approvals"`
}
