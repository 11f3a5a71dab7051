package dto

import (
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
)

// CreateValidationRequest opens a new request in DRAFT.
type CreateValidationRequest struct {
	ValidationType models.ValidationType `json:"validationType" binding:"required"`
	ModelIDs       []string              `json:"modelIds" binding:"required,min=1"`
	Regions        []string              `json:"regions"`
	PriorRequestID string                `json:"priorRequestId"`
	VersionSource  models.VersionSource  `json:"versionSource"`
}

// SubmitRequest carries the submission metadata.
type SubmitRequest struct {
	Note string `json:"note"`
}

// TransitionRequest carries a reason for simple transitions (reject, cancel,
// receive, start, request-approval).
type TransitionRequest struct {
	Reason string `json:"reason"`
}

// SendBackRequest reverts a pending-approval request for revision.
type SendBackRequest struct {
	ReviewerComment string         `json:"reviewerComment" binding:"required"`
	Snapshot        map[string]any `json:"snapshot"`
	// ReturnTo selects the working state to revert to once work resumes.
	ReturnTo models.RequestStatus `json:"returnTo"`
}

// HoldRequest freezes a request and its due-date clocks.
type HoldRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ValidationRequestQuery filters the list endpoint.
type ValidationRequestQuery struct {
	Status         []models.RequestStatus `form:"status"`
	ValidationType models.ValidationType  `form:"type"`
	ModelID        string                 `form:"modelId"`
	Region         string                 `form:"region"`
	Page           int                    `form:"page"`
	PageSize       int                    `form:"pageSize"`
}

// ResumeRevisionRequest moves a sent-back request forward again. Target is
// optional and defaults to SUBMISSION_RECEIVED.
type ResumeRevisionRequest struct {
	Target models.RequestStatus `json:"target"`
}

// CreateOverdueCommentRequest adds a new current justification comment.
type CreateOverdueCommentRequest struct {
	OverdueType models.OverdueType `json:"overdueType" binding:"required"`
	Comment     string             `json:"comment" binding:"required"`
}

// OverdueCommentStatus reports the current comment and whether it is stale.
type OverdueCommentStatus struct {
	Classification models.OverdueClassification       `json:"classification"`
	Current        *models.OverdueRevalidationComment `json:"current,omitempty"`
	Stale          bool                               `json:"stale"`
	Missing        bool                               `json:"missing"`
}
