package dto

import "github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"

// AcknowledgeExceptionRequest marks an open exception as acknowledged.
type AcknowledgeExceptionRequest struct {
	Note string `json:"note"`
}

// CloseExceptionRequest manually closes an exception. Both fields are
// mandatory; the engine rejects the close before any write without them.
type CloseExceptionRequest struct {
	ClosureReason    string `json:"closureReason" binding:"required"`
	ClosureNarrative string `json:"closureNarrative" binding:"required"`
}

// DetectRequest triggers a detection sweep.
type DetectRequest struct {
	ModelIDs []string `json:"modelIds"`
}

// ExceptionQuery filters the exception list endpoint.
type ExceptionQuery struct {
	ModelID  string                   `form:"modelId"`
	Type     models.ExceptionType     `form:"type"`
	Status   []models.ExceptionStatus `form:"status"`
	Page     int                      `form:"page"`
	PageSize int                      `form:"pageSize"`
}

// SweepResponse reports the per-model outcomes of a sweep.
type SweepResponse struct {
	Requested int                  `json:"requested"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Results   []models.SweepResult `json:"results"`
}
