package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/service"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/response"
)

// ApprovalHandler exposes approval recording, finalization and status.
type ApprovalHandler struct {
	service *service.ApprovalService
	metrics *service.MetricsService
}

// NewApprovalHandler constructs the handler. metrics may be nil.
func NewApprovalHandler(svc *service.ApprovalService, metrics *service.MetricsService) *ApprovalHandler {
	return &ApprovalHandler{service: svc, metrics: metrics}
}

// Record godoc
// @Summary Record an approval on a pending request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RecordApprovalRequest true "Approval payload"
// @Success 201 {object} response.Envelope
// @Router /validation-requests/{id}/approvals [post]
func (h *ApprovalHandler) Record(c *gin.Context) {
	var req dto.RecordApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	approval, err := h.service.Record(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordApproval(string(approval.ApprovalType))
	}
	response.Created(c, approval)
}

// Status godoc
// @Summary Report approval satisfaction and outstanding regions
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/approvals/status [get]
func (h *ApprovalHandler) Status(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Finalize godoc
// @Summary Fill in a conditional approval
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param payload body dto.FinalizeConditionalRequest true "Finalization payload"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/finalize [post]
func (h *ApprovalHandler) Finalize(c *gin.Context) {
	var req dto.FinalizeConditionalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	approval, err := h.service.Finalize(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}
