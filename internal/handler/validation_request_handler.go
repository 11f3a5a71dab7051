package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/service"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/response"
)

// ValidationRequestHandler exposes the validation request lifecycle endpoints.
type ValidationRequestHandler struct {
	workflow *service.WorkflowService
	metrics  *service.MetricsService
}

// NewValidationRequestHandler constructs the handler. metrics may be nil.
func NewValidationRequestHandler(workflow *service.WorkflowService, metrics *service.MetricsService) *ValidationRequestHandler {
	return &ValidationRequestHandler{workflow: workflow, metrics: metrics}
}

func (h *ValidationRequestHandler) recordTransition(request *models.ValidationRequest) {
	if h.metrics != nil && request != nil {
		h.metrics.RecordTransition(string(request.Status))
	}
}

// List godoc
// @Summary List validation requests
// @Tags ValidationRequests
// @Produce json
// @Param status query []string false "Filter by status"
// @Param type query string false "Filter by validation type"
// @Param modelId query string false "Filter by model"
// @Param region query string false "Filter by region"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /validation-requests [get]
func (h *ValidationRequestHandler) List(c *gin.Context) {
	var query dto.ValidationRequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		if size, err := strconv.Atoi(c.DefaultQuery("pageSize", "20")); err == nil {
			query.PageSize = size
		}
	}

	requests, total, err := h.workflow.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Create godoc
// @Summary Create a validation request
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateValidationRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /validation-requests [post]
func (h *ValidationRequestHandler) Create(c *gin.Context) {
	var req dto.CreateValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.workflow.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Get godoc
// @Summary Get a validation request
// @Tags ValidationRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id} [get]
func (h *ValidationRequestHandler) Get(c *gin.Context) {
	request, err := h.workflow.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// History godoc
// @Summary Get the status history of a validation request
// @Tags ValidationRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/history [get]
func (h *ValidationRequestHandler) History(c *gin.Context) {
	history, err := h.workflow.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Submit godoc
// @Summary Submit a draft validation request
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.SubmitRequest false "Submission note"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/submit [post]
func (h *ValidationRequestHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.workflow.Submit(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(request)
	response.JSON(c, http.StatusOK, request, nil)
}

// ReceiveSubmission godoc
// @Summary Mark a submission as received
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/receive [post]
func (h *ValidationRequestHandler) ReceiveSubmission(c *gin.Context) {
	h.transition(c, h.workflow.ReceiveSubmission)
}

// Start godoc
// @Summary Start validation work
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/start [post]
func (h *ValidationRequestHandler) Start(c *gin.Context) {
	h.transition(c, h.workflow.Start)
}

// RequestApproval godoc
// @Summary Move a request to pending approval
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/request-approval [post]
func (h *ValidationRequestHandler) RequestApproval(c *gin.Context) {
	h.transition(c, h.workflow.RequestApproval)
}

// Reject godoc
// @Summary Reject a pending request
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.TransitionRequest false "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/reject [post]
func (h *ValidationRequestHandler) Reject(c *gin.Context) {
	h.transition(c, h.workflow.Reject)
}

// Cancel godoc
// @Summary Cancel a validation request
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.TransitionRequest false "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/cancel [post]
func (h *ValidationRequestHandler) Cancel(c *gin.Context) {
	h.transition(c, h.workflow.Cancel)
}

// SendBack godoc
// @Summary Send a pending request back for revision
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.SendBackRequest true "Reviewer comment and snapshot"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/send-back [post]
func (h *ValidationRequestHandler) SendBack(c *gin.Context) {
	var req dto.SendBackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.workflow.SendBack(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(request)
	response.JSON(c, http.StatusOK, request, nil)
}

// ResumeRevision godoc
// @Summary Resume a sent-back request
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ResumeRevisionRequest false "Target status"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/resume-revision [post]
func (h *ValidationRequestHandler) ResumeRevision(c *gin.Context) {
	var req dto.ResumeRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if req.Target == "" {
		req.Target = models.StatusSubmissionReceived
	}
	request, err := h.workflow.ResumeRevision(c.Request.Context(), c.Param("id"), req.Target, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(request)
	response.JSON(c, http.StatusOK, request, nil)
}

// Hold godoc
// @Summary Put a validation request on hold
// @Tags ValidationRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.HoldRequest true "Hold reason"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/hold [post]
func (h *ValidationRequestHandler) Hold(c *gin.Context) {
	var req dto.HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.workflow.Hold(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(request)
	response.JSON(c, http.StatusOK, request, nil)
}

// Resume godoc
// @Summary Resume a held request with its due date shifted by the held time
// @Tags ValidationRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/resume [post]
func (h *ValidationRequestHandler) Resume(c *gin.Context) {
	request, err := h.workflow.Resume(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(request)
	response.JSON(c, http.StatusOK, request, nil)
}

func (h *ValidationRequestHandler) transition(c *gin.Context,
	move func(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.ValidationRequest, error)) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := move(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(request)
	response.JSON(c, http.StatusOK, request, nil)
}
