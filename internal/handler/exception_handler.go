package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/service"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/response"
)

// ExceptionHandler exposes the model exception register and the detection
// sweep trigger.
type ExceptionHandler struct {
	service *service.ExceptionService
	metrics *service.MetricsService
}

// NewExceptionHandler constructs the handler. metrics may be nil.
func NewExceptionHandler(svc *service.ExceptionService, metrics *service.MetricsService) *ExceptionHandler {
	return &ExceptionHandler{service: svc, metrics: metrics}
}

// List godoc
// @Summary List model exceptions
// @Tags Exceptions
// @Produce json
// @Param modelId query string false "Filter by model"
// @Param type query string false "Filter by exception type"
// @Param status query []string false "Filter by status"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /exceptions [get]
func (h *ExceptionHandler) List(c *gin.Context) {
	var query dto.ExceptionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	exceptions, total, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exceptions, nil, map[string]interface{}{"total": total})
}

// Get godoc
// @Summary Get one exception
// @Tags Exceptions
// @Produce json
// @Param id path string true "Exception ID"
// @Success 200 {object} response.Envelope
// @Router /exceptions/{id} [get]
func (h *ExceptionHandler) Get(c *gin.Context) {
	exception, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exception, nil)
}

// Acknowledge godoc
// @Summary Acknowledge an open exception
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param id path string true "Exception ID"
// @Param payload body dto.AcknowledgeExceptionRequest false "Acknowledgement note"
// @Success 200 {object} response.Envelope
// @Router /exceptions/{id}/acknowledge [post]
func (h *ExceptionHandler) Acknowledge(c *gin.Context) {
	var req dto.AcknowledgeExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exception, err := h.service.Acknowledge(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exception, nil)
}

// Close godoc
// @Summary Manually close an exception with reason and narrative
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param id path string true "Exception ID"
// @Param payload body dto.CloseExceptionRequest true "Closure payload"
// @Success 200 {object} response.Envelope
// @Router /exceptions/{id}/close [post]
func (h *ExceptionHandler) Close(c *gin.Context) {
	var req dto.CloseExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exception, err := h.service.Close(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exception, nil)
}

// Detect godoc
// @Summary Run a detection sweep over named models or the whole inventory
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param payload body dto.DetectRequest false "Models to sweep"
// @Success 200 {object} response.Envelope
// @Router /exceptions/detect [post]
func (h *ExceptionHandler) Detect(c *gin.Context) {
	var req dto.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	start := time.Now()
	sweep, err := h.service.DetectAll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveSweep(sweep.Requested, time.Since(start))
	}
	response.JSON(c, http.StatusOK, sweep, nil)
}
