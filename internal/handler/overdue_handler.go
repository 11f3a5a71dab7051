package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/service"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/response"
)

// OverdueHandler exposes overdue classification and justification comments.
type OverdueHandler struct {
	service *service.OverdueService
}

// NewOverdueHandler constructs the handler.
func NewOverdueHandler(svc *service.OverdueService) *OverdueHandler {
	return &OverdueHandler{service: svc}
}

// Classification godoc
// @Summary Classify a request against its effective due date
// @Tags Overdue
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/overdue [get]
func (h *OverdueHandler) Classification(c *gin.Context) {
	classification, err := h.service.Classification(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classification, nil)
}

// CommentStatus godoc
// @Summary Report the current overdue comment and whether it is stale
// @Tags Overdue
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/overdue/comment-status [get]
func (h *OverdueHandler) CommentStatus(c *gin.Context) {
	status, err := h.service.CommentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// ListComments godoc
// @Summary List the full overdue comment trail for a request
// @Tags Overdue
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /validation-requests/{id}/overdue/comments [get]
func (h *OverdueHandler) ListComments(c *gin.Context) {
	comments, err := h.service.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// AddComment godoc
// @Summary Add a justification comment, superseding the previous current one
// @Tags Overdue
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.CreateOverdueCommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Router /validation-requests/{id}/overdue/comments [post]
func (h *OverdueHandler) AddComment(c *gin.Context) {
	var req dto.CreateOverdueCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	comment, err := h.service.AddComment(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}
