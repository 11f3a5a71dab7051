package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/service"
	appErrors "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/errors"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/response"
)

// PolicyHandler exposes validation policies, regions and grace buckets.
type PolicyHandler struct {
	service *service.PolicyService
}

// NewPolicyHandler constructs the handler.
func NewPolicyHandler(svc *service.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: svc}
}

// List godoc
// @Summary List validation policies by risk tier
// @Tags Policies
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /policies [get]
func (h *PolicyHandler) List(c *gin.Context) {
	policies, err := h.service.ListPolicies(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policies, nil)
}

// Get godoc
// @Summary Get the policy for a risk tier
// @Tags Policies
// @Produce json
// @Param riskTier path string true "Risk tier"
// @Success 200 {object} response.Envelope
// @Router /policies/{riskTier} [get]
func (h *PolicyHandler) Get(c *gin.Context) {
	policy, err := h.service.GetPolicy(c.Request.Context(), c.Param("riskTier"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Upsert godoc
// @Summary Create or replace the policy for a risk tier
// @Tags Policies
// @Accept json
// @Produce json
// @Param riskTier path string true "Risk tier"
// @Param payload body dto.UpsertPolicyRequest true "Policy payload"
// @Success 200 {object} response.Envelope
// @Router /policies/{riskTier} [put]
func (h *PolicyHandler) Upsert(c *gin.Context) {
	var req dto.UpsertPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actorID := ""
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	policy, err := h.service.UpsertPolicy(c.Request.Context(), c.Param("riskTier"), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// ListRegions godoc
// @Summary List regions and their governance flags
// @Tags Policies
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /regions [get]
func (h *PolicyHandler) ListRegions(c *gin.Context) {
	regions, err := h.service.ListRegions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, regions, nil)
}

// GetRegion godoc
// @Summary Get one region's governance flags
// @Tags Policies
// @Produce json
// @Param code path string true "Region code"
// @Success 200 {object} response.Envelope
// @Router /regions/{code} [get]
func (h *PolicyHandler) GetRegion(c *gin.Context) {
	region, err := h.service.GetRegionFlags(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, region, nil)
}

// GraceBuckets godoc
// @Summary List the reporting grace buckets
// @Tags Policies
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /grace-buckets [get]
func (h *PolicyHandler) GraceBuckets(c *gin.Context) {
	buckets, err := h.service.GraceBuckets(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, buckets, nil)
}
