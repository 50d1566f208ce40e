package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/internal/service"
	appErrors "github.com/classcare/support-api/pkg/errors"
	"github.com/classcare/support-api/pkg/response"
)

// ReferralHandler wires support request endpoints to the referral service.
type ReferralHandler struct {
	referrals *service.ReferralService
}

// NewReferralHandler constructs a ReferralHandler.
func NewReferralHandler(referrals *service.ReferralService) *ReferralHandler {
	return &ReferralHandler{referrals: referrals}
}

// List godoc
// @Summary List support requests
// @Description Teachers see their own requests; admins see all
// @Tags Referrals
// @Produce json
// @Param status query string false "Filter by status (open,in_progress,resolved)"
// @Param severity query string false "Filter by severity (low,medium,high)"
// @Param search query string false "Search by student name"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /referrals [get]
func (h *ReferralHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.ReferralFilter{
		Status:    c.Query("status"),
		Severity:  c.Query("severity"),
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	referrals, pagination, err := h.referrals.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, referrals, pagination)
}

// Get godoc
// @Summary Get support request detail
// @Tags Referrals
// @Produce json
// @Param id path string true "Referral ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /referrals/{id} [get]
func (h *ReferralHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	referral, err := h.referrals.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, referral, nil)
}

// Create godoc
// @Summary Submit a support request
// @Description Creates the request and consumes one unit of the monthly allowance
// @Tags Referrals
// @Accept json
// @Produce json
// @Param payload body service.CreateReferralRequest true "Referral payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /referrals [post]
func (h *ReferralHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid support request payload"))
		return
	}

	referral, err := h.referrals.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, referral)
}

// Update godoc
// @Summary Update a support request
// @Tags Referrals
// @Accept json
// @Produce json
// @Param id path string true "Referral ID"
// @Param payload body service.UpdateReferralRequest true "Referral payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /referrals/{id} [put]
func (h *ReferralHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid support request payload"))
		return
	}

	referral, err := h.referrals.Update(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, referral, nil)
}

// Delete godoc
// @Summary Delete a support request
// @Tags Referrals
// @Produce json
// @Param id path string true "Referral ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /referrals/{id} [delete]
func (h *ReferralHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.referrals.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Suggestions godoc
// @Summary Get generated intervention suggestions
// @Description Returns suggestion text plus its generation status (pending, ready, failed)
// @Tags Referrals
// @Produce json
// @Param id path string true "Referral ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /referrals/{id}/suggestions [get]
func (h *ReferralHandler) Suggestions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	referral, err := h.referrals.Suggestions(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"referral_id":        referral.ID,
		"suggestions":        referral.Suggestions,
		"suggestions_status": referral.SuggestionsStatus,
	}, nil)
}
