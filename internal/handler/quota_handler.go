package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classcare/support-api/internal/dto"
	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/internal/service"
	appErrors "github.com/classcare/support-api/pkg/errors"
	"github.com/classcare/support-api/pkg/response"
)

// QuotaHandler exposes the monthly allowance endpoints.
type QuotaHandler struct {
	quota *service.QuotaService
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(quota *service.QuotaService) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

// targetEmail resolves which account a usage call operates on. Teachers act
// on their own allowance; admins may name another account.
func targetEmail(claims *models.JWTClaims, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" || strings.EqualFold(requested, claims.Email) {
		return claims.Email, nil
	}
	if claims.Role != models.RoleAdmin {
		return "", appErrors.Clone(appErrors.ErrForbidden, "cannot manage another account's allowance")
	}
	return requested, nil
}

// CheckLimit godoc
// @Summary Check monthly allowance
// @Description Reports whether the account may create another support request
// @Tags Usage
// @Produce json
// @Param email query string false "Target account email (admins only; defaults to the caller)"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /usage/check-limit [get]
func (h *QuotaHandler) CheckLimit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	email, err := targetEmail(claims, c.Query("email"))
	if err != nil {
		response.Error(c, err)
		return
	}

	status, err := h.quota.CheckLimit(c.Request.Context(), email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Increment godoc
// @Summary Consume one unit of the monthly allowance
// @Tags Usage
// @Accept json
// @Produce json
// @Param payload body dto.IncrementUsageRequest false "Target account email (admins only; defaults to the caller)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /usage/increment [post]
func (h *QuotaHandler) Increment(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.IncrementUsageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid usage payload"))
			return
		}
	}

	email, err := targetEmail(claims, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.quota.IncrementUsage(c.Request.Context(), email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// PurchasePackage godoc
// @Summary Purchase additional allowance blocks
// @Tags Usage
// @Accept json
// @Produce json
// @Param payload body dto.PurchasePackagesRequest true "Package count"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /usage/purchase-package [post]
func (h *QuotaHandler) PurchasePackage(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.PurchasePackagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid purchase payload"))
		return
	}

	res, err := h.quota.PurchasePackages(c.Request.Context(), claims.Email, req.Packages)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// ResetUsage godoc
// @Summary Zero all monthly usage counters
// @Description Administrative monthly rollover, typically run by a scheduler
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/usage/reset [post]
func (h *QuotaHandler) ResetUsage(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.quota.ResetMonthlyUsage(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}
