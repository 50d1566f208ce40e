package handler

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/classcare/support-api/internal/dto"
	"github.com/classcare/support-api/internal/service"
	appErrors "github.com/classcare/support-api/pkg/errors"
	"github.com/classcare/support-api/pkg/response"
	"github.com/classcare/support-api/pkg/storage"
)

// ImportHandler wires bulk roster import endpoints.
type ImportHandler struct {
	imports *service.ImportService
	store   *storage.ArchiveStore
	signer  *storage.SignedURLSigner
}

// NewImportHandler constructs an ImportHandler.
func NewImportHandler(imports *service.ImportService, store *storage.ArchiveStore, signer *storage.SignedURLSigner) *ImportHandler {
	return &ImportHandler{imports: imports, store: store, signer: signer}
}

// BulkImport godoc
// @Summary Bulk import teacher accounts from CSV
// @Description Accepts a base64-encoded CSV roster, validates each row and creates accounts
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body dto.BulkImportRequest true "Base64 CSV payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/teachers/bulk-import [post]
func (h *ImportHandler) BulkImport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.BulkImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid import payload"))
		return
	}

	outcome, err := h.imports.BulkImport(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// DownloadArchive godoc
// @Summary Download an archived import file
// @Description Serves the original uploaded CSV via a signed, expiring token
// @Tags Admin
// @Produce text/csv
// @Param token query string true "Signed download token"
// @Success 200 {string} string "CSV content"
// @Failure 401 {object} response.Envelope
// @Router /admin/imports/download [get]
func (h *ImportHandler) DownloadArchive(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	relPath, _, err := h.signer.Parse(token)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download token"))
		return
	}

	file, err := h.store.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "archived file not found"))
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(relPath)))
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(err)
	}
}
