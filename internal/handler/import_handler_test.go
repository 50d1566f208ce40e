package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classcare/support-api/internal/middleware"
	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/internal/service"
	"github.com/classcare/support-api/pkg/config"
	"github.com/classcare/support-api/pkg/storage"
)

type fakeImportUsers struct {
	existing []string
	created  []*models.User
}

func (f *fakeImportUsers) ListEmails(context.Context) ([]string, error) {
	return f.existing, nil
}

func (f *fakeImportUsers) Create(_ context.Context, user *models.User) error {
	user.ID = fmt.Sprintf("u%d", len(f.created)+1)
	f.created = append(f.created, user)
	return nil
}

func (f *fakeImportUsers) CreateAuditLog(context.Context, *models.AuditLog) error { return nil }

func newImportHandler(t *testing.T, repo *fakeImportUsers) (*ImportHandler, *storage.ArchiveStore, *storage.SignedURLSigner) {
	t.Helper()
	store, err := storage.NewArchiveStore(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := service.NewImportService(repo, store, signer, nil, zap.NewNop(),
		config.ImportConfig{MaxRows: 100},
		config.QuotaConfig{DefaultMonthlyLimit: 30})
	return NewImportHandler(svc, store, signer), store, signer
}

func importRequestBody(t *testing.T, csvData string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"csv_data": base64.StdEncoding.EncodeToString([]byte(csvData)),
		"filename": "roster.csv",
	})
	require.NoError(t, err)
	return string(payload)
}

func TestImportHandlerBulkImport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeImportUsers{}
	handler, _, _ := newImportHandler(t, repo)

	body := importRequestBody(t, "name,email\nJane Smith,jane@school.org\nBob Jones,bob@school.org\n")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/teachers/bulk-import", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "a1", Email: "admin@school.org", Role: models.RoleAdmin})

	handler.BulkImport(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope quotaEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, true, envelope.Data["success"])
	assert.Equal(t, float64(2), envelope.Data["successful_imports"])
	assert.NotEmpty(t, envelope.Data["archive_url"])
	require.Len(t, repo.created, 2)
	assert.Equal(t, "jane@school.org", repo.created[0].Email)
}

func TestImportHandlerBulkImportRowErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeImportUsers{existing: []string{"jane@school.org"}}
	handler, _, _ := newImportHandler(t, repo)

	body := importRequestBody(t, "name,email\nJane Smith,jane@school.org\nBob Jones,bob@school.org\n")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/teachers/bulk-import", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "a1", Email: "admin@school.org", Role: models.RoleAdmin})

	handler.BulkImport(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope quotaEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, false, envelope.Data["success"])
	assert.Equal(t, float64(1), envelope.Data["successful_imports"])
	duplicates, ok := envelope.Data["duplicate_emails"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, duplicates, "jane@school.org")
}

func TestImportHandlerBulkImportMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _, _ := newImportHandler(t, &fakeImportUsers{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/teachers/bulk-import", strings.NewReader(`{"csv_data":`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin})

	handler.BulkImport(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportHandlerBulkImportUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _, _ := newImportHandler(t, &fakeImportUsers{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/teachers/bulk-import", strings.NewReader(`{}`))

	handler.BulkImport(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImportHandlerDownloadArchive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, store, signer := newImportHandler(t, &fakeImportUsers{})

	_, err := store.Save("imports/archived.csv", []byte("name,email\n"))
	require.NoError(t, err)
	token, _, err := signer.Generate("imports/archived.csv")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/imports/download?token="+token, nil)

	handler.DownloadArchive(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "name,email\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "archived.csv")
}

func TestImportHandlerDownloadArchiveInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _, _ := newImportHandler(t, &fakeImportUsers{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/imports/download?token=not.a.token", nil)

	handler.DownloadArchive(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
