package service

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/classcare/support-api/internal/dto"
	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/pkg/config"
)

type mockImportRepo struct {
	existing  []string
	created   []*models.User
	createErr error
	auditLogs []*models.AuditLog
}

func (m *mockImportRepo) ListEmails(ctx context.Context) ([]string, error) {
	return m.existing, nil
}

func (m *mockImportRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	cp := *user
	m.created = append(m.created, &cp)
	return nil
}

func (m *mockImportRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockArchiveStore struct {
	saved map[string][]byte
}

func (m *mockArchiveStore) Save(filename string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = data
	return filename, nil
}

type mockSigner struct{}

func (m *mockSigner) Generate(relPath string) (string, time.Time, error) {
	return "signed-" + relPath, time.Now().Add(time.Hour), nil
}

func newImportService(repo *mockImportRepo) *ImportService {
	return NewImportService(repo, nil, nil, nil, zap.NewNop(),
		config.ImportConfig{MaxRows: 1000},
		config.QuotaConfig{DefaultMonthlyLimit: 20})
}

func encodeCSV(content string) string {
	return base64.StdEncoding.EncodeToString([]byte(content))
}

func TestBulkImportTwoRows(t *testing.T) {
	repo := &mockImportRepo{}
	svc := newImportService(repo)

	csvData := "name,email,teacher_type\nJane Smith,jane@school.org,classroom\nBob Jones,bob@school.org,specialist\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "admin-1")
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.TotalRows)
	assert.Equal(t, 2, outcome.SuccessfulImports)
	assert.Empty(t, outcome.Errors)
	require.Len(t, repo.created, 2)

	jane := repo.created[0]
	assert.Equal(t, "jane@school.org", jane.Email)
	assert.Equal(t, "Jane Smith", jane.FullName)
	assert.Equal(t, "classroom", jane.TeacherType)
	assert.Equal(t, models.RoleTeacher, jane.Role)
	assert.Equal(t, 20, jane.BaseLimit)
	assert.True(t, jane.Active)
	require.NotNil(t, jane.SubscriptionEndDate)
	assert.True(t, jane.SubscriptionEndDate.After(time.Now().UTC().AddDate(0, 11, 0)))
	assert.Equal(t, "specialist", repo.created[1].TeacherType)
}

func TestBulkImportQuotedCommaField(t *testing.T) {
	repo := &mockImportRepo{}
	svc := newImportService(repo)

	csvData := "name,email,school_name\nJane Smith,jane@school.org,\"Lincoln, Elementary\"\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	require.Len(t, repo.created, 1)
	require.NotNil(t, repo.created[0].SchoolName)
	assert.Equal(t, "Lincoln, Elementary", *repo.created[0].SchoolName)
}

func TestBulkImportHeaderAliases(t *testing.T) {
	repo := &mockImportRepo{}
	svc := newImportService(repo)

	csvData := "Full Name,Email Address,Support Requests Limit\nJane Smith,jane@school.org,50\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	require.Len(t, repo.created, 1)
	assert.Equal(t, 50, repo.created[0].BaseLimit)
}

func TestBulkImportDuplicateWithinFile(t *testing.T) {
	repo := &mockImportRepo{}
	svc := newImportService(repo)

	csvData := "name,email\nJane Smith,jane@school.org\nJane Clone,jane@school.org\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, 2, outcome.TotalRows)
	assert.Equal(t, 1, outcome.SuccessfulImports)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, 3, outcome.Errors[0].Row)
	assert.Contains(t, outcome.DuplicateEmails, "jane@school.org")
}

func TestBulkImportExistingEmail(t *testing.T) {
	repo := &mockImportRepo{existing: []string{"jane@school.org"}}
	svc := newImportService(repo)

	csvData := "name,email\nJane Smith,JANE@school.org\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Zero(t, outcome.SuccessfulImports)
	assert.Contains(t, outcome.DuplicateEmails, "jane@school.org")
}

func TestBulkImportInvalidEmailRow(t *testing.T) {
	repo := &mockImportRepo{}
	svc := newImportService(repo)

	csvData := "name,email\nJane Smith,not-an-email\nBob Jones,bob@school.org\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.SuccessfulImports)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, 2, outcome.Errors[0].Row)
	assert.Contains(t, outcome.Errors[0].Message, "invalid email format")
}

func TestBulkImportInvalidLimitRow(t *testing.T) {
	repo := &mockImportRepo{}
	svc := newImportService(repo)

	csvData := "name,email,limit\nJane Smith,jane@school.org,250\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0].Message, "between 1 and 100")
}

func TestBulkImportBadBase64(t *testing.T) {
	svc := newImportService(&mockImportRepo{})

	_, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: "%%%not-base64%%%"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64")
}

func TestBulkImportMissingHeaders(t *testing.T) {
	svc := newImportService(&mockImportRepo{})

	csvData := "school_name,district\nLincoln,North\n"
	_, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required headers")
}

func TestBulkImportHeaderOnly(t *testing.T) {
	svc := newImportService(&mockImportRepo{})

	_, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV("name,email\n")}, "")
	require.Error(t, err)
}

func TestBulkImportTooManyRows(t *testing.T) {
	repo := &mockImportRepo{}
	svc := NewImportService(repo, nil, nil, nil, zap.NewNop(),
		config.ImportConfig{MaxRows: 2},
		config.QuotaConfig{DefaultMonthlyLimit: 20})

	var sb strings.Builder
	sb.WriteString("name,email\n")
	sb.WriteString("A One,a@school.org\n")
	sb.WriteString("B Two,b@school.org\n")
	sb.WriteString("C Three,c@school.org\n")
	_, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(sb.String())}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum of 2")
	assert.Empty(t, repo.created)
}

func TestBulkImportBlankRowsSkipped(t *testing.T) {
	repo := &mockImportRepo{}
	svc := newImportService(repo)

	csvData := "name,email\nJane Smith,jane@school.org\n,,\n\nBob Jones,bob@school.org\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.TotalRows)
	assert.Equal(t, 2, outcome.SuccessfulImports)
}

func TestBulkImportProvidedPassword(t *testing.T) {
	repo := &mockImportRepo{}
	svc := newImportService(repo)

	csvData := "name,email,password\nJane Smith,jane@school.org,s3cretpass\n"
	_, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData)}, "")
	require.NoError(t, err)

	require.Len(t, repo.created, 1)
	require.NotNil(t, repo.created[0].PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*repo.created[0].PasswordHash), []byte("s3cretpass")))
}

func TestBulkImportArchivesUpload(t *testing.T) {
	repo := &mockImportRepo{}
	store := &mockArchiveStore{}
	svc := NewImportService(repo, store, &mockSigner{}, nil, zap.NewNop(),
		config.ImportConfig{MaxRows: 1000},
		config.QuotaConfig{DefaultMonthlyLimit: 20})

	csvData := "name,email\nJane Smith,jane@school.org\n"
	outcome, err := svc.BulkImport(context.Background(), dto.BulkImportRequest{CSVData: encodeCSV(csvData), Filename: "roster.csv"}, "admin-1")
	require.NoError(t, err)

	assert.NotEmpty(t, outcome.ArchiveFile)
	assert.Contains(t, outcome.ArchiveFile, "roster.csv")
	assert.Contains(t, outcome.ArchiveURL, "/admin/imports/download?token=")
	assert.Len(t, store.saved, 1)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionBulkImport, repo.auditLogs[0].Action)
}

func TestGeneratePasswordAlphabet(t *testing.T) {
	password, err := generatePassword(generatedPasswordLength)
	require.NoError(t, err)
	assert.Len(t, password, 12)
	for _, ch := range password {
		assert.Contains(t, passwordAlphabet, string(ch))
	}
}
