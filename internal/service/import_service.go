package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/classcare/support-api/internal/dto"
	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/pkg/config"
	appErrors "github.com/classcare/support-api/pkg/errors"
)

// Alphanumeric alphabet for generated passwords, minus visually
// ambiguous characters (0/O, 1/l/I).
const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	generatedPasswordLength = 12
	importBcryptCost        = 10
	defaultTeacherType      = "classroom"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// headerAliases maps normalised CSV headers (lower-cased, spaces and
// underscores stripped) onto logical field names.
var headerAliases = map[string]string{
	"name":                  "name",
	"fullname":              "name",
	"email":                 "email",
	"emailaddress":          "email",
	"password":              "password",
	"teachertype":           "teacher_type",
	"type":                  "teacher_type",
	"schoolname":            "school_name",
	"school":                "school_name",
	"district":              "district",
	"gradelevel":            "grade_level",
	"grade":                 "grade_level",
	"subject":               "subject",
	"supportrequestslimit":  "limit",
	"monthlylimit":          "limit",
	"limit":                 "limit",
	"subscriptionenddate":   "subscription_end_date",
	"subscriptionend":       "subscription_end_date",
	"subscriptionexpiresat": "subscription_end_date",
}

type importUserRepository interface {
	ListEmails(ctx context.Context) ([]string, error)
	Create(ctx context.Context, user *models.User) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type importArchiveStore interface {
	Save(filename string, data []byte) (string, error)
}

type importURLSigner interface {
	Generate(relPath string) (string, time.Time, error)
}

// ImportService converts uploaded CSV rosters into teacher accounts with
// per-row validation and partial-failure reporting.
type ImportService struct {
	repo    importUserRepository
	store   importArchiveStore
	signer  importURLSigner
	metrics *MetricsService
	logger  *zap.Logger
	cfg     config.ImportConfig
	quota   config.QuotaConfig
}

// NewImportService constructs an ImportService.
func NewImportService(repo importUserRepository, store importArchiveStore, signer importURLSigner, metrics *MetricsService, logger *zap.Logger, cfg config.ImportConfig, quota config.QuotaConfig) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	if quota.DefaultMonthlyLimit <= 0 {
		quota.DefaultMonthlyLimit = 20
	}
	return &ImportService{repo: repo, store: store, signer: signer, metrics: metrics, logger: logger, cfg: cfg, quota: quota}
}

// BulkImport decodes, validates and inserts the uploaded roster. Whole-file
// problems (bad encoding, missing headers) abort before any row is written;
// individual row failures accumulate without stopping the batch.
func (s *ImportService) BulkImport(ctx context.Context, req dto.BulkImportRequest, actorID string) (*dto.BulkImportOutcome, error) {
	raw, err := base64.StdEncoding.DecodeString(req.CSVData)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "csv_data is not valid base64")
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed CSV content")
	}
	if len(records) < 2 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "CSV must contain a header row and at least one data row")
	}
	if len(records)-1 > s.cfg.MaxRows {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("CSV exceeds the maximum of %d data rows", s.cfg.MaxRows))
	}

	fields, err := mapHeaders(records[0])
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListEmails(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to preload existing emails")
	}
	known := make(map[string]struct{}, len(existing))
	for _, email := range existing {
		known[email] = struct{}{}
	}

	outcome := &dto.BulkImportOutcome{
		Errors:          []dto.RowError{},
		DuplicateEmails: []string{},
	}

	for i, record := range records[1:] {
		rowNum := i + 2 // 1-indexed, row 1 is the header
		if isBlankRow(record) {
			continue
		}
		outcome.TotalRows++

		if err := s.importRow(ctx, record, fields, known, rowNum, outcome); err != nil {
			outcome.Errors = append(outcome.Errors, dto.RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		outcome.SuccessfulImports++
	}

	outcome.Success = len(outcome.Errors) == 0
	outcome.Summary = fmt.Sprintf("Processed %d rows: %d imported, %d errors", outcome.TotalRows, outcome.SuccessfulImports, len(outcome.Errors))

	if s.metrics != nil {
		s.metrics.RecordImportRows(outcome.SuccessfulImports, len(outcome.Errors))
	}

	s.archive(ctx, raw, req.Filename, actorID, outcome)
	return outcome, nil
}

// importRow validates and inserts a single record. Any returned error is
// recorded against the row; it never aborts the batch.
func (s *ImportService) importRow(ctx context.Context, record []string, fields map[string]int, known map[string]struct{}, rowNum int, outcome *dto.BulkImportOutcome) error {
	get := func(field string) string {
		idx, ok := fields[field]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	name := get("name")
	email := strings.ToLower(get("email"))
	if name == "" || email == "" {
		return fmt.Errorf("name and email are required")
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	if _, dup := known[email]; dup {
		outcome.DuplicateEmails = append(outcome.DuplicateEmails, email)
		return fmt.Errorf("duplicate email: %s", email)
	}
	// Claim the email immediately so later rows in the same file are caught too.
	known[email] = struct{}{}

	password := get("password")
	if password == "" {
		generated, err := generatePassword(generatedPasswordLength)
		if err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		password = generated
	}

	teacherType := get("teacher_type")
	if teacherType == "" {
		teacherType = defaultTeacherType
	}

	limit := s.quota.DefaultMonthlyLimit
	if rawLimit := get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 || parsed > 100 {
			return fmt.Errorf("support requests limit must be an integer between 1 and 100")
		}
		limit = parsed
	}

	subscriptionEnd := time.Now().UTC().AddDate(1, 0, 0)
	if rawDate := get("subscription_end_date"); rawDate != "" {
		parsed, err := parseImportDate(rawDate)
		if err != nil {
			return fmt.Errorf("invalid subscription end date: %s", rawDate)
		}
		subscriptionEnd = parsed
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), importBcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	hashStr := string(hash)

	user := &models.User{
		Email:               email,
		PasswordHash:        &hashStr,
		FullName:            name,
		Role:                models.RoleTeacher,
		TeacherType:         teacherType,
		BaseLimit:           limit,
		SubscriptionEndDate: &subscriptionEnd,
		Active:              true,
	}
	user.SchoolName = optionalField(get("school_name"))
	user.District = optionalField(get("district"))
	user.GradeLevel = optionalField(get("grade_level"))
	user.Subject = optionalField(get("subject"))

	if err := s.repo.Create(ctx, user); err != nil {
		// Likely a uniqueness violation from a concurrent import; the row
		// fails but the batch keeps going.
		s.logger.Warn("bulk import row insert failed", zap.Int("row", rowNum), zap.String("email", email), zap.Error(err))
		return fmt.Errorf("failed to create account: %v", err)
	}
	return nil
}

func (s *ImportService) archive(ctx context.Context, raw []byte, filename, actorID string, outcome *dto.BulkImportOutcome) {
	if s.store == nil {
		return
	}
	name := filename
	if name == "" {
		name = "upload.csv"
	}
	archived := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), sanitizeFilename(name))
	if _, err := s.store.Save(archived, raw); err != nil {
		s.logger.Warn("failed to archive import file", zap.String("file", archived), zap.Error(err))
		return
	}
	outcome.ArchiveFile = archived

	if s.signer != nil {
		token, _, err := s.signer.Generate(archived)
		if err != nil {
			s.logger.Warn("failed to sign archive url", zap.Error(err))
		} else {
			outcome.ArchiveURL = "/admin/imports/download?token=" + url.QueryEscape(token)
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"file":     archived,
		"total":    outcome.TotalRows,
		"imported": outcome.SuccessfulImports,
		"failed":   len(outcome.Errors),
	})
	audit := &models.AuditLog{
		Action:    models.AuditActionBulkImport,
		Resource:  "users",
		NewValues: payload,
	}
	if actorID != "" {
		audit.UserID = &actorID
	}
	if err := s.repo.CreateAuditLog(ctx, audit); err != nil {
		s.logger.Warn("failed to record bulk import audit log", zap.Error(err))
	}
}

// mapHeaders resolves the header row into logical field positions.
func mapHeaders(header []string) (map[string]int, error) {
	fields := make(map[string]int, len(header))
	for i, raw := range header {
		normalized := normalizeHeader(raw)
		if field, ok := headerAliases[normalized]; ok {
			if _, seen := fields[field]; !seen {
				fields[field] = i
			}
		}
	}

	var missing []string
	for _, required := range []string{"name", "email"} {
		if _, ok := fields[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "CSV is missing required headers: "+strings.Join(missing, ", "))
	}
	return fields, nil
}

func normalizeHeader(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "_", "")
	return normalized
}

func isBlankRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func optionalField(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func parseImportDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format")
}

// generatePassword draws length characters from the restricted alphabet
// using crypto/rand.
func generatePassword(length int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	return name
}
