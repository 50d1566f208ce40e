package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/classcare/support-api/internal/models"
	appErrors "github.com/classcare/support-api/pkg/errors"
	"github.com/classcare/support-api/pkg/export"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest represents payload for creating a teacher account.
type CreateUserRequest struct {
	Email               string     `json:"email" validate:"required,email"`
	Password            string     `json:"password" validate:"required,min=6"`
	FullName            string     `json:"full_name" validate:"required,max=255"`
	Role                string     `json:"role" validate:"omitempty,oneof=ADMIN TEACHER"`
	SchoolName          *string    `json:"school_name" validate:"omitempty,max=255"`
	District            *string    `json:"district" validate:"omitempty,max=255"`
	GradeLevel          *string    `json:"grade_level" validate:"omitempty,max=50"`
	Subject             *string    `json:"subject" validate:"omitempty,max=255"`
	TeacherType         string     `json:"teacher_type" validate:"omitempty,max=50"`
	BaseLimit           *int       `json:"base_limit" validate:"omitempty,min=1,max=100"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date"`
}

// UpdateUserRequest represents payload for editing a teacher account.
type UpdateUserRequest struct {
	Email               *string    `json:"email" validate:"omitempty,email"`
	FullName            *string    `json:"full_name" validate:"omitempty,max=255"`
	SchoolName          *string    `json:"school_name" validate:"omitempty,max=255"`
	District            *string    `json:"district" validate:"omitempty,max=255"`
	GradeLevel          *string    `json:"grade_level" validate:"omitempty,max=50"`
	Subject             *string    `json:"subject" validate:"omitempty,max=255"`
	TeacherType         *string    `json:"teacher_type" validate:"omitempty,max=50"`
	BaseLimit           *int       `json:"base_limit" validate:"omitempty,min=1,max=100"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date"`
	Active              *bool      `json:"active"`
}

// UserService manages teacher accounts for administrators.
type UserService struct {
	repo             userRepository
	exporter         *export.CSVExporter
	validator        *validator.Validate
	logger           *zap.Logger
	defaultBaseLimit int
}

// NewUserService constructs a UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger, defaultBaseLimit int) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultBaseLimit <= 0 {
		defaultBaseLimit = 20
	}
	return &UserService{repo: repo, exporter: export.NewCSVExporter(), validator: validate, logger: logger, defaultBaseLimit: defaultBaseLimit}
}

// List returns accounts plus pagination data.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list accounts")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return users, pagination, nil
}

// Get returns an account by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return user, nil
}

// Create registers a new teacher account.
func (s *UserService) Create(ctx context.Context, actorID string, req CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid account payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	exists, err := s.repo.ExistsByEmail(ctx, email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already used")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	hashed := string(hash)

	role := models.RoleTeacher
	if req.Role == string(models.RoleAdmin) {
		role = models.RoleAdmin
	}
	teacherType := strings.TrimSpace(req.TeacherType)
	if teacherType == "" {
		teacherType = defaultTeacherType
	}
	baseLimit := s.defaultBaseLimit
	if req.BaseLimit != nil {
		baseLimit = *req.BaseLimit
	}
	subscriptionEnd := req.SubscriptionEndDate
	if subscriptionEnd == nil {
		oneYear := time.Now().UTC().AddDate(1, 0, 0)
		subscriptionEnd = &oneYear
	}

	user := &models.User{
		Email:               email,
		PasswordHash:        &hashed,
		FullName:            strings.TrimSpace(req.FullName),
		Role:                role,
		SchoolName:          normalizeOptional(req.SchoolName),
		District:            normalizeOptional(req.District),
		GradeLevel:          normalizeOptional(req.GradeLevel),
		Subject:             normalizeOptional(req.Subject),
		TeacherType:         teacherType,
		BaseLimit:           baseLimit,
		SubscriptionEndDate: subscriptionEnd,
		Active:              true,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	s.audit(ctx, actorID, models.AuditActionUserCreate, user.ID)
	return user, nil
}

// Update modifies an existing account.
func (s *UserService) Update(ctx context.Context, actorID string, id string, req UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid account payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		exists, err := s.repo.ExistsByEmail(ctx, email, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already used")
		}
		user.Email = email
	}
	if req.FullName != nil {
		user.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.SchoolName != nil {
		user.SchoolName = normalizeOptional(req.SchoolName)
	}
	if req.District != nil {
		user.District = normalizeOptional(req.District)
	}
	if req.GradeLevel != nil {
		user.GradeLevel = normalizeOptional(req.GradeLevel)
	}
	if req.Subject != nil {
		user.Subject = normalizeOptional(req.Subject)
	}
	if req.TeacherType != nil {
		user.TeacherType = strings.TrimSpace(*req.TeacherType)
	}
	if req.BaseLimit != nil {
		user.BaseLimit = *req.BaseLimit
	}
	if req.SubscriptionEndDate != nil {
		user.SubscriptionEndDate = req.SubscriptionEndDate
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update account")
	}

	s.audit(ctx, actorID, models.AuditActionUserUpdate, user.ID)
	return user, nil
}

// Delete removes an account along with its support requests.
func (s *UserService) Delete(ctx context.Context, actorID string, id string) error {
	if actorID == id {
		return appErrors.Clone(appErrors.ErrValidation, "cannot delete your own account")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete account")
	}
	s.audit(ctx, actorID, models.AuditActionUserDelete, id)
	return nil
}

// Export renders the filtered account list as CSV.
func (s *UserService) Export(ctx context.Context, filter models.UserFilter) ([]byte, string, error) {
	filter.Page = 1
	filter.PageSize = 10000
	users, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list accounts for export")
	}

	dataset := export.Dataset{
		Headers: []string{"email", "full_name", "role", "school_name", "district", "grade_level", "subject", "teacher_type", "used_this_month", "base_limit", "additional_packages", "subscription_end_date", "active"},
	}
	for _, u := range users {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"email":                 u.Email,
			"full_name":             u.FullName,
			"role":                  string(u.Role),
			"school_name":           derefString(u.SchoolName),
			"district":              derefString(u.District),
			"grade_level":           derefString(u.GradeLevel),
			"subject":               derefString(u.Subject),
			"teacher_type":          u.TeacherType,
			"used_this_month":       strconv.Itoa(u.UsedThisMonth),
			"base_limit":            strconv.Itoa(u.BaseLimit),
			"additional_packages":   strconv.Itoa(u.AdditionalPackages),
			"subscription_end_date": formatDate(u.SubscriptionEndDate),
			"active":                strconv.FormatBool(u.Active),
		})
	}

	rendered, err := s.exporter.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	filename := fmt.Sprintf("teachers-%s.csv", time.Now().UTC().Format("20060102"))
	return rendered, filename, nil
}

func (s *UserService) audit(ctx context.Context, actorID string, action string, resourceID string) {
	log := &models.AuditLog{
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	if err := s.repo.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record account audit log", zap.Error(err))
	}
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
