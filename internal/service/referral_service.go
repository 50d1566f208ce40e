package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classcare/support-api/internal/models"
	appErrors "github.com/classcare/support-api/pkg/errors"
)

type referralRepository interface {
	CreateWithQuota(ctx context.Context, referral *models.Referral, packageSize int) (int, error)
	Create(ctx context.Context, referral *models.Referral) error
	List(ctx context.Context, filter models.ReferralFilter) ([]models.Referral, int, error)
	FindByID(ctx context.Context, id string) (*models.Referral, error)
	Update(ctx context.Context, referral *models.Referral) error
	Delete(ctx context.Context, id string) error
}

type referralUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type quotaGate interface {
	IsUnlimited(email string) bool
	PackageSize() int
	Invalidate(ctx context.Context, email string)
}

type suggestionEnqueuer interface {
	Enqueue(referralID string) error
}

// CreateReferralRequest represents payload for submitting a support request.
type CreateReferralRequest struct {
	StudentName string  `json:"student_name" validate:"required,max=255"`
	GradeLevel  *string `json:"grade_level" validate:"omitempty,max=50"`
	ConcernType string  `json:"concern_type" validate:"required,oneof=academic behavioral social-emotional attendance"`
	Description string  `json:"description" validate:"required"`
	Severity    string  `json:"severity" validate:"omitempty,oneof=low medium high"`
}

// UpdateReferralRequest represents payload for editing a support request.
type UpdateReferralRequest struct {
	StudentName *string `json:"student_name" validate:"omitempty,max=255"`
	GradeLevel  *string `json:"grade_level" validate:"omitempty,max=50"`
	ConcernType *string `json:"concern_type" validate:"omitempty,oneof=academic behavioral social-emotional attendance"`
	Description *string `json:"description"`
	Severity    *string `json:"severity" validate:"omitempty,oneof=low medium high"`
	Status      *string `json:"status" validate:"omitempty,oneof=open in_progress resolved"`
}

// ReferralService orchestrates support request submission and lifecycle.
// Creation reserves one unit of the owner's monthly allowance in the same
// transaction as the insert, except for accounts on the unlimited tier.
type ReferralService struct {
	repo        referralRepository
	users       referralUserRepository
	quota       quotaGate
	suggestions suggestionEnqueuer
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewReferralService constructs a ReferralService. suggestions may be nil
// when background generation is disabled.
func NewReferralService(repo referralRepository, users referralUserRepository, quota quotaGate, suggestions suggestionEnqueuer, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ReferralService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferralService{repo: repo, users: users, quota: quota, suggestions: suggestions, metrics: metrics, validator: validate, logger: logger}
}

// Create submits a new support request on behalf of the teacher.
func (s *ReferralService) Create(ctx context.Context, teacherID string, req CreateReferralRequest) (*models.Referral, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid support request payload")
	}

	teacher, err := s.users.FindByID(ctx, teacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	severity := req.Severity
	if severity == "" {
		severity = "medium"
	}
	referral := &models.Referral{
		TeacherID:         teacherID,
		StudentName:       strings.TrimSpace(req.StudentName),
		GradeLevel:        normalizeOptional(req.GradeLevel),
		ConcernType:       req.ConcernType,
		Description:       strings.TrimSpace(req.Description),
		Severity:          severity,
		Status:            models.ReferralStatusOpen,
		SuggestionsStatus: models.SuggestionsPending,
	}

	if s.quota.IsUnlimited(teacher.Email) {
		if err := s.repo.Create(ctx, referral); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create support request")
		}
	} else {
		if !teacher.SubscriptionActive(time.Now().UTC()) {
			if s.metrics != nil {
				s.metrics.RecordQuotaDenied("subscription")
			}
			return nil, appErrors.ErrSubscriptionInactive
		}
		if _, err := s.repo.CreateWithQuota(ctx, referral, s.quota.PackageSize()); err != nil {
			if err == sql.ErrNoRows {
				if s.metrics != nil {
					s.metrics.RecordQuotaDenied("limit")
				}
				return nil, appErrors.ErrQuotaExceeded
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create support request")
		}
		s.quota.Invalidate(ctx, teacher.Email)
	}

	if s.suggestions != nil {
		if err := s.suggestions.Enqueue(referral.ID); err != nil {
			s.logger.Warn("failed to enqueue suggestion generation", zap.String("referral_id", referral.ID), zap.Error(err))
		}
	}
	return referral, nil
}

// List returns support requests visible to the caller. Teachers only see
// their own; admins see everything subject to the filter.
func (s *ReferralService) List(ctx context.Context, claims *models.JWTClaims, filter models.ReferralFilter) ([]models.Referral, *models.Pagination, error) {
	if claims.Role != models.RoleAdmin {
		filter.TeacherID = claims.UserID
	}
	referrals, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list support requests")
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
	return referrals, pagination, nil
}

// Get returns one support request, enforcing ownership for teachers.
func (s *ReferralService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.Referral, error) {
	referral, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(claims, referral); err != nil {
		return nil, err
	}
	return referral, nil
}

// Update applies partial edits to a support request.
func (s *ReferralService) Update(ctx context.Context, claims *models.JWTClaims, id string, req UpdateReferralRequest) (*models.Referral, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid support request payload")
	}

	referral, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(claims, referral); err != nil {
		return nil, err
	}

	if req.StudentName != nil {
		trimmed := strings.TrimSpace(*req.StudentName)
		if trimmed == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student_name cannot be empty")
		}
		referral.StudentName = trimmed
	}
	if req.GradeLevel != nil {
		referral.GradeLevel = normalizeOptional(req.GradeLevel)
	}
	if req.ConcernType != nil {
		referral.ConcernType = *req.ConcernType
	}
	if req.Description != nil {
		trimmed := strings.TrimSpace(*req.Description)
		if trimmed == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "description cannot be empty")
		}
		referral.Description = trimmed
	}
	if req.Severity != nil {
		referral.Severity = *req.Severity
	}
	if req.Status != nil {
		referral.Status = *req.Status
	}

	if err := s.repo.Update(ctx, referral); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update support request")
	}
	return referral, nil
}

// Delete removes a support request. The monthly counter is not refunded.
func (s *ReferralService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	referral, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(claims, referral); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete support request")
	}
	return nil
}

// Suggestions returns the generated intervention text and its status.
func (s *ReferralService) Suggestions(ctx context.Context, claims *models.JWTClaims, id string) (*models.Referral, error) {
	return s.Get(ctx, claims, id)
}

func (s *ReferralService) load(ctx context.Context, id string) (*models.Referral, error) {
	referral, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "support request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load support request")
	}
	return referral, nil
}

func (s *ReferralService) authorize(claims *models.JWTClaims, referral *models.Referral) error {
	if claims.Role == models.RoleAdmin {
		return nil
	}
	if referral.TeacherID != claims.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "support request belongs to another account")
	}
	return nil
}
