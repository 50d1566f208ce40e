package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/classcare/support-api/internal/dto"
	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/pkg/config"
	appErrors "github.com/classcare/support-api/pkg/errors"
)

const (
	reasonSubscriptionInactive = "Subscription expired or inactive"
	reasonLimitReached         = "Monthly support request limit reached"
)

type quotaUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	IncrementUsage(ctx context.Context, email string, packageSize int) (int, error)
	AddPackages(ctx context.Context, email string, count int) (int, error)
	ResetMonthlyUsage(ctx context.Context) (int64, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type quotaCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// QuotaService gates support-request creation on the monthly allowance and
// lets teachers purchase additional allowance blocks.
type QuotaService struct {
	repo    quotaUserRepository
	cache   quotaCache
	metrics *MetricsService
	logger  *zap.Logger
	cfg     config.QuotaConfig

	unlimited map[string]struct{}
}

// NewQuotaService constructs a QuotaService.
func NewQuotaService(repo quotaUserRepository, cache quotaCache, metrics *MetricsService, logger *zap.Logger, cfg config.QuotaConfig) *QuotaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PackageSize <= 0 {
		cfg.PackageSize = 10
	}
	if cfg.MaxPackagesPerPurchase <= 0 {
		cfg.MaxPackagesPerPurchase = 10
	}
	if cfg.UnlimitedDisplayLimit <= 0 {
		cfg.UnlimitedDisplayLimit = 999
	}

	unlimited := make(map[string]struct{}, len(cfg.UnlimitedEmails))
	for _, email := range cfg.UnlimitedEmails {
		unlimited[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}

	return &QuotaService{repo: repo, cache: cache, metrics: metrics, logger: logger, cfg: cfg, unlimited: unlimited}
}

func (s *QuotaService) isUnlimited(email string) bool {
	_, ok := s.unlimited[email]
	return ok
}

// IsUnlimited reports whether the email is exempt from monthly limits.
func (s *QuotaService) IsUnlimited(email string) bool {
	return s.isUnlimited(strings.ToLower(strings.TrimSpace(email)))
}

// PackageSize returns the number of extra requests one purchased block grants.
func (s *QuotaService) PackageSize() int {
	return s.cfg.PackageSize
}

// Invalidate drops the cached quota status for the email.
func (s *QuotaService) Invalidate(ctx context.Context, email string) {
	s.invalidate(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func quotaCacheKey(email string) string {
	return "quota:" + email
}

// CheckLimit reports whether the account may create another support request.
func (s *QuotaService) CheckLimit(ctx context.Context, email string) (*dto.QuotaStatus, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email is required")
	}

	if s.isUnlimited(email) {
		return &dto.QuotaStatus{
			CanCreate:  true,
			Used:       0,
			BaseLimit:  s.cfg.UnlimitedDisplayLimit,
			TotalLimit: s.cfg.UnlimitedDisplayLimit,
		}, nil
	}

	if s.cache != nil {
		var cached dto.QuotaStatus
		if err := s.cache.Get(ctx, quotaCacheKey(email), &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheHit()
			}
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("quota cache read failed", zap.String("email", email), zap.Error(err))
		} else if s.metrics != nil {
			s.metrics.RecordCacheMiss()
		}
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher account")
	}

	status := s.statusFor(user)
	if s.cache != nil {
		if err := s.cache.Set(ctx, quotaCacheKey(email), status, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("quota cache write failed", zap.String("email", email), zap.Error(err))
		}
	}
	if s.metrics != nil && !status.CanCreate {
		label := "limit"
		if status.Reason == reasonSubscriptionInactive {
			label = "subscription"
		}
		s.metrics.RecordQuotaDenied(label)
	}
	return status, nil
}

func (s *QuotaService) statusFor(user *models.User) *dto.QuotaStatus {
	total := user.TotalLimit(s.cfg.PackageSize)
	status := &dto.QuotaStatus{
		Used:               user.UsedThisMonth,
		BaseLimit:          user.BaseLimit,
		AdditionalPackages: user.AdditionalPackages,
		TotalLimit:         total,
	}

	// The subscription check takes precedence over the numeric comparison.
	if !user.SubscriptionActive(time.Now().UTC()) {
		status.Reason = reasonSubscriptionInactive
		return status
	}

	status.CanCreate = user.UsedThisMonth < total
	if !status.CanCreate {
		status.Reason = reasonLimitReached
	}
	return status
}

// IncrementUsage advances the monthly counter by one. The underlying update is
// conditional on the composed limit, so the allowance cannot be exceeded even
// under concurrent callers.
func (s *QuotaService) IncrementUsage(ctx context.Context, email string) (*dto.IncrementUsageResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email is required")
	}

	if s.isUnlimited(email) {
		return &dto.IncrementUsageResponse{Success: true, NewUsageCount: 0}, nil
	}

	newCount, err := s.repo.IncrementUsage(ctx, email, s.cfg.PackageSize)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conditional miss: either the account is gone or it sits at the limit.
			if _, findErr := s.repo.FindByEmail(ctx, email); findErr != nil {
				if errors.Is(findErr, sql.ErrNoRows) {
					return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher account not found")
				}
				return nil, appErrors.Wrap(findErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher account")
			}
			if s.metrics != nil {
				s.metrics.RecordQuotaDenied("limit")
			}
			return nil, appErrors.Clone(appErrors.ErrQuotaExceeded, reasonLimitReached)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to increment usage")
	}

	s.invalidate(ctx, email)
	return &dto.IncrementUsageResponse{Success: true, NewUsageCount: newCount}, nil
}

// PurchasePackages grants between 1 and the configured maximum allowance blocks.
// There is no payment integration; the purchase is granted unconditionally.
func (s *QuotaService) PurchasePackages(ctx context.Context, email string, count int) (*dto.PurchasePackagesResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if count < 1 || count > s.cfg.MaxPackagesPerPurchase {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("packages must be between 1 and %d", s.cfg.MaxPackagesPerPurchase))
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher account")
	}

	newPackages, err := s.repo.AddPackages(ctx, email, count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add packages")
	}

	s.invalidate(ctx, email)

	payload, _ := json.Marshal(map[string]int{"packages": count, "total_packages": newPackages})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionPackagePurchase,
		Resource:   "quota",
		ResourceID: &user.ID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record package purchase audit log", zap.Error(err))
	}

	return &dto.PurchasePackagesResponse{
		Success:         true,
		NewPackageCount: newPackages,
		NewTotalLimit:   user.BaseLimit + newPackages*s.cfg.PackageSize,
	}, nil
}

// ResetMonthlyUsage zeroes every account's counter. Exposed as an explicit
// admin operation; scheduling is left to the operator's cron.
func (s *QuotaService) ResetMonthlyUsage(ctx context.Context, actorID string) (*dto.UsageResetResult, error) {
	affected, err := s.repo.ResetMonthlyUsage(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset monthly usage")
	}

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "quota:*"); err != nil {
			s.logger.Warn("failed to flush quota cache after reset", zap.Error(err))
		}
	}

	payload, _ := json.Marshal(map[string]int64{"accounts_reset": affected})
	audit := &models.AuditLog{
		Action:    models.AuditActionUsageReset,
		Resource:  "quota",
		NewValues: payload,
	}
	if actorID != "" {
		audit.UserID = &actorID
	}
	if err := s.repo.CreateAuditLog(ctx, audit); err != nil {
		s.logger.Warn("failed to record usage reset audit log", zap.Error(err))
	}

	return &dto.UsageResetResult{AccountsReset: int(affected)}, nil
}

func (s *QuotaService) invalidate(ctx context.Context, email string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, quotaCacheKey(email)); err != nil {
		s.logger.Warn("failed to invalidate quota cache", zap.String("email", email), zap.Error(err))
	}
}
