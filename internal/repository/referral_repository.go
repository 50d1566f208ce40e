package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classcare/support-api/internal/models"
)

const referralColumns = `id, teacher_id, student_name, grade_level, concern_type, description, severity, status, suggestions, suggestions_status, created_at, updated_at`

// ReferralRepository manages persistence for support requests.
type ReferralRepository struct {
	db *sqlx.DB
}

// NewReferralRepository constructs a ReferralRepository.
func NewReferralRepository(db *sqlx.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// CreateWithQuota inserts the referral and advances the owner's usage counter
// in one transaction. The conditional update runs first; when it touches no
// row the whole transaction rolls back and sql.ErrNoRows is returned, so a
// referral can never be written past the allowance.
func (r *ReferralRepository) CreateWithQuota(ctx context.Context, referral *models.Referral, packageSize int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create referral: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const quotaQuery = `UPDATE users SET used_this_month = used_this_month + 1, updated_at = $3
		WHERE id = $1 AND used_this_month < base_limit + additional_packages * $2
		RETURNING used_this_month`
	var newCount int
	if err := tx.GetContext(ctx, &newCount, quotaQuery, referral.TeacherID, packageSize, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("reserve quota: %w", err)
	}

	if referral.ID == "" {
		referral.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	referral.CreatedAt = now
	referral.UpdatedAt = now

	const insertQuery = `INSERT INTO referrals (id, teacher_id, student_name, grade_level, concern_type, description, severity, status, suggestions, suggestions_status, created_at, updated_at)
		VALUES (:id, :teacher_id, :student_name, :grade_level, :concern_type, :description, :severity, :status, :suggestions, :suggestions_status, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, referral); err != nil {
		return 0, fmt.Errorf("create referral: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create referral: %w", err)
	}
	return newCount, nil
}

// Create inserts the referral without touching the owner's usage counter.
// Used for accounts exempt from monthly limits.
func (r *ReferralRepository) Create(ctx context.Context, referral *models.Referral) error {
	if referral.ID == "" {
		referral.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	referral.CreatedAt = now
	referral.UpdatedAt = now

	const query = `INSERT INTO referrals (id, teacher_id, student_name, grade_level, concern_type, description, severity, status, suggestions, suggestions_status, created_at, updated_at)
		VALUES (:id, :teacher_id, :student_name, :grade_level, :concern_type, :description, :severity, :status, :suggestions, :suggestions_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, referral); err != nil {
		return fmt.Errorf("create referral: %w", err)
	}
	return nil
}

// List returns referrals matching filters along with total count.
func (r *ReferralRepository) List(ctx context.Context, filter models.ReferralFilter) ([]models.Referral, int, error) {
	base := "FROM referrals WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)+1))
		args = append(args, filter.Severity)
	}
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		conditions = append(conditions, fmt.Sprintf("(LOWER(student_name) LIKE $%d OR LOWER(description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, search)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	allowedSorts := map[string]string{
		"student_name": "student_name",
		"severity":     "severity",
		"status":       "status",
		"created_at":   "created_at",
		"updated_at":   "updated_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", referralColumns, base, column, order, size, offset)
	var referrals []models.Referral
	if err := r.db.SelectContext(ctx, &referrals, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list referrals: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count referrals: %w", err)
	}

	return referrals, total, nil
}

// FindByID fetches a referral by ID.
func (r *ReferralRepository) FindByID(ctx context.Context, id string) (*models.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`
	var referral models.Referral
	if err := r.db.GetContext(ctx, &referral, query, id); err != nil {
		return nil, err
	}
	return &referral, nil
}

// Update modifies the mutable fields of a referral.
func (r *ReferralRepository) Update(ctx context.Context, referral *models.Referral) error {
	referral.UpdatedAt = time.Now().UTC()
	const query = `UPDATE referrals SET student_name = :student_name, grade_level = :grade_level, concern_type = :concern_type, description = :description, severity = :severity, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, referral); err != nil {
		return fmt.Errorf("update referral: %w", err)
	}
	return nil
}

// UpdateSuggestions stores the generated intervention text and its state.
func (r *ReferralRepository) UpdateSuggestions(ctx context.Context, id string, suggestions *string, status string) error {
	const query = `UPDATE referrals SET suggestions = $2, suggestions_status = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, suggestions, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update referral suggestions: %w", err)
	}
	return nil
}

// Delete removes a referral.
func (r *ReferralRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM referrals WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete referral: %w", err)
	}
	return nil
}
