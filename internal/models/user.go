package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
)

// User represents a teacher account stored in the users table.
type User struct {
	ID                  string     `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	PasswordHash        *string    `db:"password_hash" json:"-"`
	FullName            string     `db:"full_name" json:"full_name"`
	Role                UserRole   `db:"role" json:"role"`
	SchoolName          *string    `db:"school_name" json:"school_name,omitempty"`
	District            *string    `db:"district" json:"district,omitempty"`
	GradeLevel          *string    `db:"grade_level" json:"grade_level,omitempty"`
	Subject             *string    `db:"subject" json:"subject,omitempty"`
	TeacherType         string     `db:"teacher_type" json:"teacher_type"`
	UsedThisMonth       int        `db:"used_this_month" json:"used_this_month"`
	BaseLimit           int        `db:"base_limit" json:"base_limit"`
	AdditionalPackages  int        `db:"additional_packages" json:"additional_packages"`
	SubscriptionEndDate *time.Time `db:"subscription_end_date" json:"subscription_end_date,omitempty"`
	Active              bool       `db:"active" json:"active"`
	LastLogin           *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// TotalLimit returns the monthly allowance including purchased packages.
func (u *User) TotalLimit(packageSize int) int {
	return u.BaseLimit + u.AdditionalPackages*packageSize
}

// SubscriptionActive reports whether the account holds a live subscription.
func (u *User) SubscriptionActive(now time.Time) bool {
	return u.SubscriptionEndDate != nil && u.SubscriptionEndDate.After(now)
}

// UserFilter captures filtering criteria for listing accounts.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
