package models

import "time"

// Concern types accepted on a support request.
const (
	ConcernAcademic        = "academic"
	ConcernBehavioral      = "behavioral"
	ConcernSocialEmotional = "social-emotional"
	ConcernAttendance      = "attendance"
)

// Referral statuses.
const (
	ReferralStatusOpen       = "open"
	ReferralStatusInProgress = "in_progress"
	ReferralStatusResolved   = "resolved"
)

// Suggestion generation states.
const (
	SuggestionsPending = "pending"
	SuggestionsReady   = "ready"
	SuggestionsFailed  = "failed"
)

// Referral represents a teacher-submitted student support request.
type Referral struct {
	ID                string    `db:"id" json:"id"`
	TeacherID         string    `db:"teacher_id" json:"teacher_id"`
	StudentName       string    `db:"student_name" json:"student_name"`
	GradeLevel        *string   `db:"grade_level" json:"grade_level,omitempty"`
	ConcernType       string    `db:"concern_type" json:"concern_type"`
	Description       string    `db:"description" json:"description"`
	Severity          string    `db:"severity" json:"severity"`
	Status            string    `db:"status" json:"status"`
	Suggestions       *string   `db:"suggestions" json:"suggestions,omitempty"`
	SuggestionsStatus string    `db:"suggestions_status" json:"suggestions_status"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// ReferralFilter captures filtering options for listing support requests.
type ReferralFilter struct {
	TeacherID string
	Status    string
	Severity  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
