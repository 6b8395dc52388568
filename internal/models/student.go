package models

import "time"

// Student represents a learner registered in the institution.
type Student struct {
	ID            string    `db:"id" json:"id"`
	UserID        *string   `db:"user_id" json:"user_id,omitempty"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	FullName      string    `db:"full_name" json:"full_name"`
	Semester      int       `db:"semester" json:"semester"`
	Programme     string    `db:"programme" json:"programme"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// AccountID returns the linked user account, or "" when there is none.
func (s *Student) AccountID() string {
	if s == nil || s.UserID == nil {
		return ""
	}
	return *s.UserID
}
