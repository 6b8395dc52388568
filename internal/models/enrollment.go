package models

import "time"

// EnrollmentType records how an enrollment came to exist.
type EnrollmentType string

// Possible enrollment types.
const (
	EnrollmentTypeNormal EnrollmentType = "NORMAL"
	EnrollmentTypeManual EnrollmentType = "MANUAL"
	EnrollmentTypeSwap   EnrollmentType = "SWAP"
)

// Valid reports whether t is a known enrollment type.
func (t EnrollmentType) Valid() bool {
	switch t {
	case EnrollmentTypeNormal, EnrollmentTypeManual, EnrollmentTypeSwap:
		return true
	}
	return false
}

// Enrollment captures a student's seat in a section. SubjectID is carried so
// the one-section-per-subject rule can be checked without joining sections.
type Enrollment struct {
	ID         string         `db:"id" json:"id"`
	StudentID  string         `db:"student_id" json:"student_id"`
	SectionID  string         `db:"section_id" json:"section_id"`
	SubjectID  string         `db:"subject_id" json:"subject_id"`
	Type       EnrollmentType `db:"type" json:"type"`
	ApprovedBy *string        `db:"approved_by" json:"approved_by,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with subject and section info.
type EnrollmentDetail struct {
	Enrollment
	SubjectCode   string `db:"subject_code" json:"subject_code"`
	SectionNumber int    `db:"section_number" json:"section_number"`
}
