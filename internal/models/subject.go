package models

import "time"

// Subject is a course that can be offered in one or more sections.
type Subject struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	CreditHours int       `db:"credit_hours" json:"credit_hours"`
	Semester    int       `db:"semester" json:"semester"`
	Programme   string    `db:"programme" json:"programme"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Section is a scheduled offering of a subject with a seat capacity.
type Section struct {
	ID            string    `db:"id" json:"id"`
	SubjectID     string    `db:"subject_id" json:"subject_id"`
	Number        int       `db:"number" json:"number"`
	Capacity      int       `db:"capacity" json:"capacity"`
	EnrolledCount int       `db:"enrolled_count" json:"enrolled_count"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// SectionDetail enriches a section with its subject attributes.
type SectionDetail struct {
	Section
	SubjectCode      string `db:"subject_code" json:"subject_code"`
	SubjectName      string `db:"subject_name" json:"subject_name"`
	SubjectSemester  int    `db:"subject_semester" json:"subject_semester"`
	SubjectProgramme string `db:"subject_programme" json:"subject_programme"`
}

// SeatsLeft returns the remaining normal-path seats, never negative.
func (s *Section) SeatsLeft() int {
	if s == nil || s.EnrolledCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.EnrolledCount
}

// SectionAvailability is the read model served to students browsing sections.
type SectionAvailability struct {
	SectionID     string          `json:"section_id"`
	SubjectCode   string          `json:"subject_code"`
	SectionNumber int             `json:"section_number"`
	Capacity      int             `json:"capacity"`
	EnrolledCount int             `json:"enrolled_count"`
	SeatsLeft     int             `json:"seats_left"`
	Schedule      []ScheduleEntry `json:"schedule"`
}
