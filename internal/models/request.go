package models

import "time"

// RequestStatus captures workflow states shared by swap, manual-join and drop requests.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s != RequestStatusPending
}

// SwapRequest proposes exchanging two students' sections of one subject.
type SwapRequest struct {
	ID                 string        `db:"id" json:"id"`
	RequesterID        string        `db:"requester_id" json:"requester_id"`
	RequesterSectionID string        `db:"requester_section_id" json:"requester_section_id"`
	TargetID           string        `db:"target_id" json:"target_id"`
	TargetSectionID    string        `db:"target_section_id" json:"target_section_id"`
	Status             RequestStatus `db:"status" json:"status"`
	ResponseReason     *string       `db:"response_reason" json:"response_reason,omitempty"`
	RespondedAt        *time.Time    `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
}

// Involves reports whether the student is either party of the swap.
func (r *SwapRequest) Involves(studentID string) bool {
	return r != nil && (r.RequesterID == studentID || r.TargetID == studentID)
}

// ManualJoinRequest asks an approver to admit a student past section capacity.
type ManualJoinRequest struct {
	ID           string        `db:"id" json:"id"`
	StudentID    string        `db:"student_id" json:"student_id"`
	SectionID    string        `db:"section_id" json:"section_id"`
	Reason       string        `db:"reason" json:"reason"`
	Status       RequestStatus `db:"status" json:"status"`
	ReviewedBy   *string       `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewerRole *UserRole     `db:"reviewer_role" json:"reviewer_role,omitempty"`
	ReviewNote   *string       `db:"review_note" json:"review_note,omitempty"`
	ReviewedAt   *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// DropRequest asks an approver to remove a committed enrollment.
type DropRequest struct {
	ID           string        `db:"id" json:"id"`
	StudentID    string        `db:"student_id" json:"student_id"`
	EnrollmentID string        `db:"enrollment_id" json:"enrollment_id"`
	SectionID    string        `db:"section_id" json:"section_id"`
	Reason       string        `db:"reason" json:"reason"`
	Status       RequestStatus `db:"status" json:"status"`
	ReviewedBy   *string       `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewerRole *UserRole     `db:"reviewer_role" json:"reviewer_role,omitempty"`
	ReviewNote   *string       `db:"review_note" json:"review_note,omitempty"`
	ReviewedAt   *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// Review is the outcome written when a request leaves PENDING.
type Review struct {
	Status     RequestStatus
	ReviewedBy string
	Role       UserRole
	Note       *string
	ReviewedAt time.Time
}

// RequestFilter constrains request listing queries.
type RequestFilter struct {
	StudentID    string
	SectionID    string
	InstructorID string
	Status       []RequestStatus
	Limit        int
	Offset       int
}
