package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	q sqlx.ExtContext
}

// NewEnrollmentRepository constructs the repository over a DB or transaction.
func NewEnrollmentRepository(q sqlx.ExtContext) *EnrollmentRepository {
	return &EnrollmentRepository{q: q}
}

const enrollmentColumns = `id, student_id, section_id, subject_id, type, approved_by, created_at, updated_at`

// LockEnrollment returns an enrollment by its ID holding its row lock.
func (r *EnrollmentRepository) LockEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.q, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// LockEnrollmentBySection returns the student's enrollment in a section holding its row lock.
func (r *EnrollmentRepository) LockEnrollmentBySection(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND section_id = $2 FOR UPDATE`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.q, &enrollment, query, studentID, sectionID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindEnrollmentBySubject returns the student's enrollment in any section of
// the subject, or nil when there is none.
func (r *EnrollmentRepository) FindEnrollmentBySubject(ctx context.Context, studentID, subjectID string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.section_id, e.subject_id, e.type, e.approved_by, e.created_at, e.updated_at,
        sub.code AS subject_code, s.number AS section_number
        FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        JOIN subjects sub ON sub.id = e.subject_id
        WHERE e.student_id = $1 AND e.subject_id = $2
        LIMIT 1`
	var detail models.EnrollmentDetail
	if err := sqlx.GetContext(ctx, r.q, &detail, query, studentID, subjectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find enrollment by subject: %w", err)
	}
	return &detail, nil
}

// ListStudentEnrollments returns every enrollment the student holds.
func (r *EnrollmentRepository) ListStudentEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.section_id, e.subject_id, e.type, e.approved_by, e.created_at, e.updated_at,
        sub.code AS subject_code, s.number AS section_number
        FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        JOIN subjects sub ON sub.id = e.subject_id
        WHERE e.student_id = $1
        ORDER BY sub.code`
	var enrollments []models.EnrollmentDetail
	if err := sqlx.SelectContext(ctx, r.q, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListStudentSchedule returns the meetings of every section the student attends.
func (r *EnrollmentRepository) ListStudentSchedule(ctx context.Context, studentID string) ([]models.ScheduleSlot, error) {
	const query = `SELECT ss.id, ss.section_id, ss.day_of_week, ss.start_time, ss.end_time, ss.room,
        sub.code AS subject_code, s.number AS section_number, 'ENROLLED' AS source
        FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        JOIN subjects sub ON sub.id = s.subject_id
        JOIN section_schedules ss ON ss.section_id = s.id
        WHERE e.student_id = $1
        ORDER BY ` + dayOrder + `, ss.start_time`
	var slots []models.ScheduleSlot
	if err := sqlx.SelectContext(ctx, r.q, &slots, query, studentID); err != nil {
		return nil, fmt.Errorf("list student schedule: %w", err)
	}
	return slots, nil
}

// ListTeachingSchedule returns the meetings of active sections the user teaches.
func (r *EnrollmentRepository) ListTeachingSchedule(ctx context.Context, userID string) ([]models.ScheduleSlot, error) {
	const query = `SELECT ss.id, ss.section_id, ss.day_of_week, ss.start_time, ss.end_time, ss.room,
        sub.code AS subject_code, s.number AS section_number, 'TEACHING' AS source
        FROM section_instructors si
        JOIN sections s ON s.id = si.section_id
        JOIN subjects sub ON sub.id = s.subject_id
        JOIN section_schedules ss ON ss.section_id = s.id
        WHERE si.user_id = $1 AND s.active
        ORDER BY ` + dayOrder + `, ss.start_time`
	var slots []models.ScheduleSlot
	if err := sqlx.SelectContext(ctx, r.q, &slots, query, userID); err != nil {
		return nil, fmt.Errorf("list teaching schedule: %w", err)
	}
	return slots, nil
}

// CreateEnrollment persists a new enrollment record.
func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Type == "" {
		enrollment.Type = models.EnrollmentTypeNormal
	}
	const query = `INSERT INTO enrollments (id, student_id, section_id, subject_id, type, approved_by, created_at, updated_at)
        VALUES (:id, :student_id, :section_id, :subject_id, :type, :approved_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// DeleteEnrollment removes an enrollment row.
func (r *EnrollmentRepository) DeleteEnrollment(ctx context.Context, id string) error {
	const query = `DELETE FROM enrollments WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReassignEnrollment moves an enrollment to another section of the same subject.
func (r *EnrollmentRepository) ReassignEnrollment(ctx context.Context, id, sectionID string, enrollmentType models.EnrollmentType) error {
	const query = `UPDATE enrollments SET section_id = $2, type = $3, updated_at = $4 WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id, sectionID, enrollmentType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reassign enrollment: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
