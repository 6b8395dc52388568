package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

// SectionRepository reads sections and maintains their enrolled counter.
type SectionRepository struct {
	q sqlx.ExtContext
}

// NewSectionRepository constructs the repository over a DB or transaction.
func NewSectionRepository(q sqlx.ExtContext) *SectionRepository {
	return &SectionRepository{q: q}
}

// dayOrder sorts schedule rows Monday first instead of alphabetically.
const dayOrder = `array_position(ARRAY['MONDAY','TUESDAY','WEDNESDAY','THURSDAY','FRIDAY','SATURDAY','SUNDAY']::varchar[], ss.day_of_week)`

// FindSection returns a section with its subject attributes.
func (r *SectionRepository) FindSection(ctx context.Context, id string) (*models.SectionDetail, error) {
	const query = `SELECT s.id, s.subject_id, s.number, s.capacity, s.enrolled_count, s.active, s.created_at, s.updated_at,
        sub.code AS subject_code, sub.name AS subject_name, sub.semester AS subject_semester, sub.programme AS subject_programme
        FROM sections s
        JOIN subjects sub ON sub.id = s.subject_id
        WHERE s.id = $1`
	var section models.SectionDetail
	if err := sqlx.GetContext(ctx, r.q, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListSectionSlots returns the weekly meetings of a section.
func (r *SectionRepository) ListSectionSlots(ctx context.Context, sectionID string) ([]models.ScheduleSlot, error) {
	const query = `SELECT ss.id, ss.section_id, ss.day_of_week, ss.start_time, ss.end_time, ss.room,
        sub.code AS subject_code, s.number AS section_number, '' AS source
        FROM section_schedules ss
        JOIN sections s ON s.id = ss.section_id
        JOIN subjects sub ON sub.id = s.subject_id
        WHERE ss.section_id = $1
        ORDER BY ` + dayOrder + `, ss.start_time`
	var slots []models.ScheduleSlot
	if err := sqlx.SelectContext(ctx, r.q, &slots, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section schedule: %w", err)
	}
	return slots, nil
}

// IsCrossListed reports whether a subject is shared into another programme.
func (r *SectionRepository) IsCrossListed(ctx context.Context, subjectID, programme string) (bool, error) {
	const query = `SELECT 1 FROM subject_programmes WHERE subject_id = $1 AND programme = $2 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, r.q, &exists, query, subjectID, programme); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check subject programme: %w", err)
	}
	return true, nil
}

// IsSectionInstructor reports whether the user teaches the section.
func (r *SectionRepository) IsSectionInstructor(ctx context.Context, sectionID, userID string) (bool, error) {
	const query = `SELECT 1 FROM section_instructors WHERE section_id = $1 AND user_id = $2 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, r.q, &exists, query, sectionID, userID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check section instructor: %w", err)
	}
	return true, nil
}

// IncrementEnrolled takes one seat. The capacity predicate is evaluated by
// the UPDATE itself on the locked row, so concurrent callers cannot both take
// the last seat. It returns false when the section is full.
func (r *SectionRepository) IncrementEnrolled(ctx context.Context, sectionID string, allowOverCapacity bool) (bool, error) {
	const query = `UPDATE sections SET enrolled_count = enrolled_count + 1, updated_at = NOW()
        WHERE id = $1 AND ($2 OR enrolled_count < capacity)`
	result, err := r.q.ExecContext(ctx, query, sectionID, allowOverCapacity)
	if err != nil {
		return false, fmt.Errorf("increment enrolled count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment enrolled count rows: %w", err)
	}
	return affected == 1, nil
}

// DecrementEnrolled releases one seat; it returns false if the counter was already zero.
func (r *SectionRepository) DecrementEnrolled(ctx context.Context, sectionID string) (bool, error) {
	const query = `UPDATE sections SET enrolled_count = enrolled_count - 1, updated_at = NOW()
        WHERE id = $1 AND enrolled_count > 0`
	result, err := r.q.ExecContext(ctx, query, sectionID)
	if err != nil {
		return false, fmt.Errorf("decrement enrolled count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement enrolled count rows: %w", err)
	}
	return affected == 1, nil
}
