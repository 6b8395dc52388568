package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
)

func TestSectionRepositoryIncrementEnrolled(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	query := `UPDATE sections SET enrolled_count = enrolled_count \+ 1, updated_at = NOW\(\)\s+WHERE id = \$1 AND \(\$2 OR enrolled_count < capacity\)`
	mock.ExpectExec(query).WithArgs("sec-1", false).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("sec-1", false).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(query).WithArgs("sec-1", true).WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.IncrementEnrolled(context.Background(), "sec-1", false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IncrementEnrolled(context.Background(), "sec-1", false)
	require.NoError(t, err)
	assert.False(t, ok, "full section must not take another seat")

	ok, err = repo.IncrementEnrolled(context.Background(), "sec-1", true)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryDecrementEnrolledNeverBelowZero(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(`UPDATE sections SET enrolled_count = enrolled_count - 1, updated_at = NOW\(\)\s+WHERE id = \$1 AND enrolled_count > 0`).
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DecrementEnrolled(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryFindSection(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "subject_id", "number", "capacity", "enrolled_count", "active", "created_at", "updated_at",
		"subject_code", "subject_name", "subject_semester", "subject_programme"}).
		AddRow("sec-1", "sub-1", 2, 30, 29, true, now, now, "CS101", "Intro", 1, "CS")
	mock.ExpectQuery(`FROM sections s\s+JOIN subjects sub ON sub.id = s.subject_id\s+WHERE s.id = \$1`).
		WithArgs("sec-1").
		WillReturnRows(rows)

	section, err := repo.FindSection(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.Equal(t, "CS101", section.SubjectCode)
	assert.Equal(t, 1, section.SeatsLeft())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryListSectionSlotsScansClockTimes(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	rows := sqlmock.NewRows([]string{"id", "section_id", "day_of_week", "start_time", "end_time", "room", "subject_code", "section_number", "source"}).
		AddRow("ss-1", "sec-1", "WEDNESDAY", "15:00:00", "17:00:00", "B201", "CS101", 2, "")
	mock.ExpectQuery(`FROM section_schedules ss`).WithArgs("sec-1").WillReturnRows(rows)

	slots, err := repo.ListSectionSlots(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, models.Wednesday, slots[0].DayOfWeek)
	assert.Equal(t, models.Clock(15, 0), slots[0].StartTime)
	assert.Equal(t, models.Clock(17, 0), slots[0].EndTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryLookupsTreatNoRowsAsFalse(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectQuery(`SELECT 1 FROM subject_programmes`).WithArgs("sub-1", "EE").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM section_instructors`).WithArgs("sec-1", "lect-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	crossListed, err := repo.IsCrossListed(context.Background(), "sub-1", "EE")
	require.NoError(t, err)
	assert.False(t, crossListed)

	teaches, err := repo.IsSectionInstructor(context.Background(), "sec-1", "lect-1")
	require.NoError(t, err)
	assert.True(t, teaches)
	require.NoError(t, mock.ExpectationsWereMet())
}
