package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
)

func seededMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	store.AddStudent(models.Student{ID: "stu-1", Semester: 2, Programme: "CS", Active: true})
	store.AddSubject(models.Subject{ID: "sub-1", Code: "CS101", Semester: 1, Programme: "CS"}, "EE")
	store.AddSection(models.Section{ID: "sec-1", SubjectID: "sub-1", Number: 1, Capacity: 1, Active: true},
		models.ScheduleEntry{DayOfWeek: models.Wednesday, StartTime: models.Clock(15, 0), EndTime: models.Clock(17, 0)},
		models.ScheduleEntry{DayOfWeek: models.Monday, StartTime: models.Clock(8, 0), EndTime: models.Clock(10, 0)},
	)
	return store
}

func TestMemoryStoreFailedUnitLeavesNoTrace(t *testing.T) {
	store := seededMemoryStore(t)
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		ok, err := tx.IncrementEnrolled(context.Background(), "sec-1", false)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.CreateEnrollment(context.Background(), &models.Enrollment{StudentID: "stu-1", SectionID: "sec-1", SubjectID: "sub-1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	section, _ := store.Section("sec-1")
	assert.Equal(t, 0, section.EnrolledCount)
	assert.Equal(t, 0, store.CountEnrollments("sec-1"))
}

func TestMemoryStoreNestedRestoresSnapshot(t *testing.T) {
	store := seededMemoryStore(t)

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		nested := tx.Nested(context.Background(), func(inner Tx) error {
			_, _ = inner.IncrementEnrolled(context.Background(), "sec-1", true)
			return errors.New("inner failure")
		})
		require.Error(t, nested)
		return tx.CreateSwapRequest(context.Background(), &models.SwapRequest{RequesterID: "stu-1", TargetID: "stu-2"})
	})
	require.NoError(t, err)

	section, _ := store.Section("sec-1")
	assert.Equal(t, 0, section.EnrolledCount, "nested increment must be undone")
}

func TestMemoryStoreCopiesLedgerOnlyOnWrite(t *testing.T) {
	store := seededMemoryStore(t)
	live := store.ledger

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.ListStudentEnrollments(context.Background(), "stu-1")
		return err
	})
	require.NoError(t, err)
	assert.Same(t, live, store.ledger)

	err = store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.Nested(context.Background(), func(inner Tx) error {
			_, _ = inner.IncrementEnrolled(context.Background(), "sec-1", true)
			return errors.New("inner failure")
		})
	})
	require.Error(t, err)
	assert.Same(t, live, store.ledger)
	assert.Equal(t, 0, live.sections["sec-1"].EnrolledCount)

	err = store.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.IncrementEnrolled(context.Background(), "sec-1", false)
		return err
	})
	require.NoError(t, err)
	assert.NotSame(t, live, store.ledger)
	assert.Equal(t, 0, live.sections["sec-1"].EnrolledCount)
	section, _ := store.Section("sec-1")
	assert.Equal(t, 1, section.EnrolledCount)
}

func TestMemoryStoreCapacityAndDuplicates(t *testing.T) {
	store := seededMemoryStore(t)
	store.AddEnrollment(models.Enrollment{StudentID: "stu-1", SectionID: "sec-1"})

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		ok, err := tx.IncrementEnrolled(context.Background(), "sec-1", false)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.IncrementEnrolled(context.Background(), "sec-1", true)
		require.NoError(t, err)
		assert.True(t, ok)

		err = tx.CreateEnrollment(context.Background(), &models.Enrollment{StudentID: "stu-1", SectionID: "sec-1", SubjectID: "sub-1"})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)

	section, _ := store.Section("sec-1")
	assert.Equal(t, 2, section.EnrolledCount)
}

func TestMemoryStoreLookupsAndSchedules(t *testing.T) {
	store := seededMemoryStore(t)
	store.AddInstructor("sec-1", "lect-1")

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.LockStudent(context.Background(), "missing")
		assert.ErrorIs(t, err, sql.ErrNoRows)

		crossListed, _ := tx.IsCrossListed(context.Background(), "sub-1", "EE")
		assert.True(t, crossListed)

		slots, err := tx.ListSectionSlots(context.Background(), "sec-1")
		require.NoError(t, err)
		require.Len(t, slots, 2)
		assert.Equal(t, models.Monday, slots[0].DayOfWeek, "slots are ordered Monday first")
		assert.Equal(t, "sec-1-1", slots[1].ID)

		teaching, err := tx.ListTeachingSchedule(context.Background(), "lect-1")
		require.NoError(t, err)
		require.Len(t, teaching, 2)
		assert.Equal(t, models.SlotTeaching, teaching[0].Source)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreListRequestsFiltersAndPaginates(t *testing.T) {
	store := seededMemoryStore(t)
	store.AddInstructor("sec-1", "lect-1")

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		for i := 0; i < 3; i++ {
			require.NoError(t, tx.CreateManualJoinRequest(context.Background(), &models.ManualJoinRequest{StudentID: "stu-1", SectionID: "sec-1", Reason: "needed for thesis"}))
		}
		require.NoError(t, tx.CreateManualJoinRequest(context.Background(), &models.ManualJoinRequest{StudentID: "stu-1", SectionID: "sec-2", Reason: "needed for thesis"}))
		return nil
	})
	require.NoError(t, err)

	err = store.WithinTx(context.Background(), func(tx Tx) error {
		scoped, err := tx.ListManualJoinRequests(context.Background(), models.RequestFilter{InstructorID: "lect-1"})
		require.NoError(t, err)
		assert.Len(t, scoped, 3)

		page, err := tx.ListManualJoinRequests(context.Background(), models.RequestFilter{StudentID: "stu-1", Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, page, 2)

		none, err := tx.ListManualJoinRequests(context.Background(), models.RequestFilter{Status: []models.RequestStatus{models.RequestStatusApproved}})
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreLoadSeed(t *testing.T) {
	seed := `{
		"students": [{"id": "stu-9", "semester": 4, "programme": "CS", "active": true}],
		"subjects": [{"id": "sub-9", "code": "CS301", "semester": 3, "programme": "CS", "cross_listed": ["MATH"]}],
		"sections": [{
			"id": "sec-9", "subject_id": "sub-9", "number": 1, "capacity": 30, "active": true,
			"schedule": [{"day_of_week": "TUESDAY", "start_time": "09:00", "end_time": "11:00", "room": "C3"}],
			"instructors": ["lect-9"]
		}]
	}`
	store := NewMemoryStore()
	require.NoError(t, store.LoadSeed(strings.NewReader(seed)))

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		section, err := tx.FindSection(context.Background(), "sec-9")
		require.NoError(t, err)
		assert.Equal(t, "CS301", section.SubjectCode)
		assert.Equal(t, 3, section.SubjectSemester)

		slots, err := tx.ListSectionSlots(context.Background(), "sec-9")
		require.NoError(t, err)
		require.Len(t, slots, 1)
		assert.Equal(t, models.Clock(9, 0), slots[0].StartTime)

		teaches, _ := tx.IsSectionInstructor(context.Background(), "sec-9", "lect-9")
		assert.True(t, teaches)
		crossListed, _ := tx.IsCrossListed(context.Background(), "sub-9", "MATH")
		assert.True(t, crossListed)
		return nil
	})
	require.NoError(t, err)

	assert.Error(t, NewMemoryStore().LoadSeed(strings.NewReader("{")))
}
