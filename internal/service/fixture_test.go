package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) kinds() []models.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]models.NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type fixture struct {
	store        *repository.MemoryStore
	notifier     *recordingNotifier
	metrics      *MetricsService
	registration *RegistrationService
	swaps        *SwapService
	manualJoins  *ManualJoinService
	drops        *DropService
}

var (
	admin    = models.Reviewer{UserID: "admin-1", Role: models.RoleAdmin}
	lecturer = models.Reviewer{UserID: "lect-1", Role: models.RoleLecturer}
)

// newFixture seeds two third-semester CS students and this catalog:
//
//	sec-cs101-1  CS101 #1  Monday 08-10
//	sec-cs101-2  CS101 #2  Wednesday 15-17
//	sec-cs201-1  CS201 #1  Wednesday 16-18
//	sec-cs201-2  CS201 #2  Thursday 10-12
//	sec-ma201-1  MA201 #1  Tuesday 08-10 (MATH only)
//
// CS101 is cross-listed into EE. lect-1 teaches sec-cs101-1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	notifier := &recordingNotifier{}
	metrics := NewMetricsService()
	registration := NewRegistrationService(store, notifier, nil, metrics, nil, nil)
	f := &fixture{
		store:        store,
		notifier:     notifier,
		metrics:      metrics,
		registration: registration,
		swaps:        NewSwapService(store, notifier, nil, metrics, true, nil, nil),
		manualJoins:  NewManualJoinService(store, registration, notifier, nil, metrics, 10, nil, nil),
		drops:        NewDropService(store, registration, notifier, nil, metrics, 10, nil, nil),
	}

	f.student("stu-a", 3, "CS")
	f.student("stu-b", 3, "CS")

	store.AddSubject(models.Subject{ID: "sub-cs101", Code: "CS101", Name: "Programming", Semester: 1, Programme: "CS"}, "EE")
	store.AddSubject(models.Subject{ID: "sub-cs201", Code: "CS201", Name: "Data Structures", Semester: 2, Programme: "CS"})
	store.AddSubject(models.Subject{ID: "sub-ma201", Code: "MA201", Name: "Linear Algebra", Semester: 1, Programme: "MATH"})

	f.section("sec-cs101-1", "sub-cs101", 1, 30, meeting(models.Monday, 8, 10))
	f.section("sec-cs101-2", "sub-cs101", 2, 30, meeting(models.Wednesday, 15, 17))
	f.section("sec-cs201-1", "sub-cs201", 1, 30, meeting(models.Wednesday, 16, 18))
	f.section("sec-cs201-2", "sub-cs201", 2, 30, meeting(models.Thursday, 10, 12))
	f.section("sec-ma201-1", "sub-ma201", 1, 30, meeting(models.Tuesday, 8, 10))
	store.AddInstructor("sec-cs101-1", "lect-1")
	return f
}

func (f *fixture) student(id string, semester int, programme string) {
	f.store.AddStudent(models.Student{ID: id, StudentNumber: id, FullName: id, Semester: semester, Programme: programme, Active: true})
}

func (f *fixture) section(id, subjectID string, number, capacity int, meetings ...models.ScheduleEntry) {
	f.store.AddSection(models.Section{ID: id, SubjectID: subjectID, Number: number, Capacity: capacity, Active: true}, meetings...)
}

// deactivate soft-deletes a seeded section, keeping its counts and meetings.
func (f *fixture) deactivate(t *testing.T, sectionID string, meetings ...models.ScheduleEntry) {
	t.Helper()
	section, ok := f.store.Section(sectionID)
	require.True(t, ok, "section %s seeded", sectionID)
	section.Active = false
	f.store.AddSection(section, meetings...)
}

func (f *fixture) enroll(studentID, sectionID string) models.Enrollment {
	return f.store.AddEnrollment(models.Enrollment{StudentID: studentID, SectionID: sectionID})
}

func (f *fixture) enrolledCount(t *testing.T, sectionID string) int {
	t.Helper()
	section, ok := f.store.Section(sectionID)
	require.True(t, ok, "section %s seeded", sectionID)
	require.Equal(t, f.store.CountEnrollments(sectionID), section.EnrolledCount, "enrolled count matches enrollment rows")
	return section.EnrolledCount
}

func meeting(day models.Weekday, startHour, endHour int) models.ScheduleEntry {
	return models.ScheduleEntry{DayOfWeek: day, StartTime: models.Clock(startHour, 0), EndTime: models.Clock(endHour, 0)}
}
