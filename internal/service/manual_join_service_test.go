package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

const thesisReason = "required for my final-year thesis"

// fillSection seeds enough classmates to reach the section's capacity.
func fillSection(f *fixture, sectionID string, seats int) {
	for i := 0; i < seats; i++ {
		id := fmt.Sprintf("classmate-%s-%02d", sectionID, i)
		f.student(id, 3, "CS")
		f.enroll(id, sectionID)
	}
}

func TestManualJoinCreateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-cs101-1", Reason: "please"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, "reason must be at least 10 characters", appErrors.FromError(err).Message)

	_, err = f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-ma201-1", Reason: thesisReason})
	assert.ErrorIs(t, err, appErrors.ErrIneligible)

	f.enroll("stu-a", "sec-cs101-2")
	_, err = f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-cs101-1", Reason: thesisReason})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateEnrollment)
}

func TestManualJoinCreateOnePendingPerSection(t *testing.T) {
	f := newFixture(t)
	fillSection(f, "sec-cs101-1", 30)

	request, err := f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-cs101-1", Reason: thesisReason})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)

	_, err = f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-cs101-1", Reason: thesisReason})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestManualJoinApproveAdmitsPastCapacity(t *testing.T) {
	f := newFixture(t)
	fillSection(f, "sec-cs101-1", 30)
	require.Equal(t, 30, f.enrolledCount(t, "sec-cs101-1"))

	request, err := f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-cs101-1", Reason: thesisReason})
	require.NoError(t, err)

	approved, err := f.manualJoins.Approve(context.Background(), request.ID, admin, "welcome aboard")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, approved.Status)
	assert.Equal(t, "admin-1", *approved.ReviewedBy)
	assert.Equal(t, models.RoleAdmin, *approved.ReviewerRole)
	assert.Equal(t, "welcome aboard", *approved.ReviewNote)

	assert.Equal(t, 31, f.enrolledCount(t, "sec-cs101-1"))
	enrollments := f.store.Enrollments("stu-a")
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentTypeManual, enrollments[0].Type)
	require.NotNil(t, enrollments[0].ApprovedBy)
	assert.Equal(t, "admin-1", *enrollments[0].ApprovedBy)
	assert.Equal(t, []models.NotificationKind{models.NotificationRegistered, models.NotificationManualJoinResult}, f.notifier.kinds())
}

func TestManualJoinApproveAutoRejectsOnClash(t *testing.T) {
	f := newFixture(t)
	request, err := f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-cs201-1", Reason: thesisReason})
	require.NoError(t, err)

	f.enroll("stu-a", "sec-cs101-2")

	rejected, err := f.manualJoins.Approve(context.Background(), request.ID, admin, "")
	require.ErrorIs(t, err, appErrors.ErrScheduleClash)
	require.NotNil(t, rejected)
	assert.Equal(t, models.RequestStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ReviewNote)
	assert.Contains(t, *rejected.ReviewNote, "clashes with CS101 section 2")
	assert.Equal(t, 0, f.enrolledCount(t, "sec-cs201-1"))

	stored, err := f.manualJoins.List(context.Background(), models.RequestFilter{StudentID: "stu-a"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.RequestStatusRejected, stored[0].Status)
	assert.Equal(t, []models.NotificationKind{models.NotificationManualJoinResult}, f.notifier.kinds())
}

func TestManualJoinReviewerScope(t *testing.T) {
	f := newFixture(t)
	other, err := f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-cs201-2", Reason: thesisReason})
	require.NoError(t, err)
	taught, err := f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-b", SectionID: "sec-cs101-1", Reason: thesisReason})
	require.NoError(t, err)

	_, err = f.manualJoins.Approve(context.Background(), other.ID, lecturer, "")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.manualJoins.Approve(context.Background(), taught.ID, models.Reviewer{UserID: "stu-b", Role: models.RoleStudent}, "")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	approved, err := f.manualJoins.Approve(context.Background(), taught.ID, lecturer, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, approved.Status)
	assert.Nil(t, approved.ReviewNote)

	scoped, err := f.manualJoins.List(context.Background(), models.RequestFilter{InstructorID: "lect-1"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, taught.ID, scoped[0].ID)
}

func TestManualJoinReject(t *testing.T) {
	f := newFixture(t)
	request, err := f.manualJoins.Create(context.Background(), CreateManualJoinRequest{StudentID: "stu-a", SectionID: "sec-cs101-1", Reason: thesisReason})
	require.NoError(t, err)

	_, err = f.manualJoins.Reject(context.Background(), request.ID, admin, "   ")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	rejected, err := f.manualJoins.Reject(context.Background(), request.ID, admin, "section seats are reserved")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, rejected.Status)
	assert.Equal(t, "section seats are reserved", *rejected.ReviewNote)

	_, err = f.manualJoins.Approve(context.Background(), request.ID, admin, "")
	assert.ErrorIs(t, err, appErrors.ErrInvalidRequestState)
	assert.Empty(t, f.store.Enrollments("stu-a"))
}
