package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

// swapFixture enrolls stu-a in CS101 #1 (Monday) and stu-b in CS101 #2 (Wednesday).
func swapFixture(t *testing.T) (*fixture, models.Enrollment, models.Enrollment) {
	t.Helper()
	f := newFixture(t)
	a := f.enroll("stu-a", "sec-cs101-1")
	b := f.enroll("stu-b", "sec-cs101-2")
	return f, a, b
}

func proposal() CreateSwapRequest {
	return CreateSwapRequest{
		RequesterID:        "stu-a",
		RequesterSectionID: "sec-cs101-1",
		TargetID:           "stu-b",
		TargetSectionID:    "sec-cs101-2",
	}
}

func TestCreateSwapRequest(t *testing.T) {
	f, _, _ := swapFixture(t)

	swap, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)
	assert.NotEmpty(t, swap.ID)
	assert.Equal(t, models.RequestStatusPending, swap.Status)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, models.NotificationSwapRequested, f.notifier.sent[0].Kind)
	assert.Equal(t, "stu-b", f.notifier.sent[0].StudentID)
}

func TestCreateSwapRequestRejectsInvalidProposals(t *testing.T) {
	f, _, _ := swapFixture(t)
	f.enroll("stu-b", "sec-cs201-2")

	selfSwap := proposal()
	selfSwap.TargetID = "stu-a"
	_, err := f.swaps.CreateSwapRequest(context.Background(), selfSwap)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	notHeld := proposal()
	notHeld.RequesterSectionID = "sec-cs101-2"
	notHeld.TargetSectionID = "sec-cs101-1"
	_, err = f.swaps.CreateSwapRequest(context.Background(), notHeld)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, "requester does not hold the stated section", appErrors.FromError(err).Message)

	otherSubject := proposal()
	otherSubject.TargetSectionID = "sec-cs201-2"
	_, err = f.swaps.CreateSwapRequest(context.Background(), otherSubject)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCreateSwapRequestDetectsPostSwapClash(t *testing.T) {
	f, _, _ := swapFixture(t)
	f.enroll("stu-a", "sec-cs201-1")

	_, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.ErrorIs(t, err, appErrors.ErrScheduleClash)
	assert.Equal(t, "requester: CS101 section 2 (Wednesday 15:00-17:00) clashes with CS201 section 1 (Wednesday 16:00-18:00)", err.Error())

	clash := appErrors.FromError(err).Details.(*models.ScheduleClash)
	assert.Equal(t, "requester", clash.Party)
}

func TestCreateSwapRequestIntoInactiveSection(t *testing.T) {
	f, _, _ := swapFixture(t)
	f.deactivate(t, "sec-cs101-2", meeting(models.Wednesday, 15, 17))

	_, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Empty(t, f.notifier.sent)

	stored, err := f.swaps.ListSwapRequests(context.Background(), models.RequestFilter{StudentID: "stu-a"})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCreateSwapRequestOnePendingPerPair(t *testing.T) {
	f, _, _ := swapFixture(t)

	_, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)

	_, err = f.swaps.CreateSwapRequest(context.Background(), proposal())
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	reverse := CreateSwapRequest{RequesterID: "stu-b", RequesterSectionID: "sec-cs101-2", TargetID: "stu-a", TargetSectionID: "sec-cs101-1"}
	_, err = f.swaps.CreateSwapRequest(context.Background(), reverse)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestAcceptSwapExchangesSections(t *testing.T) {
	f, a, b := swapFixture(t)
	swap, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)

	resolved, err := f.swaps.RespondToSwapRequest(context.Background(), swap.ID, "stu-b", RespondSwapRequest{Accept: true})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, resolved.Status)
	assert.NotNil(t, resolved.RespondedAt)

	requester := f.store.Enrollments("stu-a")
	require.Len(t, requester, 1)
	assert.Equal(t, a.ID, requester[0].ID)
	assert.Equal(t, "sec-cs101-2", requester[0].SectionID)
	assert.Equal(t, models.EnrollmentTypeSwap, requester[0].Type)

	target := f.store.Enrollments("stu-b")
	require.Len(t, target, 1)
	assert.Equal(t, b.ID, target[0].ID)
	assert.Equal(t, "sec-cs101-1", target[0].SectionID)

	assert.Equal(t, 1, f.enrolledCount(t, "sec-cs101-1"))
	assert.Equal(t, 1, f.enrolledCount(t, "sec-cs101-2"))
}

func TestAcceptSwapAutoRejectsWhenClashAppears(t *testing.T) {
	f, _, _ := swapFixture(t)
	swap, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)

	f.enroll("stu-a", "sec-cs201-1")

	resolved, err := f.swaps.RespondToSwapRequest(context.Background(), swap.ID, "stu-b", RespondSwapRequest{Accept: true})
	require.ErrorIs(t, err, appErrors.ErrScheduleClash)
	require.NotNil(t, resolved)
	assert.Equal(t, models.RequestStatusRejected, resolved.Status)
	require.NotNil(t, resolved.ResponseReason)
	assert.Contains(t, *resolved.ResponseReason, "requester: CS101 section 2")

	assert.Equal(t, "sec-cs101-1", f.store.Enrollments("stu-a")[0].SectionID)
	assert.Equal(t, "sec-cs101-2", f.store.Enrollments("stu-b")[0].SectionID)

	stored, err := f.swaps.ListSwapRequests(context.Background(), models.RequestFilter{StudentID: "stu-a"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.RequestStatusRejected, stored[0].Status)
}

func TestAcceptSwapWithoutRecheckIgnoresNewClash(t *testing.T) {
	f, _, _ := swapFixture(t)
	f.swaps = NewSwapService(f.store, f.notifier, nil, nil, false, nil, nil)
	swap, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)

	f.enroll("stu-a", "sec-cs201-1")

	resolved, err := f.swaps.RespondToSwapRequest(context.Background(), swap.ID, "stu-b", RespondSwapRequest{Accept: true})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, resolved.Status)
}

func TestAcceptSwapAutoRejectsWhenEnrollmentGone(t *testing.T) {
	f, _, b := swapFixture(t)
	swap, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)
	require.NoError(t, f.registration.Unregister(context.Background(), "stu-b", b.ID))

	resolved, err := f.swaps.RespondToSwapRequest(context.Background(), swap.ID, "stu-b", RespondSwapRequest{Accept: true})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, models.RequestStatusRejected, resolved.Status)
	assert.Equal(t, "sec-cs101-1", f.store.Enrollments("stu-a")[0].SectionID)
}

func TestAcceptSwapAutoRejectsWhenSectionDeactivated(t *testing.T) {
	f, _, _ := swapFixture(t)
	swap, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)

	f.deactivate(t, "sec-cs101-2", meeting(models.Wednesday, 15, 17))

	resolved, err := f.swaps.RespondToSwapRequest(context.Background(), swap.ID, "stu-b", RespondSwapRequest{Accept: true})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	require.NotNil(t, resolved)
	assert.Equal(t, models.RequestStatusRejected, resolved.Status)
	require.NotNil(t, resolved.ResponseReason)
	assert.Contains(t, *resolved.ResponseReason, "section not found")

	assert.Equal(t, "sec-cs101-1", f.store.Enrollments("stu-a")[0].SectionID)
	assert.Equal(t, "sec-cs101-2", f.store.Enrollments("stu-b")[0].SectionID)
	assert.Equal(t, 1, f.enrolledCount(t, "sec-cs101-2"))
}

func TestRespondSwapOnlyTargetOncePending(t *testing.T) {
	f, _, _ := swapFixture(t)
	swap, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)

	_, err = f.swaps.RespondToSwapRequest(context.Background(), swap.ID, "stu-a", RespondSwapRequest{Accept: true})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	resolved, err := f.swaps.RespondToSwapRequest(context.Background(), swap.ID, "stu-b", RespondSwapRequest{Reason: "I prefer Wednesdays"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, resolved.Status)
	assert.Equal(t, "I prefer Wednesdays", *resolved.ResponseReason)

	_, err = f.swaps.RespondToSwapRequest(context.Background(), swap.ID, "stu-b", RespondSwapRequest{Accept: true})
	assert.ErrorIs(t, err, appErrors.ErrInvalidRequestState)

	_, err = f.swaps.RespondToSwapRequest(context.Background(), "swap-x", "stu-b", RespondSwapRequest{Accept: true})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCancelSwapRequest(t *testing.T) {
	f, _, _ := swapFixture(t)
	swap, err := f.swaps.CreateSwapRequest(context.Background(), proposal())
	require.NoError(t, err)

	_, err = f.swaps.CancelSwapRequest(context.Background(), swap.ID, "stu-b")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	cancelled, err := f.swaps.CancelSwapRequest(context.Background(), swap.ID, "stu-a")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, cancelled.Status)

	_, err = f.swaps.CancelSwapRequest(context.Background(), swap.ID, "stu-a")
	assert.ErrorIs(t, err, appErrors.ErrInvalidRequestState)

	_, err = f.swaps.CreateSwapRequest(context.Background(), proposal())
	assert.NoError(t, err, "a cancelled swap no longer blocks a new proposal")
}
