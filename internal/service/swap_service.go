package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

// CreateSwapRequest proposes exchanging the requester's section for the target's.
type CreateSwapRequest struct {
	RequesterID        string `json:"requester_id" validate:"required"`
	RequesterSectionID string `json:"requester_section_id" validate:"required"`
	TargetID           string `json:"target_id" validate:"required,nefield=RequesterID"`
	TargetSectionID    string `json:"target_section_id" validate:"required,nefield=RequesterSectionID"`
}

// RespondSwapRequest is the target student's answer.
type RespondSwapRequest struct {
	Accept bool   `json:"accept"`
	Reason string `json:"reason" validate:"max=500"`
}

// SwapService coordinates section exchanges between two students.
type SwapService struct {
	uow             repository.UnitOfWork
	notifier        Notifier
	cache           *CacheService
	metrics         *MetricsService
	recheckOnAccept bool
	validator       *validator.Validate
	logger          *zap.Logger
	now             func() time.Time
}

// NewSwapService constructs SwapService. When recheckOnAccept is set, the
// post-swap clash checks are repeated when the target accepts.
func NewSwapService(uow repository.UnitOfWork, notifier Notifier, cache *CacheService, metrics *MetricsService, recheckOnAccept bool, validate *validator.Validate, logger *zap.Logger) *SwapService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SwapService{
		uow:             uow,
		notifier:        notifier,
		cache:           cache,
		metrics:         metrics,
		recheckOnAccept: recheckOnAccept,
		validator:       validate,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// swapParties holds both locked enrollments of a swap.
type swapParties struct {
	requester *models.Enrollment
	target    *models.Enrollment
}

// CreateSwapRequest validates and persists a pending swap request.
func (s *SwapService) CreateSwapRequest(ctx context.Context, req CreateSwapRequest) (*models.SwapRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid swap request payload")
	}

	swap := &models.SwapRequest{
		RequesterID:        req.RequesterID,
		RequesterSectionID: req.RequesterSectionID,
		TargetID:           req.TargetID,
		TargetSectionID:    req.TargetSectionID,
		Status:             models.RequestStatusPending,
	}
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := s.verifyParties(ctx, tx, swap); err != nil {
			return err
		}
		pending, err := tx.ExistsPendingSwapBetween(ctx, req.RequesterID, req.TargetID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending swaps")
		}
		if pending {
			return appErrors.Clone(appErrors.ErrConflict, "a pending swap request already exists between these students")
		}
		if err := tx.CreateSwapRequest(ctx, swap); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create swap request")
		}
		return nil
	})
	s.metrics.RecordOperation("swap_create", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("swap requested", zap.String("swap_id", swap.ID), zap.String("requester_id", swap.RequesterID), zap.String("target_id", swap.TargetID))
	dispatch(ctx, s.notifier, models.Notification{
		Kind:      models.NotificationSwapRequested,
		StudentID: swap.TargetID,
		Subject:   "Section swap proposed",
		Message:   fmt.Sprintf("A student proposes swapping sections with you (request %s).", swap.ID),
	})
	return swap, nil
}

// RespondToSwapRequest lets the target accept or reject a pending swap. An accepted swap
// whose preconditions no longer hold is rejected with the failure recorded
// as the reason, and the failure is returned.
func (s *SwapService) RespondToSwapRequest(ctx context.Context, id, respondentID string, req RespondSwapRequest) (*models.SwapRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid swap response payload")
	}

	var (
		swap    *models.SwapRequest
		failure error
	)
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		swap, err = tx.LockSwapRequest(ctx, id)
		if err != nil {
			return lookupError(err, "swap request")
		}
		if swap.TargetID != respondentID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the target student may respond to this swap")
		}
		if swap.Status != models.RequestStatusPending {
			return appErrors.Clone(appErrors.ErrInvalidRequestState, fmt.Sprintf("swap request is already %s", swap.Status))
		}
		reason := optionalString(req.Reason)

		if !req.Accept {
			return s.resolve(ctx, tx, swap, models.RequestStatusRejected, reason)
		}

		failure = tx.Nested(ctx, func(inner repository.Tx) error {
			return s.exchange(ctx, inner, swap)
		})
		if failure == nil {
			return s.resolve(ctx, tx, swap, models.RequestStatusApproved, reason)
		}
		if !appErrors.IsDomain(failure) {
			return failure
		}
		message := appErrors.FromError(failure).Message
		return s.resolve(ctx, tx, swap, models.RequestStatusRejected, &message)
	})
	if err != nil {
		s.metrics.RecordOperation("swap_respond", err)
		return nil, err
	}
	s.metrics.RecordOperation("swap_respond", failure)

	s.logger.Info("swap resolved", zap.String("swap_id", swap.ID), zap.String("status", string(swap.Status)))
	if swap.Status == models.RequestStatusApproved {
		invalidateReadModels(ctx, s.cache, []string{swap.RequesterID, swap.TargetID}, []string{swap.RequesterSectionID, swap.TargetSectionID})
	}
	dispatch(ctx, s.notifier, models.Notification{
		Kind:      models.NotificationSwapResolved,
		StudentID: swap.RequesterID,
		Subject:   "Section swap " + string(swap.Status),
		Message:   fmt.Sprintf("Your swap request %s is %s.", swap.ID, swap.Status),
	})
	return swap, failure
}

// CancelSwapRequest withdraws a pending swap on behalf of its requester.
func (s *SwapService) CancelSwapRequest(ctx context.Context, id, requesterID string) (*models.SwapRequest, error) {
	var swap *models.SwapRequest
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		swap, err = tx.LockSwapRequest(ctx, id)
		if err != nil {
			return lookupError(err, "swap request")
		}
		if swap.RequesterID != requesterID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the requester may cancel this swap")
		}
		if swap.Status != models.RequestStatusPending {
			return appErrors.Clone(appErrors.ErrInvalidRequestState, fmt.Sprintf("swap request is already %s", swap.Status))
		}
		return s.resolve(ctx, tx, swap, models.RequestStatusCancelled, nil)
	})
	s.metrics.RecordOperation("swap_cancel", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("swap cancelled", zap.String("swap_id", swap.ID))
	return swap, nil
}

// ListSwapRequests returns swap requests matching the filter.
func (s *SwapService) ListSwapRequests(ctx context.Context, filter models.RequestFilter) ([]models.SwapRequest, error) {
	var swaps []models.SwapRequest
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		swaps, err = tx.ListSwapRequests(ctx, filter)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list swap requests")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swaps, nil
}

// exchange re-verifies a swap and moves both enrollments. Seat counts are
// untouched since each section loses one student and gains one.
func (s *SwapService) exchange(ctx context.Context, tx repository.Tx, swap *models.SwapRequest) error {
	var (
		parties *swapParties
		err     error
	)
	if s.recheckOnAccept {
		parties, err = s.verifyParties(ctx, tx, swap)
	} else {
		parties, err = s.lockParties(ctx, tx, swap)
	}
	if err != nil {
		return err
	}
	if err := tx.ReassignEnrollment(ctx, parties.requester.ID, swap.TargetSectionID, models.EnrollmentTypeSwap); err != nil {
		return lookupError(err, "enrollment")
	}
	if err := tx.ReassignEnrollment(ctx, parties.target.ID, swap.RequesterSectionID, models.EnrollmentTypeSwap); err != nil {
		return lookupError(err, "enrollment")
	}
	return nil
}

// lockParties locks both students in ID order, then both enrollments. Both
// sections must still be active.
func (s *SwapService) lockParties(ctx context.Context, tx repository.Tx, swap *models.SwapRequest) (*swapParties, error) {
	ids := []string{swap.RequesterID, swap.TargetID}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := lockActiveStudent(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	requester, err := tx.LockEnrollmentBySection(ctx, swap.RequesterID, swap.RequesterSectionID)
	if err != nil {
		return nil, partyLookupError(err, "requester")
	}
	target, err := tx.LockEnrollmentBySection(ctx, swap.TargetID, swap.TargetSectionID)
	if err != nil {
		return nil, partyLookupError(err, "target")
	}
	if requester.SubjectID != target.SubjectID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "swap sections belong to different subjects")
	}
	for _, sectionID := range []string{requester.SectionID, target.SectionID} {
		section, err := tx.FindSection(ctx, sectionID)
		if err != nil {
			return nil, lookupError(err, "section")
		}
		if !section.Active {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
	}
	return &swapParties{requester: requester, target: target}, nil
}

// verifyParties locks both parties and simulates the post-swap timetable of each.
func (s *SwapService) verifyParties(ctx context.Context, tx repository.Tx, swap *models.SwapRequest) (*swapParties, error) {
	parties, err := s.lockParties(ctx, tx, swap)
	if err != nil {
		return nil, err
	}
	if err := simulateMove(ctx, tx, "requester", swap.RequesterID, swap.RequesterSectionID, swap.TargetSectionID); err != nil {
		return nil, err
	}
	if err := simulateMove(ctx, tx, "target", swap.TargetID, swap.TargetSectionID, swap.RequesterSectionID); err != nil {
		return nil, err
	}
	return parties, nil
}

// simulateMove checks whether the student could leave one section for
// another without a clash against their other commitments.
func simulateMove(ctx context.Context, tx repository.Tx, party, studentID, fromSectionID, toSectionID string) error {
	student, err := tx.FindStudent(ctx, studentID)
	if err != nil {
		return lookupError(err, party)
	}
	existing, err := commitments(ctx, tx, student)
	if err != nil {
		return err
	}
	candidate, err := tx.ListSectionSlots(ctx, toSectionID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section schedule")
	}
	if clash := FindClash(candidate, withoutSection(existing, fromSectionID)); clash != nil {
		clash.Party = party
		return clashError(clash)
	}
	return nil
}

func (s *SwapService) resolve(ctx context.Context, tx repository.Tx, swap *models.SwapRequest, status models.RequestStatus, reason *string) error {
	at := s.now()
	if err := tx.ResolveSwapRequest(ctx, swap.ID, status, reason, at); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update swap request")
	}
	swap.Status = status
	swap.ResponseReason = reason
	swap.RespondedAt = &at
	return nil
}

func partyLookupError(err error, party string) error {
	mapped := lookupError(err, "enrollment")
	if appErr, ok := mapped.(*appErrors.Error); ok && appErr.Code == appErrors.ErrNotFound.Code {
		return appErrors.Clone(appErrors.ErrNotFound, party+" does not hold the stated section")
	}
	return mapped
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
