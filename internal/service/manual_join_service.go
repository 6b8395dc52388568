package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

const defaultMinReasonLength = 10

// CreateManualJoinRequest asks to join a section regardless of capacity.
type CreateManualJoinRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

// ManualJoinService runs the approval workflow for joining full sections.
type ManualJoinService struct {
	uow          repository.UnitOfWork
	registration *RegistrationService
	notifier     Notifier
	cache        *CacheService
	metrics      *MetricsService
	minReason    int
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewManualJoinService constructs ManualJoinService.
func NewManualJoinService(uow repository.UnitOfWork, registration *RegistrationService, notifier Notifier, cache *CacheService, metrics *MetricsService, minReason int, validate *validator.Validate, logger *zap.Logger) *ManualJoinService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if minReason <= 0 {
		minReason = defaultMinReasonLength
	}
	return &ManualJoinService{
		uow:          uow,
		registration: registration,
		notifier:     notifier,
		cache:        cache,
		metrics:      metrics,
		minReason:    minReason,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create files a pending manual-join request after the same eligibility checks
// as registration, minus capacity.
func (s *ManualJoinService) Create(ctx context.Context, req CreateManualJoinRequest) (*models.ManualJoinRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual join payload")
	}
	if err := checkReason(req.Reason, s.minReason); err != nil {
		return nil, err
	}

	request := &models.ManualJoinRequest{
		StudentID: req.StudentID,
		SectionID: req.SectionID,
		Reason:    strings.TrimSpace(req.Reason),
		Status:    models.RequestStatusPending,
	}
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		student, err := lockActiveStudent(ctx, tx, req.StudentID)
		if err != nil {
			return err
		}
		if _, err := checkEligibility(ctx, tx, student, req.SectionID); err != nil {
			return err
		}
		pending, err := tx.ExistsPendingManualJoin(ctx, req.StudentID, req.SectionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending manual joins")
		}
		if pending {
			return appErrors.Clone(appErrors.ErrConflict, "a pending manual join request already exists for this section")
		}
		if err := tx.CreateManualJoinRequest(ctx, request); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create manual join request")
		}
		return nil
	})
	s.metrics.RecordOperation("manual_join_create", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual join requested", zap.String("request_id", request.ID), zap.String("student_id", request.StudentID), zap.String("section_id", request.SectionID))
	return request, nil
}

// Approve registers the student past capacity. If registration fails the
// request is rejected with the failure as its note, the rejection is
// committed without any registration writes, and the failure is returned.
func (s *ManualJoinService) Approve(ctx context.Context, id string, reviewer models.Reviewer, note string) (*models.ManualJoinRequest, error) {
	var (
		request    *models.ManualJoinRequest
		enrollment *models.EnrollmentDetail
		section    *models.SectionDetail
		failure    error
	)
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		request, err = s.lockPending(ctx, tx, id, reviewer)
		if err != nil {
			return err
		}

		approver := reviewer.UserID
		failure = tx.Nested(ctx, func(inner repository.Tx) error {
			var err error
			enrollment, section, err = s.registration.admit(ctx, inner, RegisterRequest{
				StudentID:  request.StudentID,
				SectionID:  request.SectionID,
				Type:       models.EnrollmentTypeManual,
				ApprovedBy: &approver,
			})
			return err
		})
		if failure == nil {
			return s.review(ctx, tx, request, models.RequestStatusApproved, reviewer, optionalString(note))
		}
		if !appErrors.IsDomain(failure) {
			return failure
		}
		message := appErrors.FromError(failure).Message
		return s.review(ctx, tx, request, models.RequestStatusRejected, reviewer, &message)
	})
	if err != nil {
		s.metrics.RecordOperation("manual_join_approve", err)
		return nil, err
	}
	s.metrics.RecordOperation("manual_join_approve", failure)

	s.logger.Info("manual join reviewed",
		zap.String("request_id", request.ID),
		zap.String("status", string(request.Status)),
		zap.String("reviewer_id", reviewer.UserID),
		zap.String("reviewer_role", string(reviewer.Role)),
	)
	if failure == nil {
		invalidateReadModels(ctx, s.cache, []string{request.StudentID}, []string{request.SectionID})
		dispatch(ctx, s.notifier, registeredNotification(enrollment, section))
	}
	dispatch(ctx, s.notifier, manualJoinNotification(request))
	return request, failure
}

// Reject closes a pending request. A non-empty reason is mandatory.
func (s *ManualJoinService) Reject(ctx context.Context, id string, reviewer models.Reviewer, reason string) (*models.ManualJoinRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}

	var request *models.ManualJoinRequest
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		request, err = s.lockPending(ctx, tx, id, reviewer)
		if err != nil {
			return err
		}
		return s.review(ctx, tx, request, models.RequestStatusRejected, reviewer, &reason)
	})
	s.metrics.RecordOperation("manual_join_reject", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual join rejected", zap.String("request_id", request.ID), zap.String("reviewer_id", reviewer.UserID))
	dispatch(ctx, s.notifier, manualJoinNotification(request))
	return request, nil
}

// List returns manual-join requests matching the filter.
func (s *ManualJoinService) List(ctx context.Context, filter models.RequestFilter) ([]models.ManualJoinRequest, error) {
	var requests []models.ManualJoinRequest
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		requests, err = tx.ListManualJoinRequests(ctx, filter)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list manual join requests")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *ManualJoinService) lockPending(ctx context.Context, tx repository.Tx, id string, reviewer models.Reviewer) (*models.ManualJoinRequest, error) {
	request, err := tx.LockManualJoinRequest(ctx, id)
	if err != nil {
		return nil, lookupError(err, "manual join request")
	}
	if err := authorizeReviewer(ctx, tx, reviewer, request.SectionID); err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequestState, fmt.Sprintf("manual join request is already %s", request.Status))
	}
	return request, nil
}

func (s *ManualJoinService) review(ctx context.Context, tx repository.Tx, request *models.ManualJoinRequest, status models.RequestStatus, reviewer models.Reviewer, note *string) error {
	review := models.Review{Status: status, ReviewedBy: reviewer.UserID, Role: reviewer.Role, Note: note, ReviewedAt: s.now()}
	if err := tx.ReviewManualJoinRequest(ctx, request.ID, review); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update manual join request")
	}
	request.Status = review.Status
	request.ReviewedBy = &review.ReviewedBy
	request.ReviewerRole = &review.Role
	request.ReviewNote = review.Note
	request.ReviewedAt = &review.ReviewedAt
	return nil
}

func manualJoinNotification(request *models.ManualJoinRequest) models.Notification {
	message := fmt.Sprintf("Your request to join section %s was %s.", request.SectionID, strings.ToLower(string(request.Status)))
	if request.ReviewNote != nil {
		message += " Note: " + *request.ReviewNote
	}
	return models.Notification{
		Kind:      models.NotificationManualJoinResult,
		StudentID: request.StudentID,
		Subject:   "Manual join " + strings.ToLower(string(request.Status)),
		Message:   message,
	}
}

// authorizeReviewer lets global approvers review anything and lecturers only
// the sections they teach.
func authorizeReviewer(ctx context.Context, tx repository.SectionTx, reviewer models.Reviewer, sectionID string) error {
	if reviewer.UserID == "" || !reviewer.Role.IsApprover() {
		return appErrors.Clone(appErrors.ErrForbidden, "reviewer is not an approver")
	}
	if reviewer.Role.IsGlobalApprover() {
		return nil
	}
	teaches, err := tx.IsSectionInstructor(ctx, sectionID, reviewer.UserID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check section instructor")
	}
	if !teaches {
		return appErrors.Clone(appErrors.ErrForbidden, "reviewer does not teach this section")
	}
	return nil
}

func checkReason(reason string, minLength int) error {
	if utf8.RuneCountInString(strings.TrimSpace(reason)) < minLength {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("reason must be at least %d characters", minLength))
	}
	return nil
}
