package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

// CreateDropRequest asks to leave an enrolled section.
type CreateDropRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	EnrollmentID string `json:"enrollment_id" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
}

// DropService runs the approval workflow for leaving a section.
type DropService struct {
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

// NewDropService constructs DropService.
func NewDropService(uow repository.UnitOfWork, registration *RegistrationService, notifier Notifier, cache *CacheService, metrics *MetricsService, minReason int, validate *validator.Validate, logger *zap.Logger) *DropService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if minReason <= 0 {
		minReason = defaultMinReasonLength
	}
	return &DropService{
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

// Create files a pending drop request for an enrollment the student owns.
func (s *DropService) Create(ctx context.Context, req CreateDropRequest) (*models.DropRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop payload")
	}
	if err := checkReason(req.Reason, s.minReason); err != nil {
		return nil, err
	}

	request := &models.DropRequest{
		StudentID:    req.StudentID,
		EnrollmentID: req.EnrollmentID,
		Reason:       strings.TrimSpace(req.Reason),
		Status:       models.RequestStatusPending,
	}
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockStudent(ctx, req.StudentID); err != nil {
			return lookupError(err, "student")
		}
		enrollment, err := tx.LockEnrollment(ctx, req.EnrollmentID)
		if err != nil {
			return lookupError(err, "enrollment")
		}
		if enrollment.StudentID != req.StudentID {
			return appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to student")
		}
		pending, err := tx.ExistsPendingDrop(ctx, enrollment.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending drops")
		}
		if pending {
			return appErrors.Clone(appErrors.ErrConflict, "a pending drop request already exists for this enrollment")
		}
		request.SectionID = enrollment.SectionID
		if err := tx.CreateDropRequest(ctx, request); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create drop request")
		}
		return nil
	})
	s.metrics.RecordOperation("drop_create", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("drop requested", zap.String("request_id", request.ID), zap.String("enrollment_id", request.EnrollmentID))
	return request, nil
}

// Approve unregisters the student. A failed unregistration rejects the
// request with the failure as its note and returns the failure, matching
// the manual-join workflow.
func (s *DropService) Approve(ctx context.Context, id string, reviewer models.Reviewer, note string) (*models.DropRequest, error) {
	var (
		request *models.DropRequest
		section *models.SectionDetail
		failure error
	)
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		request, err = s.lockPending(ctx, tx, id, reviewer)
		if err != nil {
			return err
		}

		failure = tx.Nested(ctx, func(inner repository.Tx) error {
			var err error
			_, section, err = s.registration.withdraw(ctx, inner, request.StudentID, request.EnrollmentID)
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
		s.metrics.RecordOperation("drop_approve", err)
		return nil, err
	}
	s.metrics.RecordOperation("drop_approve", failure)

	s.logger.Info("drop reviewed",
		zap.String("request_id", request.ID),
		zap.String("status", string(request.Status)),
		zap.String("reviewer_id", reviewer.UserID),
	)
	if failure == nil {
		invalidateReadModels(ctx, s.cache, []string{request.StudentID}, []string{request.SectionID})
		dispatch(ctx, s.notifier, unregisteredNotification(request.StudentID, section))
	}
	dispatch(ctx, s.notifier, dropNotification(request))
	return request, failure
}

// Reject closes a pending drop request. A non-empty reason is mandatory.
func (s *DropService) Reject(ctx context.Context, id string, reviewer models.Reviewer, reason string) (*models.DropRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}

	var request *models.DropRequest
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		request, err = s.lockPending(ctx, tx, id, reviewer)
		if err != nil {
			return err
		}
		return s.review(ctx, tx, request, models.RequestStatusRejected, reviewer, &reason)
	})
	s.metrics.RecordOperation("drop_reject", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("drop rejected", zap.String("request_id", request.ID), zap.String("reviewer_id", reviewer.UserID))
	dispatch(ctx, s.notifier, dropNotification(request))
	return request, nil
}

// List returns drop requests matching the filter.
func (s *DropService) List(ctx context.Context, filter models.RequestFilter) ([]models.DropRequest, error) {
	var requests []models.DropRequest
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		requests, err = tx.ListDropRequests(ctx, filter)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list drop requests")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *DropService) lockPending(ctx context.Context, tx repository.Tx, id string, reviewer models.Reviewer) (*models.DropRequest, error) {
	request, err := tx.LockDropRequest(ctx, id)
	if err != nil {
		return nil, lookupError(err, "drop request")
	}
	if err := s.followEnrollment(ctx, tx, request); err != nil {
		return nil, err
	}
	if err := authorizeReviewer(ctx, tx, reviewer, request.SectionID); err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequestState, fmt.Sprintf("drop request is already %s", request.Status))
	}
	return request, nil
}

// followEnrollment locks the enrollment and, if a swap moved it, re-points a
// pending request at its current section. A missing enrollment is left for
// the approval to reject.
func (s *DropService) followEnrollment(ctx context.Context, tx repository.Tx, request *models.DropRequest) error {
	enrollment, err := tx.LockEnrollment(ctx, request.EnrollmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if request.Status != models.RequestStatusPending || enrollment.SectionID == request.SectionID {
		return nil
	}
	if err := tx.MoveDropRequest(ctx, request.ID, enrollment.SectionID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update drop request")
	}
	request.SectionID = enrollment.SectionID
	return nil
}

func (s *DropService) review(ctx context.Context, tx repository.Tx, request *models.DropRequest, status models.RequestStatus, reviewer models.Reviewer, note *string) error {
	review := models.Review{Status: status, ReviewedBy: reviewer.UserID, Role: reviewer.Role, Note: note, ReviewedAt: s.now()}
	if err := tx.ReviewDropRequest(ctx, request.ID, review); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update drop request")
	}
	request.Status = review.Status
	request.ReviewedBy = &review.ReviewedBy
	request.ReviewerRole = &review.Role
	request.ReviewNote = review.Note
	request.ReviewedAt = &review.ReviewedAt
	return nil
}

func dropNotification(request *models.DropRequest) models.Notification {
	message := fmt.Sprintf("Your request to drop enrollment %s was %s.", request.EnrollmentID, strings.ToLower(string(request.Status)))
	if request.ReviewNote != nil {
		message += " Note: " + *request.ReviewNote
	}
	return models.Notification{
		Kind:      models.NotificationDropResult,
		StudentID: request.StudentID,
		Subject:   "Drop " + strings.ToLower(string(request.Status)),
		Message:   message,
	}
}
