package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

// RegisterRequest describes a registration into one section.
type RegisterRequest struct {
	StudentID  string                `json:"student_id" validate:"required"`
	SectionID  string                `json:"section_id" validate:"required"`
	Type       models.EnrollmentType `json:"type" validate:"omitempty,oneof=NORMAL MANUAL SWAP"`
	ApprovedBy *string               `json:"approved_by,omitempty"`
}

// RegistrationService owns the enrollment ledger: it admits students into
// sections and removes them, keeping capacity and timetables consistent.
type RegistrationService struct {
	uow       repository.UnitOfWork
	ledger    CapacityLedger
	notifier  Notifier
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(uow repository.UnitOfWork, notifier Notifier, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{uow: uow, notifier: notifier, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Register admits a student into a section.
func (s *RegistrationService) Register(ctx context.Context, req RegisterRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if req.Type == "" {
		req.Type = models.EnrollmentTypeNormal
	}

	var (
		enrollment *models.EnrollmentDetail
		section    *models.SectionDetail
	)
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		enrollment, section, err = s.admit(ctx, tx, req)
		return err
	})
	s.metrics.RecordOperation("register", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("student registered",
		zap.String("student_id", req.StudentID),
		zap.String("section_id", req.SectionID),
		zap.String("type", string(req.Type)),
	)
	s.afterCommit(ctx, []string{req.StudentID}, []string{req.SectionID}, registeredNotification(enrollment, section))
	return enrollment, nil
}

// Unregister removes one of the student's enrollments and frees its seat.
func (s *RegistrationService) Unregister(ctx context.Context, studentID, enrollmentID string) error {
	if studentID == "" || enrollmentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student and enrollment are required")
	}

	var (
		removed *models.Enrollment
		section *models.SectionDetail
	)
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		removed, section, err = s.withdraw(ctx, tx, studentID, enrollmentID)
		return err
	})
	s.metrics.RecordOperation("unregister", err)
	if err != nil {
		return err
	}

	s.logger.Info("student unregistered",
		zap.String("student_id", studentID),
		zap.String("enrollment_id", enrollmentID),
		zap.String("section_id", removed.SectionID),
	)
	s.afterCommit(ctx, []string{studentID}, []string{removed.SectionID}, unregisteredNotification(studentID, section))
	return nil
}

// ListEnrollments returns every enrollment a student currently holds.
func (s *RegistrationService) ListEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	var enrollments []models.EnrollmentDetail
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.FindStudent(ctx, studentID); err != nil {
			return lookupError(err, "student")
		}
		var err error
		enrollments, err = tx.ListStudentEnrollments(ctx, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

// StudentTimetable returns the student's weekly schedule, served from cache when possible.
func (s *RegistrationService) StudentTimetable(ctx context.Context, studentID string) (*models.Timetable, error) {
	return readThrough(ctx, s.cache, StudentScheduleKey(studentID), func() (*models.Timetable, error) {
		return s.loadTimetable(ctx, studentID)
	})
}

func (s *RegistrationService) loadTimetable(ctx context.Context, studentID string) (*models.Timetable, error) {
	timetable := &models.Timetable{StudentID: studentID}
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		student, err := tx.FindStudent(ctx, studentID)
		if err != nil {
			return lookupError(err, "student")
		}
		if timetable.Enrollments, err = tx.ListStudentEnrollments(ctx, studentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
		}
		if timetable.Slots, err = commitments(ctx, tx, student); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return timetable, nil
}

// SectionAvailability returns seat counts and meetings of a section.
func (s *RegistrationService) SectionAvailability(ctx context.Context, sectionID string) (*models.SectionAvailability, error) {
	return readThrough(ctx, s.cache, SectionAvailabilityKey(sectionID), func() (*models.SectionAvailability, error) {
		return s.loadAvailability(ctx, sectionID)
	})
}

func (s *RegistrationService) loadAvailability(ctx context.Context, sectionID string) (*models.SectionAvailability, error) {
	var availability *models.SectionAvailability
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		section, err := tx.FindSection(ctx, sectionID)
		if err != nil {
			return lookupError(err, "section")
		}
		slots, err := tx.ListSectionSlots(ctx, sectionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section schedule")
		}
		entries := make([]models.ScheduleEntry, 0, len(slots))
		for _, slot := range slots {
			entries = append(entries, slot.ScheduleEntry)
		}
		availability = &models.SectionAvailability{
			SectionID:     section.ID,
			SubjectCode:   section.SubjectCode,
			SectionNumber: section.Number,
			Capacity:      section.Capacity,
			EnrolledCount: section.EnrolledCount,
			SeatsLeft:     section.SeatsLeft(),
			Schedule:      entries,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return availability, nil
}

// admit runs every registration check and write inside the caller's unit of work.
func (s *RegistrationService) admit(ctx context.Context, tx repository.Tx, req RegisterRequest) (*models.EnrollmentDetail, *models.SectionDetail, error) {
	student, err := lockActiveStudent(ctx, tx, req.StudentID)
	if err != nil {
		return nil, nil, err
	}
	section, err := checkEligibility(ctx, tx, student, req.SectionID)
	if err != nil {
		return nil, nil, err
	}

	bypass := req.Type == models.EnrollmentTypeManual
	if !bypass && section.EnrolledCount >= section.Capacity {
		return nil, nil, appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf("%s section %d is full", section.SubjectCode, section.Number))
	}

	candidate, err := tx.ListSectionSlots(ctx, section.ID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section schedule")
	}
	existing, err := commitments(ctx, tx, student)
	if err != nil {
		return nil, nil, err
	}
	if clash := FindClash(candidate, existing); clash != nil {
		return nil, nil, clashError(clash)
	}

	if err := s.ledger.Reserve(ctx, tx, section, bypass); err != nil {
		return nil, nil, err
	}
	enrollment := &models.Enrollment{
		StudentID:  student.ID,
		SectionID:  section.ID,
		SubjectID:  section.SubjectID,
		Type:       req.Type,
		ApprovedBy: req.ApprovedBy,
	}
	if err := tx.CreateEnrollment(ctx, enrollment); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	detail := &models.EnrollmentDetail{Enrollment: *enrollment, SubjectCode: section.SubjectCode, SectionNumber: section.Number}
	return detail, section, nil
}

// withdraw deletes an owned enrollment and releases its seat inside the caller's unit of work.
func (s *RegistrationService) withdraw(ctx context.Context, tx repository.Tx, studentID, enrollmentID string) (*models.Enrollment, *models.SectionDetail, error) {
	if _, err := tx.LockStudent(ctx, studentID); err != nil {
		return nil, nil, lookupError(err, "student")
	}
	enrollment, err := tx.LockEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, nil, lookupError(err, "enrollment")
	}
	if enrollment.StudentID != studentID {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to student")
	}
	section, err := tx.FindSection(ctx, enrollment.SectionID)
	if err != nil {
		return nil, nil, lookupError(err, "section")
	}
	if err := tx.DeleteEnrollment(ctx, enrollment.ID); err != nil {
		return nil, nil, lookupError(err, "enrollment")
	}
	if err := s.ledger.Release(ctx, tx, enrollment.SectionID); err != nil {
		return nil, nil, err
	}
	return enrollment, section, nil
}

// commitments returns the student's enrolled meetings plus any teaching duty
// held by the student's user account.
func commitments(ctx context.Context, tx repository.EnrollmentTx, student *models.Student) ([]models.ScheduleSlot, error) {
	slots, err := tx.ListStudentSchedule(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student schedule")
	}
	if account := student.AccountID(); account != "" {
		teaching, err := tx.ListTeachingSchedule(ctx, account)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching schedule")
		}
		slots = append(slots, teaching...)
	}
	return slots, nil
}

// afterCommit invalidates read models and dispatches notifications. Nothing
// here can change the outcome of the committed operation.
func (s *RegistrationService) afterCommit(ctx context.Context, studentIDs, sectionIDs []string, notifications ...models.Notification) {
	invalidateReadModels(ctx, s.cache, studentIDs, sectionIDs)
	dispatch(ctx, s.notifier, notifications...)
}

func invalidateReadModels(ctx context.Context, cache *CacheService, studentIDs, sectionIDs []string) {
	keys := make([]string, 0, len(studentIDs)+len(sectionIDs))
	for _, id := range studentIDs {
		keys = append(keys, StudentScheduleKey(id))
	}
	for _, id := range sectionIDs {
		keys = append(keys, SectionAvailabilityKey(id))
	}
	_ = cache.Invalidate(ctx, keys...)
}

func dispatch(ctx context.Context, notifier Notifier, notifications ...models.Notification) {
	if notifier == nil {
		return
	}
	for _, n := range notifications {
		notifier.Notify(ctx, n)
	}
}

func registeredNotification(enrollment *models.EnrollmentDetail, section *models.SectionDetail) models.Notification {
	return models.Notification{
		Kind:      models.NotificationRegistered,
		StudentID: enrollment.StudentID,
		Subject:   "Registration confirmed",
		Message:   fmt.Sprintf("You are enrolled in %s %s section %d.", section.SubjectCode, section.SubjectName, section.Number),
	}
}

func unregisteredNotification(studentID string, section *models.SectionDetail) models.Notification {
	return models.Notification{
		Kind:      models.NotificationUnregistered,
		StudentID: studentID,
		Subject:   "Enrollment removed",
		Message:   fmt.Sprintf("You are no longer enrolled in %s section %d.", section.SubjectCode, section.Number),
	}
}

// lockActiveStudent loads and locks a student who may register.
func lockActiveStudent(ctx context.Context, tx repository.StudentTx, studentID string) (*models.Student, error) {
	student, err := tx.LockStudent(ctx, studentID)
	if err != nil {
		return nil, lookupError(err, "student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return student, nil
}

// checkEligibility covers section state, semester, programme and the
// one-section-per-subject rule.
func checkEligibility(ctx context.Context, tx repository.Tx, student *models.Student, sectionID string) (*models.SectionDetail, error) {
	section, err := tx.FindSection(ctx, sectionID)
	if err != nil {
		return nil, lookupError(err, "section")
	}
	if !section.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
	}
	if section.SubjectSemester > student.Semester {
		return nil, appErrors.Clone(appErrors.ErrIneligible, fmt.Sprintf("%s is offered in semester %d; student is in semester %d", section.SubjectCode, section.SubjectSemester, student.Semester))
	}
	if section.SubjectProgramme != student.Programme {
		shared, err := tx.IsCrossListed(ctx, section.SubjectID, student.Programme)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check programme")
		}
		if !shared {
			return nil, appErrors.Clone(appErrors.ErrIneligible, fmt.Sprintf("%s is not offered to programme %s", section.SubjectCode, student.Programme))
		}
	}
	held, err := tx.FindEnrollmentBySubject(ctx, student.ID, section.SubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if held != nil {
		return nil, appErrors.WithDetails(appErrors.ErrDuplicateEnrollment,
			fmt.Sprintf("already enrolled in %s section %d", held.SubjectCode, held.SectionNumber), held, nil)
	}
	return section, nil
}

func clashError(clash *models.ScheduleClash) error {
	return appErrors.WithDetails(appErrors.ErrScheduleClash, clash.Error(), clash, nil)
}

// lookupError maps a missing row to NotFound and anything else to an internal error.
func lookupError(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, entity+" not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+entity)
}
