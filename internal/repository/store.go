package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
)

// StudentTx reads and locks students inside a unit of work.
type StudentTx interface {
	FindStudent(ctx context.Context, id string) (*models.Student, error)
	LockStudent(ctx context.Context, id string) (*models.Student, error)
}

// SectionTx reads sections and owns the enrolled_count column.
type SectionTx interface {
	FindSection(ctx context.Context, id string) (*models.SectionDetail, error)
	ListSectionSlots(ctx context.Context, sectionID string) ([]models.ScheduleSlot, error)
	IsCrossListed(ctx context.Context, subjectID, programme string) (bool, error)
	IsSectionInstructor(ctx context.Context, sectionID, userID string) (bool, error)
	IncrementEnrolled(ctx context.Context, sectionID string, allowOverCapacity bool) (bool, error)
	DecrementEnrolled(ctx context.Context, sectionID string) (bool, error)
}

// EnrollmentTx manages enrollment rows and the schedules derived from them.
type EnrollmentTx interface {
	LockEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	LockEnrollmentBySection(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error)
	FindEnrollmentBySubject(ctx context.Context, studentID, subjectID string) (*models.EnrollmentDetail, error)
	ListStudentEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListStudentSchedule(ctx context.Context, studentID string) ([]models.ScheduleSlot, error)
	ListTeachingSchedule(ctx context.Context, userID string) ([]models.ScheduleSlot, error)
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	DeleteEnrollment(ctx context.Context, id string) error
	ReassignEnrollment(ctx context.Context, id, sectionID string, enrollmentType models.EnrollmentType) error
}

// SwapRequestTx persists swap requests.
type SwapRequestTx interface {
	CreateSwapRequest(ctx context.Context, req *models.SwapRequest) error
	LockSwapRequest(ctx context.Context, id string) (*models.SwapRequest, error)
	ExistsPendingSwapBetween(ctx context.Context, studentA, studentB string) (bool, error)
	ResolveSwapRequest(ctx context.Context, id string, status models.RequestStatus, reason *string, at time.Time) error
	ListSwapRequests(ctx context.Context, filter models.RequestFilter) ([]models.SwapRequest, error)
}

// ManualJoinTx persists manual-join requests.
type ManualJoinTx interface {
	CreateManualJoinRequest(ctx context.Context, req *models.ManualJoinRequest) error
	LockManualJoinRequest(ctx context.Context, id string) (*models.ManualJoinRequest, error)
	ExistsPendingManualJoin(ctx context.Context, studentID, sectionID string) (bool, error)
	ReviewManualJoinRequest(ctx context.Context, id string, review models.Review) error
	ListManualJoinRequests(ctx context.Context, filter models.RequestFilter) ([]models.ManualJoinRequest, error)
}

// DropRequestTx persists drop requests.
type DropRequestTx interface {
	CreateDropRequest(ctx context.Context, req *models.DropRequest) error
	LockDropRequest(ctx context.Context, id string) (*models.DropRequest, error)
	ExistsPendingDrop(ctx context.Context, enrollmentID string) (bool, error)
	ReviewDropRequest(ctx context.Context, id string, review models.Review) error
	MoveDropRequest(ctx context.Context, id, sectionID string) error
	ListDropRequests(ctx context.Context, filter models.RequestFilter) ([]models.DropRequest, error)
}

// Tx is the ledger as seen from inside one atomic unit of work. Nested runs fn
// in a savepoint: if fn fails its writes are undone while the enclosing unit
// stays usable.
type Tx interface {
	StudentTx
	SectionTx
	EnrollmentTx
	SwapRequestTx
	ManualJoinTx
	DropRequestTx
	Nested(ctx context.Context, fn func(tx Tx) error) error
}

// UnitOfWork runs fn atomically: every read and write made through tx
// commits together or not at all.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is the PostgreSQL-backed UnitOfWork.
type Store struct {
	db         *sqlx.DB
	maxRetries int
	logger     *zap.Logger
	onRetry    func(code string)
}

// StoreOption configures Store.
type StoreOption func(*Store)

// WithMaxRetries sets how many times a unit is re-run after a serialization failure or deadlock.
func WithMaxRetries(n int) StoreOption {
	return func(s *Store) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryObserver registers a callback invoked before each retry.
func WithRetryObserver(fn func(code string)) StoreOption {
	return func(s *Store) {
		s.onRetry = fn
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore constructs the PostgreSQL store.
func NewStore(db *sqlx.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, maxRetries: 3, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithinTx implements UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.runOnce(ctx, fn)
		code, retryable := retryableCode(err)
		if !retryable || attempt >= s.maxRetries {
			return err
		}
		if s.onRetry != nil {
			s.onRetry(code)
		}
		s.logger.Warn("retrying unit of work", zap.String("sqlstate", code), zap.Int("attempt", attempt+1))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
	}
}

func (s *Store) runOnce(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(newPgTx(sqlTx)); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// retryableCode reports serialization failures and deadlocks.
func retryableCode(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return string(pqErr.Code), true
	}
	return string(pqErr.Code), false
}

type pgTx struct {
	*StudentRepository
	*SectionRepository
	*EnrollmentRepository
	*SwapRequestRepository
	*ManualJoinRepository
	*DropRequestRepository

	tx    *sqlx.Tx
	depth int
}

func newPgTx(tx *sqlx.Tx) *pgTx {
	return &pgTx{
		StudentRepository:     NewStudentRepository(tx),
		SectionRepository:     NewSectionRepository(tx),
		EnrollmentRepository:  NewEnrollmentRepository(tx),
		SwapRequestRepository: NewSwapRequestRepository(tx),
		ManualJoinRepository:  NewManualJoinRepository(tx),
		DropRequestRepository: NewDropRequestRepository(tx),
		tx:                    tx,
	}
}

// Nested implements Tx using SAVEPOINT.
func (t *pgTx) Nested(ctx context.Context, fn func(tx Tx) error) error {
	t.depth++
	name := fmt.Sprintf("sp_%d", t.depth)
	defer func() { t.depth-- }()

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	if err := fn(t); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %v (after %w)", rbErr, err)
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
