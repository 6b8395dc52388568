package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

// DropRequestRepository persists requests to leave a section.
type DropRequestRepository struct {
	q sqlx.ExtContext
}

// NewDropRequestRepository constructs the repository over a DB or transaction.
func NewDropRequestRepository(q sqlx.ExtContext) *DropRequestRepository {
	return &DropRequestRepository{q: q}
}

const dropRequestColumns = `id, student_id, enrollment_id, section_id, reason, status, reviewed_by, reviewer_role, review_note, reviewed_at, created_at`

// CreateDropRequest inserts a pending drop request.
func (r *DropRequestRepository) CreateDropRequest(ctx context.Context, req *models.DropRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	const query = `INSERT INTO drop_requests (id, student_id, enrollment_id, section_id, reason, status, created_at)
        VALUES (:id, :student_id, :enrollment_id, :section_id, :reason, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, req); err != nil {
		return fmt.Errorf("create drop request: %w", err)
	}
	return nil
}

// LockDropRequest loads a drop request holding its row lock.
func (r *DropRequestRepository) LockDropRequest(ctx context.Context, id string) (*models.DropRequest, error) {
	const query = `SELECT ` + dropRequestColumns + ` FROM drop_requests WHERE id = $1 FOR UPDATE`
	var req models.DropRequest
	if err := sqlx.GetContext(ctx, r.q, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ExistsPendingDrop reports whether the enrollment already has an open drop request.
func (r *DropRequestRepository) ExistsPendingDrop(ctx context.Context, enrollmentID string) (bool, error) {
	const query = `SELECT 1 FROM drop_requests WHERE enrollment_id = $1 AND status = 'PENDING' LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, r.q, &exists, query, enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending drop: %w", err)
	}
	return true, nil
}

// ReviewDropRequest records the reviewer's decision on a pending request.
func (r *DropRequestRepository) ReviewDropRequest(ctx context.Context, id string, review models.Review) error {
	const query = `UPDATE drop_requests
        SET status = $2, reviewed_by = $3, reviewer_role = $4, review_note = $5, reviewed_at = $6
        WHERE id = $1 AND status = 'PENDING'`
	result, err := r.q.ExecContext(ctx, query, id, review.Status, review.ReviewedBy, review.Role, review.Note, review.ReviewedAt)
	if err != nil {
		return fmt.Errorf("review drop request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check drop request rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MoveDropRequest points a pending request at the section its enrollment now
// belongs to.
func (r *DropRequestRepository) MoveDropRequest(ctx context.Context, id, sectionID string) error {
	const query = `UPDATE drop_requests SET section_id = $2 WHERE id = $1 AND status = 'PENDING'`
	result, err := r.q.ExecContext(ctx, query, id, sectionID)
	if err != nil {
		return fmt.Errorf("move drop request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check drop request rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDropRequests returns drop requests matching the filter.
func (r *DropRequestRepository) ListDropRequests(ctx context.Context, filter models.RequestFilter) ([]models.DropRequest, error) {
	query, args := buildRequestQuery(`SELECT `+dropRequestColumns+` FROM drop_requests`, requestColumns{
		student: []string{"student_id"},
		section: []string{"section_id"},
	}, filter)
	var requests []models.DropRequest
	if err := sqlx.SelectContext(ctx, r.q, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("list drop requests: %w", err)
	}
	return requests, nil
}
