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

// ManualJoinRepository persists requests to join a full section.
type ManualJoinRepository struct {
	q sqlx.ExtContext
}

// NewManualJoinRepository constructs the repository over a DB or transaction.
func NewManualJoinRepository(q sqlx.ExtContext) *ManualJoinRepository {
	return &ManualJoinRepository{q: q}
}

const manualJoinColumns = `id, student_id, section_id, reason, status, reviewed_by, reviewer_role, review_note, reviewed_at, created_at`

// CreateManualJoinRequest inserts a pending manual-join request.
func (r *ManualJoinRepository) CreateManualJoinRequest(ctx context.Context, req *models.ManualJoinRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	const query = `INSERT INTO manual_join_requests (id, student_id, section_id, reason, status, created_at)
        VALUES (:id, :student_id, :section_id, :reason, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, req); err != nil {
		return fmt.Errorf("create manual join request: %w", err)
	}
	return nil
}

// LockManualJoinRequest loads a manual-join request holding its row lock.
func (r *ManualJoinRepository) LockManualJoinRequest(ctx context.Context, id string) (*models.ManualJoinRequest, error) {
	const query = `SELECT ` + manualJoinColumns + ` FROM manual_join_requests WHERE id = $1 FOR UPDATE`
	var req models.ManualJoinRequest
	if err := sqlx.GetContext(ctx, r.q, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ExistsPendingManualJoin reports whether the student already asked to join the section.
func (r *ManualJoinRepository) ExistsPendingManualJoin(ctx context.Context, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM manual_join_requests WHERE student_id = $1 AND section_id = $2 AND status = 'PENDING' LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, r.q, &exists, query, studentID, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending manual join: %w", err)
	}
	return true, nil
}

// ReviewManualJoinRequest records the reviewer's decision on a pending request.
func (r *ManualJoinRepository) ReviewManualJoinRequest(ctx context.Context, id string, review models.Review) error {
	const query = `UPDATE manual_join_requests
        SET status = $2, reviewed_by = $3, reviewer_role = $4, review_note = $5, reviewed_at = $6
        WHERE id = $1 AND status = 'PENDING'`
	result, err := r.q.ExecContext(ctx, query, id, review.Status, review.ReviewedBy, review.Role, review.Note, review.ReviewedAt)
	if err != nil {
		return fmt.Errorf("review manual join request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check manual join rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListManualJoinRequests returns manual-join requests matching the filter.
func (r *ManualJoinRepository) ListManualJoinRequests(ctx context.Context, filter models.RequestFilter) ([]models.ManualJoinRequest, error) {
	query, args := buildRequestQuery(`SELECT `+manualJoinColumns+` FROM manual_join_requests`, requestColumns{
		student: []string{"student_id"},
		section: []string{"section_id"},
	}, filter)
	var requests []models.ManualJoinRequest
	if err := sqlx.SelectContext(ctx, r.q, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("list manual join requests: %w", err)
	}
	return requests, nil
}
