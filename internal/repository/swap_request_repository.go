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

// SwapRequestRepository persists section swap proposals.
type SwapRequestRepository struct {
	q sqlx.ExtContext
}

// NewSwapRequestRepository constructs the repository over a DB or transaction.
func NewSwapRequestRepository(q sqlx.ExtContext) *SwapRequestRepository {
	return &SwapRequestRepository{q: q}
}

const swapRequestColumns = `id, requester_id, requester_section_id, target_id, target_section_id, status, response_reason, responded_at, created_at`

// CreateSwapRequest inserts a pending swap request.
func (r *SwapRequestRepository) CreateSwapRequest(ctx context.Context, req *models.SwapRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	const query = `INSERT INTO swap_requests (id, requester_id, requester_section_id, target_id, target_section_id, status, created_at)
        VALUES (:id, :requester_id, :requester_section_id, :target_id, :target_section_id, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, req); err != nil {
		return fmt.Errorf("create swap request: %w", err)
	}
	return nil
}

// LockSwapRequest loads a swap request holding its row lock.
func (r *SwapRequestRepository) LockSwapRequest(ctx context.Context, id string) (*models.SwapRequest, error) {
	const query = `SELECT ` + swapRequestColumns + ` FROM swap_requests WHERE id = $1 FOR UPDATE`
	var req models.SwapRequest
	if err := sqlx.GetContext(ctx, r.q, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ExistsPendingSwapBetween reports an open swap between two students in either direction.
func (r *SwapRequestRepository) ExistsPendingSwapBetween(ctx context.Context, studentA, studentB string) (bool, error) {
	const query = `SELECT 1 FROM swap_requests
        WHERE status = 'PENDING' AND ((requester_id = $1 AND target_id = $2) OR (requester_id = $2 AND target_id = $1))
        LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, r.q, &exists, query, studentA, studentB); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending swap: %w", err)
	}
	return true, nil
}

// ResolveSwapRequest moves a pending swap to a terminal status.
func (r *SwapRequestRepository) ResolveSwapRequest(ctx context.Context, id string, status models.RequestStatus, reason *string, at time.Time) error {
	const query = `UPDATE swap_requests SET status = $2, response_reason = $3, responded_at = $4
        WHERE id = $1 AND status = 'PENDING'`
	result, err := r.q.ExecContext(ctx, query, id, status, reason, at)
	if err != nil {
		return fmt.Errorf("resolve swap request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check swap request rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListSwapRequests returns swap requests matching the filter, newest first.
func (r *SwapRequestRepository) ListSwapRequests(ctx context.Context, filter models.RequestFilter) ([]models.SwapRequest, error) {
	query, args := buildRequestQuery(`SELECT `+swapRequestColumns+` FROM swap_requests`, requestColumns{
		student: []string{"requester_id", "target_id"},
		section: []string{"requester_section_id", "target_section_id"},
	}, filter)
	var requests []models.SwapRequest
	if err := sqlx.SelectContext(ctx, r.q, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("list swap requests: %w", err)
	}
	return requests, nil
}
