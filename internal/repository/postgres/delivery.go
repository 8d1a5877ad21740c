package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sportadm/events-api/internal/model"
	"github.com/sportadm/events-api/internal/repository"
)

type deliveryRepository struct {
	BaseRepository
}

func NewDeliveryRepository(base BaseRepository) repository.DeliveryRepository {
	return &deliveryRepository{base}
}

// UpsertAttemptTx records one delivery attempt idempotently: re-recording the
// same (post_id, target, attempt_no) overwrites status/error instead of
// violating the unique constraint or duplicating the row.
func (r *deliveryRepository) UpsertAttemptTx(ctx context.Context, tx *sqlx.Tx, postID uuid.UUID, target string, attemptNo int, status model.DeliveryStatus, errText *string) error {
	query := `
		INSERT INTO post_deliveries (id, post_id, target, attempt_no, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (post_id, target, attempt_no)
		DO UPDATE SET status = EXCLUDED.status,
		              error  = EXCLUDED.error
	`
	if _, err := tx.ExecContext(ctx, query, uuid.New(), postID, target, attemptNo, status, errText); err != nil {
		return fmt.Errorf("failed to upsert delivery attempt: %w", err)
	}
	return nil
}

// ClaimDueRetriesTx locks FAILED attempts whose exponential backoff window has
// elapsed: now >= created_at + 2^max(attempt_no-1,0) minutes. Attempts at or
// beyond maxAttempts stay in the ledger for audit but are never selected
// again, and an attempt superseded by a later-numbered row for the same
// (post, target) is excluded so a stale row cannot re-send over its successor.
// Same SKIP LOCKED discipline as the post claim; requires a transaction.
func (r *deliveryRepository) ClaimDueRetriesTx(ctx context.Context, tx *sqlx.Tx, now time.Time, limit, maxAttempts int) ([]*model.DeliveryAttempt, error) {
	if tx == nil {
		return nil, fmt.Errorf("retry claim requires a transaction")
	}

	query := `
		SELECT d.id, d.post_id, d.target, d.attempt_no, d.status, d.error, d.created_at
		FROM post_deliveries d
		WHERE d.status = $1
		  AND d.attempt_no < $2
		  AND (d.created_at + (interval '1 minute' * (1 << GREATEST(d.attempt_no - 1, 0)))) <= $3
		  AND NOT EXISTS (
		      SELECT 1
		      FROM post_deliveries later
		      WHERE later.post_id = d.post_id
		        AND later.target = d.target
		        AND later.attempt_no > d.attempt_no
		  )
		ORDER BY d.created_at ASC, d.id ASC
		LIMIT $4
		FOR UPDATE OF d SKIP LOCKED
	`
	var attempts []*model.DeliveryAttempt
	if err := tx.SelectContext(ctx, &attempts, query, model.DeliveryStatusFailed, maxAttempts, now, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due retries: %w", err)
	}
	return attempts, nil
}

func (r *deliveryRepository) ListByPost(ctx context.Context, postID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	query := `
		SELECT id, post_id, target, attempt_no, status, error, created_at
		FROM post_deliveries
		WHERE post_id = $1
		ORDER BY target ASC, attempt_no ASC
	`
	var attempts []*model.DeliveryAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, postID); err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	return attempts, nil
}
