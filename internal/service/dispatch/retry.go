package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sportadm/events-api/internal/model"
)

// RunRetryBatch claims one batch of retry-eligible FAILED delivery attempts
// and re-invokes the single-target send path for each, recording the outcome
// as attempt_no+1. The parent post's status is never touched here: the ledger
// is a finer-grained concern than the post's aggregate state. Returns the
// number of attempts claimed so the caller can drain.
func (s *Service) RunRetryBatch(ctx context.Context, now time.Time, limit int) (int, error) {
	var claimed int

	err := s.posts.WithTx(ctx, func(tx *sqlx.Tx) error {
		attempts, err := s.deliveries.ClaimDueRetriesTx(ctx, tx, now, limit, s.config.MaxAttempts)
		if err != nil {
			return fmt.Errorf("failed to claim due retries: %w", err)
		}
		claimed = len(attempts)

		for _, attempt := range attempts {
			if !s.retryEligible(attempt, now, attempts) {
				continue
			}
			s.retryOne(ctx, tx, attempt)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return claimed, nil
}

// retryEligible re-checks the selection invariants on the claimed row: never
// re-send at or beyond the attempt cap, never before the backoff window for
// attempt_no has elapsed, and never when the batch carries a later-numbered
// attempt for the same (post, target). The claim query enforces all three;
// this guard keeps a mis-wired repository from turning into duplicate sends.
func (s *Service) retryEligible(attempt *model.DeliveryAttempt, now time.Time, batch []*model.DeliveryAttempt) bool {
	if attempt.AttemptNo >= s.config.MaxAttempts {
		return false
	}
	if attempt.CreatedAt.Add(Backoff(attempt.AttemptNo)).After(now) {
		return false
	}
	for _, other := range batch {
		if other.PostID == attempt.PostID && other.Target == attempt.Target && other.AttemptNo > attempt.AttemptNo {
			return false
		}
	}
	return true
}

// retryOne re-sends a single failed delivery. Failures are swallowed into the
// ledger; one broken target must not abort the rest of the retry batch.
func (s *Service) retryOne(ctx context.Context, tx *sqlx.Tx, attempt *model.DeliveryAttempt) {
	post, err := s.posts.GetTx(ctx, tx, attempt.PostID)
	if err != nil {
		s.logger.Error(err, "failed to load post for retry",
			"post_id", attempt.PostID.String(), "target", attempt.Target)
		return
	}

	sender, supported := s.senders[post.Channel]
	if !supported {
		// Channel support was removed after the attempt was recorded; leave
		// the row for audit, it will age out of selection at max attempts.
		s.logger.Warn("no sender for retry channel",
			"post_id", post.ID.String(), "channel", string(post.Channel))
		return
	}

	// Retries deliver the bare message without announcement controls; the
	// original send already carried them.
	s.sendOne(ctx, sender, post, attempt.Target, renderText(post), nil, attempt.AttemptNo+1, tx)
}
