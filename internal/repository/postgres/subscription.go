package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sportadm/events-api/internal/model"
	"github.com/sportadm/events-api/internal/repository"
)

type subscriptionRepository struct {
	BaseRepository
}

func NewSubscriptionRepository(base BaseRepository) repository.SubscriptionRepository {
	return &subscriptionRepository{base}
}

// ActiveTargets returns the deduplicated, ordered recipient targets of the
// event's active subscriptions on one channel. Targets are chat ids for
// Telegram and addresses for email; the dispatcher treats them as opaque.
func (r *subscriptionRepository) ActiveTargets(ctx context.Context, eventID uuid.UUID, channel model.Channel) ([]string, error) {
	query := `
		SELECT DISTINCT target
		FROM event_subscriptions
		WHERE event_id = $1 AND channel = $2 AND active = TRUE
		ORDER BY target ASC
	`
	var targets []string
	if err := r.db.SelectContext(ctx, &targets, query, eventID, channel); err != nil {
		return nil, fmt.Errorf("failed to resolve subscriber targets: %w", err)
	}
	return targets, nil
}
