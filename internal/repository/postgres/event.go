package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sportadm/events-api/internal/model"
	"github.com/sportadm/events-api/internal/repository"
)

type eventRepository struct {
	BaseRepository
}

func NewEventRepository(base BaseRepository) repository.EventRepository {
	return &eventRepository{base}
}

// Get returns the dispatch projection of an event. The outbound link is
// resolved here, once: the explicit url wins, the cover image url is the
// fallback, blank means none.
func (r *eventRepository) Get(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	query := `
		SELECT id, name, start_at, location,
		       NULLIF(TRIM(COALESCE(url, cover_url, '')), '') AS link_url
		FROM events
		WHERE id = $1
	`
	var event model.Event
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}
