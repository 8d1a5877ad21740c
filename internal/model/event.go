package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is the read-only projection of an event consumed by the dispatch
// engine. LinkURL is resolved once at the data-access boundary (event url
// falling back to cover url); callers never probe the schema themselves.
type Event struct {
	ID       uuid.UUID  `db:"id" json:"id"`
	Name     string     `db:"name" json:"name"`
	StartAt  *time.Time `db:"start_at" json:"start_at,omitempty"`
	Location *string    `db:"location" json:"location,omitempty"`
	LinkURL  *string    `db:"link_url" json:"link_url,omitempty"`
}
