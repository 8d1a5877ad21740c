package model

import (
	"time"

	"github.com/google/uuid"
)

type PostStatus string

const (
	PostStatusDraft     PostStatus = "DRAFT"
	PostStatusScheduled PostStatus = "SCHEDULED"
	PostStatusPublished PostStatus = "PUBLISHED"
	PostStatusFailed    PostStatus = "FAILED"
	PostStatusCanceled  PostStatus = "CANCELED"
)

type Audience string

const (
	AudiencePublic      Audience = "PUBLIC"
	AudienceSubscribers Audience = "SUBSCRIBERS"
)

type Channel string

const (
	ChannelTelegram Channel = "TELEGRAM"
	ChannelEmail    Channel = "EMAIL"
	ChannelInternal Channel = "INTERNAL"
)

// Post is a scheduled announcement for an event. Rows are created by the CRUD
// API or the template generator; once SCHEDULED they are mutated only by the
// dispatch engine.
type Post struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	EventID        uuid.UUID  `db:"event_id" json:"event_id"`
	Title          string     `db:"title" json:"title"`
	Body           string     `db:"body" json:"body"`
	PublishAt      time.Time  `db:"publish_at" json:"publish_at"`
	Status         PostStatus `db:"status" json:"status"`
	Audience       Audience   `db:"audience" json:"audience"`
	Channel        Channel    `db:"channel" json:"channel"`
	TargetOverride *string    `db:"target_override" json:"target_override,omitempty"`
	LinkURL        *string    `db:"link_url" json:"link_url,omitempty"`
	ExternalID     *string    `db:"external_id" json:"external_id,omitempty"`
	Error          *string    `db:"error" json:"error,omitempty"`
	Generated      bool       `db:"generated" json:"generated"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// allowedTransitions encodes the post lifecycle. PUBLISHED only re-affirms
// itself (an idempotent no-op when a published post is re-selected); FAILED and
// CANCELED can be pushed back to SCHEDULED by an operator to force a full
// re-dispatch.
var allowedTransitions = map[PostStatus][]PostStatus{
	PostStatusDraft:     {PostStatusScheduled, PostStatusCanceled},
	PostStatusScheduled: {PostStatusPublished, PostStatusFailed, PostStatusCanceled},
	PostStatusFailed:    {PostStatusScheduled, PostStatusCanceled},
	PostStatusCanceled:  {PostStatusScheduled},
	PostStatusPublished: {PostStatusPublished},
}

// CanTransition reports whether a post may move from one status to another.
func CanTransition(from, to PostStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PostFilters narrows List queries. Nil members are ignored.
type PostFilters struct {
	EventID  *uuid.UUID
	Status   *PostStatus
	Audience *Audience
	Channel  *Channel
}

// ParsePostStatus validates an incoming status string.
func ParsePostStatus(s string) (PostStatus, bool) {
	switch PostStatus(s) {
	case PostStatusDraft, PostStatusScheduled, PostStatusPublished, PostStatusFailed, PostStatusCanceled:
		return PostStatus(s), true
	}
	return "", false
}

// ParseAudience validates an incoming audience string.
func ParseAudience(s string) (Audience, bool) {
	switch Audience(s) {
	case AudiencePublic, AudienceSubscribers:
		return Audience(s), true
	}
	return "", false
}

// ParseChannel validates an incoming channel string.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelTelegram, ChannelEmail, ChannelInternal:
		return Channel(s), true
	}
	return "", false
}
