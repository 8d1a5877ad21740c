package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sportadm/events-api/internal/model"
)

// All repository interfaces in one file
type (
	// PostRepository owns the posts table. ClaimDueTx and the *Tx writers run
	// against the caller's transaction so claimed rows stay locked until the
	// dispatch pass commits.
	PostRepository interface {
		Create(ctx context.Context, post *model.Post) error
		Get(ctx context.Context, id uuid.UUID) (*model.Post, error)
		Update(ctx context.Context, post *model.Post) error
		List(ctx context.Context, filters *model.PostFilters) ([]*model.Post, error)
		ClaimDueTx(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]*model.Post, error)
		UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status model.PostStatus, errText *string) error
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.PostStatus, errText *string) error
		CountPublishedByEventTx(ctx context.Context, tx *sqlx.Tx, eventID uuid.UUID) (int64, error)
		GetTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Post, error)
		WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
	}

	// DeliveryRepository is the per-recipient attempt ledger.
	DeliveryRepository interface {
		UpsertAttemptTx(ctx context.Context, tx *sqlx.Tx, postID uuid.UUID, target string, attemptNo int, status model.DeliveryStatus, errText *string) error
		ClaimDueRetriesTx(ctx context.Context, tx *sqlx.Tx, now time.Time, limit, maxAttempts int) ([]*model.DeliveryAttempt, error)
		ListByPost(ctx context.Context, postID uuid.UUID) ([]*model.DeliveryAttempt, error)
	}

	// EventRepository is the read-only projection of events the dispatcher
	// needs for rendering and link resolution.
	EventRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Event, error)
	}

	// SubscriptionRepository resolves active subscriber targets for an event
	// on a given channel (chat ids for Telegram, addresses for email).
	SubscriptionRepository interface {
		ActiveTargets(ctx context.Context, eventID uuid.UUID, channel model.Channel) ([]string, error)
	}

	// LockRepository exposes session-scoped advisory locks used to keep
	// redundant scheduler instances from polling the same backlog. Acquire
	// pins a connection for the lifetime of the lock; callers must invoke the
	// returned release function when acquired is true.
	LockRepository interface {
		Acquire(ctx context.Context, key int64) (release func() error, acquired bool, err error)
	}
)
