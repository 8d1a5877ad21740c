package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/sportadm/events-api/internal/repository"
)

type lockRepository struct {
	BaseRepository
}

func NewLockRepository(base BaseRepository) repository.LockRepository {
	return &lockRepository{base}
}

// LockKey derives a stable advisory-lock key from a name.
func LockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// Acquire takes a session-level advisory lock. Advisory locks are bound to the
// connection that took them, so the connection is pinned out of the pool until
// release is called.
func (r *lockRepository) Acquire(ctx context.Context, key int64) (func() error, bool, error) {
	conn, err := r.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var locked bool
	if err := conn.GetContext(ctx, &locked, `SELECT pg_try_advisory_lock($1)`, key); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !locked {
		conn.Close()
		return nil, false, nil
	}

	release := func() error {
		defer conn.Close()
		var unlocked bool
		if err := conn.GetContext(context.Background(), &unlocked, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			return fmt.Errorf("failed to release advisory lock: %w", err)
		}
		return nil
	}
	return release, true, nil
}
