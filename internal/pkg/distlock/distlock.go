// Package distlock provides short-lived mutual exclusion across service
// replicas. The scheduler uses it so that one replica at a time sweeps due
// campaigns.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release and Extend when the lock is not owned by
// the caller, typically because the TTL ran out.
var ErrNotHeld = errors.New("distlock: lock not held")

// Locker is a single named lock. A Locker is owned by one goroutine; use a
// separate instance per concurrent holder.
type Locker interface {
	// Acquire tries once and reports whether the lock was taken.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up.
	Release(ctx context.Context) error
}

// New picks a backend: Redis when client is set, else a Postgres advisory
// lock when db is set, else a process-local lock.
func New(client redis.UniversalClient, db *sql.DB, key string, ttl time.Duration) Locker {
	switch {
	case client != nil:
		return NewRedisLock(client, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return NewLocalLock(key)
	}
}

// WithLock runs fn while holding l. ran is false when the lock was busy.
func WithLock(ctx context.Context, l Locker, fn func(ctx context.Context) error) (ran bool, err error) {
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil && err == nil && !errors.Is(rerr, ErrNotHeld) {
			err = rerr
		}
	}()
	return true, fn(ctx)
}
