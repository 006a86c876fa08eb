// Package lock serializes settlement calculation attempts with an exclusive,
// timed lock per game.
//
// The lock lives in the calculation_locks table rather than process memory,
// so mutual exclusion holds across independent server instances. A TTL bounds
// the blast radius of a crashed holder: an expired lock is reclaimable by the
// next acquire, and a background sweep clears leftovers.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chiptally/settle-engine/internal/metrics"
)

// DefaultTTL is how long a lock lives without being released. Long enough
// for calculation under load, short enough to self-heal from a crashed
// holder. Overridable via LOCK_TTL.
const DefaultTTL = 5 * time.Minute

// DefaultSweepInterval is how often the cleanup sweep runs.
const DefaultSweepInterval = time.Minute

// LockStore is the slice of the store the coordinator needs.
type LockStore interface {
	AcquireLock(ctx context.Context, gameID, holderToken string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, gameID, holderToken string) error
	DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// Coordinator acquires and releases per-game calculation locks.
type Coordinator struct {
	store LockStore
	ttl   time.Duration
	now   func() time.Time // injected for tests
}

// NewCoordinator creates a coordinator with the given TTL.
func NewCoordinator(store LockStore, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{store: store, ttl: ttl, now: time.Now}
}

// TTL returns the configured lock lifetime.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// Acquire attempts to claim the calculation lock for a game. On success it
// returns the holder token the caller must present to Release. A false
// result means a live lock is held by another attempt.
func (c *Coordinator) Acquire(ctx context.Context, gameID string) (token string, acquired bool, err error) {
	token = uuid.New().String()
	acquired, err = c.store.AcquireLock(ctx, gameID, token, c.now().UTC(), c.ttl)
	if err != nil || !acquired {
		return "", acquired, err
	}
	return token, true, nil
}

// Release frees the lock if token still owns it. A holder whose lock
// expired and was reclaimed by someone else releases nothing.
func (c *Coordinator) Release(ctx context.Context, gameID, token string) error {
	return c.store.ReleaseLock(ctx, gameID, token)
}

// CleanupExpired removes all expired lock rows. Safe to run concurrently
// with acquire/release: it only touches rows that are already logically dead.
func (c *Coordinator) CleanupExpired(ctx context.Context) (int64, error) {
	return c.store.DeleteExpiredLocks(ctx, c.now().UTC())
}

// RunSweeper periodically reclaims expired locks until ctx is cancelled.
// Run in a goroutine from main.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := c.CleanupExpired(ctx)
			if err != nil {
				slog.Error("lock sweep failed", "err", err)
				continue
			}
			if reclaimed > 0 {
				metrics.ExpiredLocksReclaimed.Add(float64(reclaimed))
				slog.Warn("reclaimed expired calculation locks", "count", reclaimed)
			}
		}
	}
}
