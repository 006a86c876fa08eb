package lock

import (
	"context"
	"testing"
	"time"

	"github.com/chiptally/settle-engine/internal/store"
)

func newCoordinator(t *testing.T, ttl time.Duration) (*Coordinator, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return NewCoordinator(ms, ttl), ms
}

func TestAcquire_FirstCallerWins(t *testing.T) {
	c, _ := newCoordinator(t, time.Minute)
	ctx := context.Background()

	token, acquired, err := c.Acquire(ctx, "game1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("first acquire should succeed")
	}
	if token == "" {
		t.Fatal("acquire should return a holder token")
	}

	_, acquired, err = c.Acquire(ctx, "game1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Error("second acquire on a live lock should report busy")
	}
}

func TestAcquire_IndependentGames(t *testing.T) {
	c, _ := newCoordinator(t, time.Minute)
	ctx := context.Background()

	if _, acquired, _ := c.Acquire(ctx, "game1"); !acquired {
		t.Fatal("acquire game1 should succeed")
	}
	if _, acquired, _ := c.Acquire(ctx, "game2"); !acquired {
		t.Error("locks on different games must be independent")
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	c, _ := newCoordinator(t, time.Minute)
	ctx := context.Background()

	token, _, _ := c.Acquire(ctx, "game1")
	if err := c.Release(ctx, "game1", token); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, acquired, _ := c.Acquire(ctx, "game1"); !acquired {
		t.Error("acquire after release should succeed")
	}
}

func TestRelease_ForeignTokenIsNoOp(t *testing.T) {
	c, _ := newCoordinator(t, time.Minute)
	ctx := context.Background()

	c.Acquire(ctx, "game1")
	if err := c.Release(ctx, "game1", "stale-token"); err != nil {
		t.Fatalf("foreign release should not error: %v", err)
	}

	// Lock must still be held by the original token.
	if _, acquired, _ := c.Acquire(ctx, "game1"); acquired {
		t.Error("foreign token must not release another holder's lock")
	}
}

func TestAcquire_ReclaimsExpiredLock(t *testing.T) {
	c, _ := newCoordinator(t, time.Minute)
	ctx := context.Background()

	start := time.Now().UTC()
	c.now = func() time.Time { return start }

	if _, acquired, _ := c.Acquire(ctx, "game1"); !acquired {
		t.Fatal("initial acquire should succeed")
	}

	// Advance past the TTL: the dead holder's lock becomes reclaimable.
	c.now = func() time.Time { return start.Add(2 * time.Minute) }

	token, acquired, err := c.Acquire(ctx, "game1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expired lock should be reclaimable")
	}
	if token == "" {
		t.Fatal("reclaim should hand out a fresh token")
	}
}

func TestCleanupExpired_RemovesOnlyDeadLocks(t *testing.T) {
	c, _ := newCoordinator(t, time.Minute)
	ctx := context.Background()

	start := time.Now().UTC()
	c.now = func() time.Time { return start }
	c.Acquire(ctx, "dead")

	c.now = func() time.Time { return start.Add(2 * time.Minute) }
	c.Acquire(ctx, "live")

	reclaimed, err := c.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("expected 1 reclaimed lock, got %d", reclaimed)
	}

	if _, acquired, _ := c.Acquire(ctx, "live"); acquired {
		t.Error("live lock should survive the sweep")
	}
	if _, acquired, _ := c.Acquire(ctx, "dead"); !acquired {
		t.Error("dead lock should be gone after the sweep")
	}
}
