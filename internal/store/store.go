// Package store defines the persistence boundary for the settle engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chiptally/settle-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNestedTx is returned when InTx is called on a store that is
	// already inside a transaction.
	ErrNestedTx = errors.New("store: nested transaction")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Games (collaborator surface: completion status gates calculation) ---

	// CreateGame persists a new game.
	CreateGame(ctx context.Context, g *model.Game) error

	// GetGame retrieves a game by its ID.
	GetGame(ctx context.Context, id string) (*model.Game, error)

	// SetGameStatus updates a game's lifecycle status.
	SetGameStatus(ctx context.Context, id, status string) error

	// --- Immutable transaction ledger ---

	// InsertTransaction appends a buy-in or cash-out entry.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// GetParticipantPositions aggregates the ledger into per-participant
	// buy-in/cash-out totals and net results, ordered by participant ID.
	GetParticipantPositions(ctx context.Context, gameID string) ([]model.ParticipantPosition, error)

	// --- Settlements ---

	// InsertSettlements bulk-creates the settlement rows for a game.
	// Called at most once per game; the orchestrator's existence check
	// inside the calculation transaction enforces that.
	InsertSettlements(ctx context.Context, settlements []model.Settlement) error

	// GetSettlementsByGame returns all settlements for a game.
	GetSettlementsByGame(ctx context.Context, gameID string) ([]model.Settlement, error)

	// MarkSettlementCompleted transitions one settlement to completed.
	// Idempotent: completing an already-completed settlement is a no-op.
	// Returns the settlement's game ID for cache invalidation.
	MarkSettlementCompleted(ctx context.Context, settlementID string, at time.Time) (gameID string, err error)

	// --- Calculation locks ---

	// AcquireLock atomically claims the per-game lock: it inserts the lock
	// row if none exists, or takes over a row whose expiry has passed.
	// Returns false when the lock is live and held by someone else.
	AcquireLock(ctx context.Context, gameID, holderToken string, now time.Time, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the lock only if holderToken still owns it.
	ReleaseLock(ctx context.Context, gameID, holderToken string) error

	// DeleteExpiredLocks removes all locks whose expiry has passed and
	// returns how many were reclaimed.
	DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error)

	// --- Audit log (append-only) ---

	// AppendAudit records one calculation attempt.
	AppendAudit(ctx context.Context, e *model.AuditEntry) error

	// GetAuditByGame returns the newest audit entries for a game.
	GetAuditByGame(ctx context.Context, gameID string, limit int) ([]model.AuditEntry, error)

	// GetAuditByActor returns the newest audit entries for an actor.
	GetAuditByActor(ctx context.Context, actorID string, limit int) ([]model.AuditEntry, error)

	// --- Atomic unit of work ---

	// InTx runs fn inside one transaction. The Store passed to fn operates
	// on that transaction; a non-nil error from fn rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// validateSettlements enforces the store-boundary invariants on bulk
// creation, independent of what the simplifier guarantees upstream.
func validateSettlements(settlements []model.Settlement) error {
	for _, s := range settlements {
		if s.PayerID == s.PayeeID {
			return fmt.Errorf("store: settlement %s pays participant %s to themselves", s.ID, s.PayerID)
		}
		if !s.Amount.IsPositive() {
			return fmt.Errorf("store: settlement %s has non-positive amount %s", s.ID, s.Amount)
		}
	}
	return nil
}
