// Package audit keeps the append-only record of calculation attempts.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chiptally/settle-engine/internal/model"
)

// DefaultHistoryLimit caps audit queries when the caller does not ask for
// a specific limit.
const DefaultHistoryLimit = 50

// AuditStore is the slice of the store the log needs.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	GetAuditByGame(ctx context.Context, gameID string, limit int) ([]model.AuditEntry, error)
	GetAuditByActor(ctx context.Context, actorID string, limit int) ([]model.AuditEntry, error)
}

// Log appends attempt records. Appends are best-effort observability, not a
// correctness gate: a failed write must never block returning a calculation
// result, so it is logged at error severity and swallowed.
type Log struct {
	store AuditStore
}

// NewLog creates an audit log over the given store.
func NewLog(store AuditStore) *Log {
	return &Log{store: store}
}

// Record appends one attempt entry. Never returns an error.
func (l *Log) Record(ctx context.Context, gameID, actorID string, startedAt time.Time, status model.Outcome, detail string) {
	entry := &model.AuditEntry{
		ID:          uuid.New().String(),
		GameID:      gameID,
		ActorID:     actorID,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		Status:      status,
		Detail:      detail,
	}
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		// Higher severity than a business rejection: losing audit rows is
		// an operational problem even though the calculation succeeded.
		slog.Error("audit append failed",
			"game_id", gameID,
			"actor_id", actorID,
			"status", string(status),
			"err", err,
		)
	}
}

// HistoryByGame returns the newest entries for a game.
func (l *Log) HistoryByGame(ctx context.Context, gameID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return l.store.GetAuditByGame(ctx, gameID, limit)
}

// HistoryByActor returns the newest entries recorded for an actor.
func (l *Log) HistoryByActor(ctx context.Context, actorID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return l.store.GetAuditByActor(ctx, actorID, limit)
}
