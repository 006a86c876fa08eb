package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chiptally/settle-engine/internal/model"
	"github.com/chiptally/settle-engine/internal/store"
)

// failingStore always fails appends, to prove the log is best-effort.
type failingStore struct {
	store.MemoryStore
}

func (f *failingStore) AppendAudit(context.Context, *model.AuditEntry) error {
	return errors.New("disk on fire")
}

func TestRecord_AppendsEntry(t *testing.T) {
	ms := store.NewMemoryStore()
	log := NewLog(ms)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Second)
	log.Record(ctx, "game1", "alice", started, model.OutcomeSuccess, "")

	entries, err := log.HistoryByGame(ctx, "game1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.Status != model.OutcomeSuccess || e.ActorID != "alice" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.ID == "" {
		t.Error("entry should get an ID")
	}
	if !e.CompletedAt.After(e.StartedAt) {
		t.Errorf("completion should follow start: %s vs %s", e.CompletedAt, e.StartedAt)
	}
}

func TestRecord_SwallowsStoreFailure(t *testing.T) {
	log := NewLog(&failingStore{})

	// Must not panic or propagate: audit is observability, not a gate.
	log.Record(context.Background(), "game1", "alice", time.Now().UTC(), model.OutcomeFailed, "x")
}

func TestHistory_DefaultLimit(t *testing.T) {
	ms := store.NewMemoryStore()
	log := NewLog(ms)
	ctx := context.Background()

	for i := 0; i < DefaultHistoryLimit+10; i++ {
		log.Record(ctx, "game1", "alice", time.Now().UTC(), model.OutcomeRejected, "imbalanced")
	}

	entries, err := log.HistoryByActor(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != DefaultHistoryLimit {
		t.Errorf("expected default limit %d, got %d", DefaultHistoryLimit, len(entries))
	}
}
