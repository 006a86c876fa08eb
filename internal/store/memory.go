package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chiptally/settle-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence, single process).
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex // serializes InTx blocks

	games        map[string]*model.Game
	transactions []model.Transaction
	settlements  map[string][]model.Settlement // gameID → rows
	locks        map[string]model.CalculationLock
	audit        []model.AuditEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:       make(map[string]*model.Game),
		settlements: make(map[string][]model.Settlement),
		locks:       make(map[string]model.CalculationLock),
	}
}

// --- Games ---

func (s *MemoryStore) CreateGame(_ context.Context, g *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return fmt.Errorf("game %s already exists", g.ID)
	}
	copy := *g
	s.games[g.ID] = &copy
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("get game %s: %w", id, ErrNotFound)
	}
	copy := *g
	return &copy, nil
}

func (s *MemoryStore) SetGameStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return fmt.Errorf("set game %s status: %w", id, ErrNotFound)
	}
	g.Status = status
	return nil
}

// --- Ledger ---

func (s *MemoryStore) InsertTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = append(s.transactions, *t)
	return nil
}

func (s *MemoryStore) GetParticipantPositions(_ context.Context, gameID string) ([]model.ParticipantPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]*model.ParticipantPosition)
	for _, t := range s.transactions {
		if t.GameID != gameID {
			continue
		}
		p, ok := agg[t.ParticipantID]
		if !ok {
			p = &model.ParticipantPosition{ParticipantID: t.ParticipantID}
			agg[t.ParticipantID] = p
		}
		if t.Kind == model.TxBuyIn {
			p.TotalBuyIn = p.TotalBuyIn.Add(t.Amount)
		} else {
			p.TotalCashOut = p.TotalCashOut.Add(t.Amount)
		}
	}

	positions := make([]model.ParticipantPosition, 0, len(agg))
	for _, p := range agg {
		p.NetResult = p.TotalCashOut.Sub(p.TotalBuyIn)
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].ParticipantID < positions[j].ParticipantID
	})
	return positions, nil
}

// --- Settlements ---

func (s *MemoryStore) InsertSettlements(_ context.Context, settlements []model.Settlement) error {
	if err := validateSettlements(settlements); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range settlements {
		s.settlements[st.GameID] = append(s.settlements[st.GameID], st)
	}
	return nil
}

func (s *MemoryStore) GetSettlementsByGame(_ context.Context, gameID string) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.settlements[gameID]
	out := make([]model.Settlement, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) MarkSettlementCompleted(_ context.Context, settlementID string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for gameID, rows := range s.settlements {
		for i := range rows {
			if rows[i].ID != settlementID {
				continue
			}
			if rows[i].Status != model.SettlementCompleted {
				rows[i].Status = model.SettlementCompleted
				completedAt := at
				rows[i].CompletedAt = &completedAt
			}
			return gameID, nil
		}
	}
	return "", fmt.Errorf("mark settlement %s completed: %w", settlementID, ErrNotFound)
}

// --- Calculation locks ---

func (s *MemoryStore) AcquireLock(_ context.Context, gameID, holderToken string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locks[gameID]; ok && existing.ExpiresAt.After(now) {
		return false, nil
	}
	s.locks[gameID] = model.CalculationLock{
		GameID:      gameID,
		HolderToken: holderToken,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
	return true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, gameID, holderToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locks[gameID]; ok && existing.HolderToken == holderToken {
		delete(s.locks, gameID)
	}
	return nil
}

func (s *MemoryStore) DeleteExpiredLocks(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reclaimed int64
	for gameID, l := range s.locks {
		if l.ExpiresAt.Before(now) {
			delete(s.locks, gameID)
			reclaimed++
		}
	}
	return reclaimed, nil
}

// --- Audit log ---

func (s *MemoryStore) AppendAudit(_ context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *e)
	return nil
}

func (s *MemoryStore) GetAuditByGame(_ context.Context, gameID string, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterAudit(s.audit, limit, func(e model.AuditEntry) bool {
		return e.GameID == gameID
	}), nil
}

func (s *MemoryStore) GetAuditByActor(_ context.Context, actorID string, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterAudit(s.audit, limit, func(e model.AuditEntry) bool {
		return e.ActorID == actorID
	}), nil
}

// filterAudit returns matching entries newest-first.
func filterAudit(entries []model.AuditEntry, limit int, match func(model.AuditEntry) bool) []model.AuditEntry {
	var out []model.AuditEntry
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		if match(entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out
}

// --- Atomic unit of work ---

// InTx serializes transaction blocks and rolls back by restoring a snapshot
// of the settlement rows, the only table written inside calculation
// transactions. Good enough for tests; PostgreSQL provides the real thing.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[string][]model.Settlement, len(s.settlements))
	for gameID, rows := range s.settlements {
		cp := make([]model.Settlement, len(rows))
		copy(cp, rows)
		snapshot[gameID] = cp
	}
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.settlements = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}
