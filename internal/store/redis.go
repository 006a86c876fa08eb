package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chiptally/settle-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for games and settled games. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back.
//
// Settlement lists are only cached once non-empty: an unsettled game must
// always hit the primary so the idempotency check inside the calculation
// transaction sees fresh state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Games ---

func (s *CachedStore) CreateGame(ctx context.Context, g *model.Game) error {
	if err := s.primary.CreateGame(ctx, g); err != nil {
		return err
	}
	s.cacheGame(ctx, g)
	return nil
}

func (s *CachedStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	data, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == nil {
		var g model.Game
		if json.Unmarshal(data, &g) == nil {
			return &g, nil
		}
	}

	g, err := s.primary.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheGame(ctx, g)
	return g, nil
}

func (s *CachedStore) SetGameStatus(ctx context.Context, id, status string) error {
	if err := s.primary.SetGameStatus(ctx, id, status); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, gameKey(id))
	return nil
}

// --- Settlements ---

func (s *CachedStore) InsertSettlements(ctx context.Context, settlements []model.Settlement) error {
	if err := s.primary.InsertSettlements(ctx, settlements); err != nil {
		return err
	}
	for _, st := range settlements {
		s.rdb.Del(ctx, settlementsKey(st.GameID))
	}
	return nil
}

func (s *CachedStore) GetSettlementsByGame(ctx context.Context, gameID string) ([]model.Settlement, error) {
	data, err := s.rdb.Get(ctx, settlementsKey(gameID)).Bytes()
	if err == nil {
		var settlements []model.Settlement
		if json.Unmarshal(data, &settlements) == nil {
			return settlements, nil
		}
	}

	settlements, err := s.primary.GetSettlementsByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	if len(settlements) > 0 {
		if data, err := json.Marshal(settlements); err == nil {
			s.rdb.Set(ctx, settlementsKey(gameID), data, s.ttl)
		}
	}
	return settlements, nil
}

func (s *CachedStore) MarkSettlementCompleted(ctx context.Context, settlementID string, at time.Time) (string, error) {
	gameID, err := s.primary.MarkSettlementCompleted(ctx, settlementID, at)
	if err != nil {
		return "", err
	}
	s.rdb.Del(ctx, settlementsKey(gameID))
	return gameID, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, t)
}

func (s *CachedStore) GetParticipantPositions(ctx context.Context, gameID string) ([]model.ParticipantPosition, error) {
	return s.primary.GetParticipantPositions(ctx, gameID)
}

func (s *CachedStore) AcquireLock(ctx context.Context, gameID, holderToken string, now time.Time, ttl time.Duration) (bool, error) {
	return s.primary.AcquireLock(ctx, gameID, holderToken, now, ttl)
}

func (s *CachedStore) ReleaseLock(ctx context.Context, gameID, holderToken string) error {
	return s.primary.ReleaseLock(ctx, gameID, holderToken)
}

func (s *CachedStore) DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	return s.primary.DeleteExpiredLocks(ctx, now)
}

func (s *CachedStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	return s.primary.AppendAudit(ctx, e)
}

func (s *CachedStore) GetAuditByGame(ctx context.Context, gameID string, limit int) ([]model.AuditEntry, error) {
	return s.primary.GetAuditByGame(ctx, gameID, limit)
}

func (s *CachedStore) GetAuditByActor(ctx context.Context, actorID string, limit int) ([]model.AuditEntry, error) {
	return s.primary.GetAuditByActor(ctx, actorID, limit)
}

// InTx delegates to the primary: transaction-scoped reads and writes must
// bypass the cache entirely.
func (s *CachedStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.primary.InTx(ctx, fn)
}

// --- Cache helpers ---

func (s *CachedStore) cacheGame(ctx context.Context, g *model.Game) {
	if data, err := json.Marshal(g); err == nil {
		s.rdb.Set(ctx, gameKey(g.ID), data, s.ttl)
	}
}

func gameKey(id string) string            { return fmt.Sprintf("game:%s", id) }
func settlementsKey(gameID string) string { return fmt.Sprintf("settlements:%s", gameID) }
