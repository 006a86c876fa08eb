// Package settle provides the calculation orchestrator and the HTTP surface
// of the settle engine.
//
// The orchestrator is the only writer of settlement rows. It serializes
// concurrent calculation requests per game through the lock coordinator and
// runs the idempotency check, ledger aggregation, debt simplification, and
// persistence inside a single atomic transaction, so a game can never end up
// with two divergent settlement sets.
package settle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chiptally/settle-engine/internal/audit"
	"github.com/chiptally/settle-engine/internal/ledger"
	"github.com/chiptally/settle-engine/internal/lock"
	"github.com/chiptally/settle-engine/internal/metrics"
	"github.com/chiptally/settle-engine/internal/model"
	"github.com/chiptally/settle-engine/internal/simplify"
	"github.com/chiptally/settle-engine/internal/store"
)

// Result is the outcome of one calculation request. Business outcomes
// (in progress, already calculated, rejected) are values, not errors, so
// callers can distinguish "your ledger is inconsistent" from "the system
// is broken".
type Result struct {
	Outcome     model.Outcome      `json:"outcome"`
	Settlements []model.Settlement `json:"settlements"`
	Reason      string             `json:"reason,omitempty"`
}

// Orchestrator coordinates settlement calculation for completed games.
type Orchestrator struct {
	store      store.Store
	locks      *lock.Coordinator
	aggregator *ledger.Aggregator
	auditLog   *audit.Log
	hub        *Hub // optional WebSocket hub for event broadcasts
}

// NewOrchestrator wires the calculation pipeline together.
// Pass nil for hub if event broadcasting is not needed.
func NewOrchestrator(st store.Store, locks *lock.Coordinator, aggregator *ledger.Aggregator, auditLog *audit.Log, hub *Hub) *Orchestrator {
	return &Orchestrator{
		store:      st,
		locks:      locks,
		aggregator: aggregator,
		auditLog:   auditLog,
		hub:        hub,
	}
}

// Calculate computes and persists the settlement set for a completed game.
//
// Exactly one concurrent caller per game gets inside the transaction; others
// receive an in-progress result immediately, with no retry loop here — retry
// policy belongs to the caller. Re-invocation after success returns the
// stored rows unchanged. Every attempt is recorded in the audit log.
func (o *Orchestrator) Calculate(ctx context.Context, gameID, actorID string) (*Result, error) {
	startedAt := time.Now().UTC()

	game, err := o.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != model.GameStatusCompleted {
		reason := "game is not completed"
		o.auditLog.Record(ctx, gameID, actorID, startedAt, model.OutcomeRejected, reason)
		o.observe(model.OutcomeRejected, startedAt)
		return &Result{Outcome: model.OutcomeRejected, Reason: reason}, nil
	}

	token, acquired, err := o.locks.Acquire(ctx, gameID)
	if err != nil {
		o.auditLog.Record(ctx, gameID, actorID, startedAt, model.OutcomeFailed, "lock acquire: "+err.Error())
		o.observe(model.OutcomeFailed, startedAt)
		return &Result{Outcome: model.OutcomeFailed, Reason: "could not acquire calculation lock"}, nil
	}
	if !acquired {
		metrics.LockContention.Inc()
		o.auditLog.Record(ctx, gameID, actorID, startedAt, model.OutcomeRejected, "calculation already in progress")
		o.observe(model.OutcomeInProgress, startedAt)
		return &Result{Outcome: model.OutcomeInProgress, Reason: "calculation already in progress"}, nil
	}

	// The one operation that must never be skipped: a stuck lock blocks
	// every future attempt for this game until TTL expiry.
	defer func() {
		if relErr := o.locks.Release(ctx, gameID, token); relErr != nil {
			slog.Error("lock release failed, lock will self-heal via TTL",
				"game_id", gameID,
				"ttl", o.locks.TTL().String(),
				"err", relErr,
			)
		}
	}()

	result := &Result{}
	err = o.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		existing, err := tx.GetSettlementsByGame(ctx, gameID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			result.Outcome = model.OutcomeAlreadyCalculated
			result.Settlements = existing
			return nil
		}

		snapshot, err := o.aggregator.Snapshot(ctx, tx, gameID)
		if err != nil {
			return err
		}

		transfers, err := simplify.Simplify(snapshot.Positions, o.aggregator.Tolerance())
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		settlements := make([]model.Settlement, 0, len(transfers))
		for _, tr := range transfers {
			settlements = append(settlements, model.Settlement{
				ID:        uuid.New().String(),
				GameID:    gameID,
				PayerID:   tr.PayerID,
				PayeeID:   tr.PayeeID,
				Amount:    tr.Amount,
				Status:    model.SettlementPending,
				CreatedAt: now,
			})
		}

		if len(settlements) > 0 {
			if err := tx.InsertSettlements(ctx, settlements); err != nil {
				return err
			}
		}

		result.Outcome = model.OutcomeSuccess
		result.Settlements = settlements
		return nil
	})

	if err != nil {
		var imbErr *ledger.ImbalancedLedgerError
		if errors.As(err, &imbErr) {
			reason := "ledger imbalanced by " + imbErr.Difference().StringFixed(2)
			o.auditLog.Record(ctx, gameID, actorID, startedAt, model.OutcomeRejected, reason)
			o.observe(model.OutcomeRejected, startedAt)
			slog.Warn("settlement calculation rejected",
				"game_id", gameID,
				"actor_id", actorID,
				"buy_in", imbErr.TotalBuyIn.StringFixed(2),
				"cash_out", imbErr.TotalCashOut.StringFixed(2),
			)
			return &Result{Outcome: model.OutcomeRejected, Reason: reason}, nil
		}

		o.auditLog.Record(ctx, gameID, actorID, startedAt, model.OutcomeFailed, err.Error())
		o.observe(model.OutcomeFailed, startedAt)
		slog.Error("settlement calculation failed", "game_id", gameID, "actor_id", actorID, "err", err)
		return &Result{Outcome: model.OutcomeFailed, Reason: "calculation failed"}, nil
	}

	o.auditLog.Record(ctx, gameID, actorID, startedAt, result.Outcome, "")
	o.observe(result.Outcome, startedAt)

	if result.Outcome == model.OutcomeSuccess {
		metrics.SettlementsCreated.Add(float64(len(result.Settlements)))
		slog.Info("settlement calculated",
			"game_id", gameID,
			"actor_id", actorID,
			"transfers", len(result.Settlements),
			"duration", time.Since(startedAt).String(),
		)
		if o.hub != nil {
			o.hub.Broadcast(Event{
				Type:      "settlement_calculated",
				GameID:    gameID,
				Transfers: len(result.Settlements),
			})
		}
	}

	return result, nil
}

// Settlements returns the stored settlement set for a game. Read-only,
// no locking.
func (o *Orchestrator) Settlements(ctx context.Context, gameID string) ([]model.Settlement, error) {
	return o.store.GetSettlementsByGame(ctx, gameID)
}

// MarkCompleted transitions one settlement to completed. Idempotent;
// orthogonal to calculation.
func (o *Orchestrator) MarkCompleted(ctx context.Context, settlementID, actorID string) error {
	gameID, err := o.store.MarkSettlementCompleted(ctx, settlementID, time.Now().UTC())
	if err != nil {
		return err
	}

	metrics.SettlementsCompleted.Inc()
	slog.Info("settlement completed", "settlement_id", settlementID, "game_id", gameID, "actor_id", actorID)

	if o.hub != nil {
		o.hub.Broadcast(Event{
			Type:         "settlement_completed",
			GameID:       gameID,
			SettlementID: settlementID,
		})
	}
	return nil
}

// Positions exposes the live net positions for a game. Unlocked diagnostic
// read; the authoritative snapshot is always taken inside Calculate.
func (o *Orchestrator) Positions(ctx context.Context, gameID string) ([]model.ParticipantPosition, error) {
	return o.store.GetParticipantPositions(ctx, gameID)
}

func (o *Orchestrator) observe(outcome model.Outcome, startedAt time.Time) {
	metrics.CalculationsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.CalculationLatency.Observe(time.Since(startedAt).Seconds())
}

// Tolerance returns the engine's zero-sum tolerance, for display surfaces.
func (o *Orchestrator) Tolerance() decimal.Decimal {
	return o.aggregator.Tolerance()
}
