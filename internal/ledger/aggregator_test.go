package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chiptally/settle-engine/internal/model"
	"github.com/chiptally/settle-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// seedLedger records buy-in/cash-out pairs per participant.
func seedLedger(t *testing.T, ms *store.MemoryStore, gameID string, entries map[string][2]float64) {
	t.Helper()
	ctx := context.Background()
	for participantID, amounts := range entries {
		for i, kind := range []string{model.TxBuyIn, model.TxCashOut} {
			if amounts[i] == 0 {
				continue
			}
			err := ms.InsertTransaction(ctx, &model.Transaction{
				ID:            uuid.New().String(),
				GameID:        gameID,
				ParticipantID: participantID,
				Kind:          kind,
				Amount:        d(amounts[i]),
				CreatedAt:     time.Now().UTC(),
			})
			if err != nil {
				t.Fatalf("failed to seed transaction: %v", err)
			}
		}
	}
}

func TestSnapshot_ComputesNetResults(t *testing.T) {
	ms := store.NewMemoryStore()
	seedLedger(t, ms, "game1", map[string][2]float64{
		"alice": {100, 0},   // lost the lot
		"bob":   {100, 250}, // big winner
		"carol": {100, 50},  // half back
	})

	agg := NewAggregator(d(0.01))
	snap, err := agg.Snapshot(context.Background(), ms, "game1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !snap.TotalBuyIn.Equal(d(300)) {
		t.Errorf("expected total buy-in 300, got %s", snap.TotalBuyIn)
	}
	if !snap.TotalCashOut.Equal(d(300)) {
		t.Errorf("expected total cash-out 300, got %s", snap.TotalCashOut)
	}
	if len(snap.Positions) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(snap.Positions))
	}

	// Positions come back ordered by participant ID.
	expected := map[string]float64{"alice": -100, "bob": 150, "carol": -50}
	for _, p := range snap.Positions {
		if !p.NetResult.Equal(d(expected[p.ParticipantID])) {
			t.Errorf("participant %s: expected net %v, got %s",
				p.ParticipantID, expected[p.ParticipantID], p.NetResult)
		}
		if !p.NetResult.Equal(p.TotalCashOut.Sub(p.TotalBuyIn)) {
			t.Errorf("participant %s: net result drifted from cashOut-buyIn", p.ParticipantID)
		}
	}
}

func TestSnapshot_RejectsImbalancedLedger(t *testing.T) {
	ms := store.NewMemoryStore()
	// 300 in, 290 out: someone pocketed 10.00 unaccounted.
	seedLedger(t, ms, "game1", map[string][2]float64{
		"alice": {100, 90},
		"bob":   {100, 100},
		"carol": {100, 100},
	})

	agg := NewAggregator(d(0.01))
	_, err := agg.Snapshot(context.Background(), ms, "game1")

	var imbErr *ImbalancedLedgerError
	if !errors.As(err, &imbErr) {
		t.Fatalf("expected ImbalancedLedgerError, got %v", err)
	}
	if !imbErr.Difference().Equal(d(10)) {
		t.Errorf("expected difference 10.00, got %s", imbErr.Difference())
	}
	if imbErr.GameID != "game1" {
		t.Errorf("expected game1 in error, got %s", imbErr.GameID)
	}
}

func TestSnapshot_ImbalanceWithinToleranceAccepted(t *testing.T) {
	ms := store.NewMemoryStore()
	seedLedger(t, ms, "game1", map[string][2]float64{
		"alice": {100, 49.99},
		"bob":   {100, 150},
	})

	agg := NewAggregator(d(0.01))
	snap, err := agg.Snapshot(context.Background(), ms, "game1")
	if err != nil {
		t.Fatalf("penny discrepancy within tolerance should pass, got %v", err)
	}
	if len(snap.Positions) != 2 {
		t.Errorf("expected 2 positions, got %d", len(snap.Positions))
	}
}

func TestSnapshot_EmptyLedger(t *testing.T) {
	ms := store.NewMemoryStore()
	agg := NewAggregator(d(0.01))

	snap, err := agg.Snapshot(context.Background(), ms, "empty-game")
	if err != nil {
		t.Fatalf("empty ledger should balance trivially, got %v", err)
	}
	if len(snap.Positions) != 0 {
		t.Errorf("expected no positions, got %d", len(snap.Positions))
	}
	if !snap.TotalBuyIn.IsZero() || !snap.TotalCashOut.IsZero() {
		t.Errorf("expected zero totals, got %s / %s", snap.TotalBuyIn, snap.TotalCashOut)
	}
}

func TestNewAggregator_DefaultsBadTolerance(t *testing.T) {
	agg := NewAggregator(decimal.Zero)
	if !agg.Tolerance().Equal(DefaultTolerance) {
		t.Errorf("zero tolerance should fall back to default, got %s", agg.Tolerance())
	}
}
