// Package ledger aggregates a game's buy-in/cash-out transactions into net
// positions and validates that the ledger balances to zero within tolerance.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chiptally/settle-engine/internal/model"
)

// DefaultTolerance is the maximum acceptable discrepancy between total
// buy-ins and total cash-outs, in currency units. Inherited policy constant,
// overridable via LEDGER_TOLERANCE.
var DefaultTolerance = decimal.NewFromFloat(0.01)

// ImbalancedLedgerError reports a ledger whose buy-ins and cash-outs differ
// by more than the tolerance. Non-retryable: the ledger itself must be
// corrected before calculation can proceed.
type ImbalancedLedgerError struct {
	GameID       string
	TotalBuyIn   decimal.Decimal
	TotalCashOut decimal.Decimal
}

func (e *ImbalancedLedgerError) Error() string {
	return fmt.Sprintf("ledger: game %s is imbalanced: buy-ins %s vs cash-outs %s (difference %s)",
		e.GameID, e.TotalBuyIn.StringFixed(2), e.TotalCashOut.StringFixed(2), e.Difference().StringFixed(2))
}

// Difference returns the absolute gap between buy-ins and cash-outs.
func (e *ImbalancedLedgerError) Difference() decimal.Decimal {
	return e.TotalBuyIn.Sub(e.TotalCashOut).Abs()
}

// PositionReader is the slice of the store the aggregator needs.
type PositionReader interface {
	GetParticipantPositions(ctx context.Context, gameID string) ([]model.ParticipantPosition, error)
}

// Aggregator computes point-in-time ledger snapshots. Pure read — the caller
// must hold the calculation lock and pass the reader of the transaction it
// is running in, so no ledger entry can land mid-read.
type Aggregator struct {
	tolerance decimal.Decimal
}

// NewAggregator creates an aggregator with the given zero-sum tolerance.
func NewAggregator(tolerance decimal.Decimal) *Aggregator {
	if tolerance.LessThanOrEqual(decimal.Zero) {
		tolerance = DefaultTolerance
	}
	return &Aggregator{tolerance: tolerance}
}

// Tolerance returns the configured zero-sum tolerance.
func (a *Aggregator) Tolerance() decimal.Decimal {
	return a.tolerance
}

// Snapshot reads all participant totals for the game and produces an
// immutable snapshot. Returns *ImbalancedLedgerError when the grand totals
// differ by more than the tolerance.
func (a *Aggregator) Snapshot(ctx context.Context, reader PositionReader, gameID string) (*model.LedgerSnapshot, error) {
	positions, err := reader.GetParticipantPositions(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("aggregate game %s: %w", gameID, err)
	}

	totalBuyIn := decimal.Zero
	totalCashOut := decimal.Zero
	for _, p := range positions {
		totalBuyIn = totalBuyIn.Add(p.TotalBuyIn)
		totalCashOut = totalCashOut.Add(p.TotalCashOut)
	}

	if totalBuyIn.Sub(totalCashOut).Abs().GreaterThan(a.tolerance) {
		return nil, &ImbalancedLedgerError{
			GameID:       gameID,
			TotalBuyIn:   totalBuyIn,
			TotalCashOut: totalCashOut,
		}
	}

	return &model.LedgerSnapshot{
		GameID:       gameID,
		Positions:    positions,
		TotalBuyIn:   totalBuyIn,
		TotalCashOut: totalCashOut,
	}, nil
}
