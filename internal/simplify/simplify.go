// Package simplify implements greedy debt simplification: given a set of
// participant net positions that sum to zero (within tolerance), it emits a
// minimal list of payer→payee transfers that returns every participant to
// exactly zero.
//
// The algorithm repeatedly matches the largest remaining creditor against the
// largest remaining debtor, which yields at most n-1 transfers for n non-zero
// participants.
//
// All monetary values use shopspring/decimal — never float64 for money.
// No I/O, no locking — deterministic for a given input.
package simplify

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/chiptally/settle-engine/internal/model"
)

var (
	// ErrUnbalancedPositions is returned when the net positions do not sum
	// to zero within the given tolerance. Callers are expected to validate
	// the ledger before simplifying; this is a defense-in-depth check.
	ErrUnbalancedPositions = errors.New("simplify: net positions do not sum to zero")

	// AmountScale is the number of decimal places for transfer amounts.
	AmountScale int32 = 2
)

// Transfer is one candidate payer→payee payment. Candidates carry no
// identity or lifecycle; the orchestrator turns them into Settlement rows.
type Transfer struct {
	PayerID string
	PayeeID string
	Amount  decimal.Decimal
}

// party is one side's remaining balance during the greedy loop.
type party struct {
	id        string
	remaining decimal.Decimal // always positive
}

// Simplify reduces net positions into a minimal transfer list.
//
// Participants with a zero net result are dropped. Both sides are ordered
// by amount descending with participant ID ascending as the tie-break, so
// output is deterministic even for equal-valued positions.
//
// Each transfer is rounded to AmountScale places; any residual from rounding
// is folded into the last transfer so the transfer total exactly equals the
// sum of positive net positions (no lost pennies).
func Simplify(positions []model.ParticipantPosition, tolerance decimal.Decimal) ([]Transfer, error) {
	var creditors, debtors []party
	totalCredit := decimal.Zero
	sum := decimal.Zero

	for _, p := range positions {
		sum = sum.Add(p.NetResult)
		switch {
		case p.NetResult.IsPositive():
			creditors = append(creditors, party{id: p.ParticipantID, remaining: p.NetResult})
			totalCredit = totalCredit.Add(p.NetResult)
		case p.NetResult.IsNegative():
			debtors = append(debtors, party{id: p.ParticipantID, remaining: p.NetResult.Neg()})
		}
	}

	if sum.Abs().GreaterThan(tolerance) {
		return nil, ErrUnbalancedPositions
	}
	if len(creditors) == 0 || len(debtors) == 0 {
		return nil, nil
	}

	sortParties(creditors)
	sortParties(debtors)

	var transfers []Transfer
	transferred := decimal.Zero

	for len(creditors) > 0 && len(debtors) > 0 {
		c := &creditors[0]
		d := &debtors[0]

		amount := decimal.Min(c.remaining, d.remaining)
		rounded := amount.Round(AmountScale)
		if rounded.IsPositive() {
			transfers = append(transfers, Transfer{
				PayerID: d.id,
				PayeeID: c.id,
				Amount:  rounded,
			})
			transferred = transferred.Add(rounded)
		}

		c.remaining = c.remaining.Sub(amount)
		d.remaining = d.remaining.Sub(amount)

		// Drop exhausted sides; re-sort the reduced side so the largest
		// remaining balance is always at the front.
		if c.remaining.LessThanOrEqual(tolerance) {
			creditors = creditors[1:]
		} else {
			sortParties(creditors)
		}
		if d.remaining.LessThanOrEqual(tolerance) {
			debtors = debtors[1:]
		} else {
			sortParties(debtors)
		}
	}

	// Fold the rounding residual into the final transfer so the total
	// matches the sum of positive net positions exactly.
	if len(transfers) > 0 {
		residual := totalCredit.Round(AmountScale).Sub(transferred)
		if !residual.IsZero() {
			last := &transfers[len(transfers)-1]
			last.Amount = last.Amount.Add(residual)
		}
	}

	return transfers, nil
}

// sortParties orders by remaining balance descending, participant ID
// ascending on ties.
func sortParties(ps []party) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].remaining.Equal(ps[j].remaining) {
			return ps[i].remaining.GreaterThan(ps[j].remaining)
		}
		return ps[i].id < ps[j].id
	})
}
