package simplify

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chiptally/settle-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var tol = d(0.01)

// pos builds a position whose net result is already known.
func pos(id string, net float64) model.ParticipantPosition {
	n := d(net)
	p := model.ParticipantPosition{ParticipantID: id, NetResult: n}
	if n.IsNegative() {
		p.TotalBuyIn = n.Neg()
	} else {
		p.TotalCashOut = n
	}
	return p
}

// applyTransfers returns each participant's balance after paying/receiving
// all transfers, starting from their net position.
func applyTransfers(positions []model.ParticipantPosition, transfers []Transfer) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal)
	for _, p := range positions {
		balances[p.ParticipantID] = p.NetResult
	}
	for _, tr := range transfers {
		balances[tr.PayerID] = balances[tr.PayerID].Add(tr.Amount)
		balances[tr.PayeeID] = balances[tr.PayeeID].Sub(tr.Amount)
	}
	return balances
}

// --- Concrete scenario ---

func TestSimplify_TwoDebtorsOneCreditor(t *testing.T) {
	positions := []model.ParticipantPosition{
		pos("alice", -100),
		pos("bob", 150),
		pos("carol", -50),
	}

	transfers, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d: %+v", len(transfers), transfers)
	}

	// Largest debtor pays first.
	if transfers[0].PayerID != "alice" || transfers[0].PayeeID != "bob" || !transfers[0].Amount.Equal(d(100)) {
		t.Errorf("unexpected first transfer: %+v", transfers[0])
	}
	if transfers[1].PayerID != "carol" || transfers[1].PayeeID != "bob" || !transfers[1].Amount.Equal(d(50)) {
		t.Errorf("unexpected second transfer: %+v", transfers[1])
	}

	total := transfers[0].Amount.Add(transfers[1].Amount)
	if !total.Equal(d(150)) {
		t.Errorf("transfer total should match bob's credit: got %s", total)
	}
}

// --- Zero-sum invariant ---

func TestSimplify_ReturnsEveryoneToZero(t *testing.T) {
	cases := [][]model.ParticipantPosition{
		{pos("a", -100), pos("b", 150), pos("c", -50)},
		{pos("a", -25.50), pos("b", -74.50), pos("c", 30), pos("d", 70)},
		{pos("a", 10), pos("b", -10)},
		{pos("a", -200), pos("b", -300), pos("c", -500), pos("d", 1000)},
	}

	for _, positions := range cases {
		transfers, err := Simplify(positions, tol)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		balances := applyTransfers(positions, transfers)
		for id, bal := range balances {
			if bal.Abs().GreaterThan(tol) {
				t.Errorf("participant %s not settled: balance %s (positions %+v)", id, bal, positions)
			}
		}
	}
}

func TestSimplify_TotalEqualsPositiveNets(t *testing.T) {
	positions := []model.ParticipantPosition{
		pos("a", -60), pos("b", -40), pos("c", 55), pos("d", 45),
	}

	transfers, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	total := decimal.Zero
	for _, tr := range transfers {
		total = total.Add(tr.Amount)
	}
	if !total.Equal(d(100)) {
		t.Errorf("transfer total should equal sum of credits (100), got %s", total)
	}
}

// --- Transfer-count bound ---

func TestSimplify_AtMostNMinusOneTransfers(t *testing.T) {
	positions := []model.ParticipantPosition{
		pos("a", -10), pos("b", -20), pos("c", -30),
		pos("d", 15), pos("e", 25), pos("f", 20),
	}

	transfers, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transfers) > len(positions)-1 {
		t.Errorf("expected at most %d transfers, got %d", len(positions)-1, len(transfers))
	}
}

// --- Determinism / tie-break ---

func TestSimplify_Deterministic(t *testing.T) {
	positions := []model.ParticipantPosition{
		pos("b", 50), pos("a", 50), pos("d", -50), pos("c", -50),
	}

	first, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("runs differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] && !first[i].Amount.Equal(second[i].Amount) {
			t.Errorf("transfer %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}

	// Equal amounts: participant ID ascending wins the tie.
	if first[0].PayeeID != "a" || first[0].PayerID != "c" {
		t.Errorf("tie-break should pick lowest IDs first, got %+v", first[0])
	}
}

// --- Rounding residual ---

func TestSimplify_ResidualCentOnLastTransfer(t *testing.T) {
	// Three-way split: two debtors each owe a third of 100, one creditor is
	// owed two thirds. Each third rounds to 33.33, so a cent goes missing
	// unless the residual is folded into the final transfer.
	oneThird := decimal.NewFromInt(100).DivRound(decimal.NewFromInt(3), 10)
	positions := []model.ParticipantPosition{
		{ParticipantID: "a", NetResult: oneThird.Neg()},
		{ParticipantID: "b", NetResult: oneThird.Neg()},
		{ParticipantID: "c", NetResult: oneThird.Mul(decimal.NewFromInt(2))},
	}

	transfers, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %+v", transfers)
	}

	if !transfers[0].Amount.Equal(d(33.33)) {
		t.Errorf("first transfer should be 33.33, got %s", transfers[0].Amount)
	}
	if !transfers[1].Amount.Equal(d(33.34)) {
		t.Errorf("residual cent should land on the last transfer (33.34), got %s", transfers[1].Amount)
	}

	total := transfers[0].Amount.Add(transfers[1].Amount)
	expected := oneThird.Mul(decimal.NewFromInt(2)).Round(2) // 66.67
	if !total.Equal(expected) {
		t.Errorf("transfer total %s should equal rounded credit %s", total, expected)
	}
}

// --- Edge cases ---

func TestSimplify_ZeroNetParticipantsDropped(t *testing.T) {
	positions := []model.ParticipantPosition{
		pos("a", -50), pos("b", 50), pos("even", 0),
	}

	transfers, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tr := range transfers {
		if tr.PayerID == "even" || tr.PayeeID == "even" {
			t.Errorf("zero-net participant should not appear in transfers: %+v", tr)
		}
	}
}

func TestSimplify_AllZero(t *testing.T) {
	positions := []model.ParticipantPosition{pos("a", 0), pos("b", 0)}
	transfers, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transfers) != 0 {
		t.Errorf("expected no transfers for flat game, got %+v", transfers)
	}
}

func TestSimplify_Empty(t *testing.T) {
	transfers, err := Simplify(nil, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transfers) != 0 {
		t.Errorf("expected no transfers for empty input, got %+v", transfers)
	}
}

func TestSimplify_UnbalancedRejected(t *testing.T) {
	positions := []model.ParticipantPosition{pos("a", -100), pos("b", 90)}
	_, err := Simplify(positions, tol)
	if err != ErrUnbalancedPositions {
		t.Errorf("expected ErrUnbalancedPositions, got %v", err)
	}
}

func TestSimplify_ImbalanceWithinToleranceAccepted(t *testing.T) {
	positions := []model.ParticipantPosition{pos("a", -100), pos("b", 99.99)}
	if _, err := Simplify(positions, tol); err != nil {
		t.Errorf("imbalance within tolerance should be accepted, got %v", err)
	}
}

func TestSimplify_NoSelfPayments(t *testing.T) {
	positions := []model.ParticipantPosition{
		pos("a", -30), pos("b", -70), pos("c", 100),
	}
	transfers, err := Simplify(positions, tol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tr := range transfers {
		if tr.PayerID == tr.PayeeID {
			t.Errorf("self-payment emitted: %+v", tr)
		}
		if !tr.Amount.IsPositive() {
			t.Errorf("non-positive transfer amount: %+v", tr)
		}
	}
}
