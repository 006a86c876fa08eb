// Package model defines the core domain types shared across the settle engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Game statuses. Settlement calculation is only permitted once a game
// has been marked completed.
const (
	GameStatusOpen      = "open"
	GameStatusCompleted = "completed"
)

// Transaction kinds recorded against a game's ledger.
const (
	TxBuyIn   = "buy_in"
	TxCashOut = "cash_out"
)

// Settlement statuses.
const (
	SettlementPending   = "pending"
	SettlementCompleted = "completed"
)

// Outcome classifies the result of one calculation attempt. Business
// outcomes are values, not errors: "already calculated" and "in progress"
// are expected, frequent results.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeAlreadyCalculated Outcome = "already_calculated"
	OutcomeInProgress        Outcome = "in_progress"
	OutcomeRejected          Outcome = "rejected"
	OutcomeFailed            Outcome = "failed"
)

// Game is the collaborator surface this core reads: the engine only needs
// a game's completion status and its transaction ledger.
type Game struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Status    string    `json:"status" db:"status"` // "open", "completed"
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Transaction is an immutable buy-in or cash-out ledger entry.
// Once created, these are never modified or deleted by this core.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	GameID        string          `json:"game_id" db:"game_id"`
	ParticipantID string          `json:"participant_id" db:"participant_id"`
	Kind          string          `json:"kind" db:"kind"` // "buy_in" or "cash_out"
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// ParticipantPosition is one participant's aggregate stake in a game.
// Derived from the transaction ledger at calculation time; never persisted
// independently of it. NetResult is always CashOut - BuyIn exactly.
type ParticipantPosition struct {
	ParticipantID string          `json:"participant_id"`
	TotalBuyIn    decimal.Decimal `json:"total_buy_in"`
	TotalCashOut  decimal.Decimal `json:"total_cash_out"`
	NetResult     decimal.Decimal `json:"net_result"` // cashOut - buyIn
}

// LedgerSnapshot is an immutable point-in-time view of a game's ledger,
// captured under the calculation lock. Computed, used, discarded.
type LedgerSnapshot struct {
	GameID       string                `json:"game_id"`
	Positions    []ParticipantPosition `json:"positions"`
	TotalBuyIn   decimal.Decimal       `json:"total_buy_in"`
	TotalCashOut decimal.Decimal       `json:"total_cash_out"`
}

// Settlement is one payer→payee transfer produced by a successful
// calculation. The long-lived artifact consumers read.
type Settlement struct {
	ID          string          `json:"id" db:"id"`
	GameID      string          `json:"game_id" db:"game_id"`
	PayerID     string          `json:"payer_id" db:"payer_id"`
	PayeeID     string          `json:"payee_id" db:"payee_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      string          `json:"status" db:"status"` // "pending", "completed"
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// CalculationLock serializes calculation attempts for one game. Exactly one
// live lock per game; owned by the in-flight attempt that created it.
type CalculationLock struct {
	GameID      string    `json:"game_id" db:"game_id"`
	HolderToken string    `json:"holder_token" db:"holder_token"`
	AcquiredAt  time.Time `json:"acquired_at" db:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
}

// AuditEntry records one calculation attempt. Append-only, never mutated.
type AuditEntry struct {
	ID          string    `json:"id" db:"id"`
	GameID      string    `json:"game_id" db:"game_id"`
	ActorID     string    `json:"actor_id" db:"actor_id"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
	Status      Outcome   `json:"status" db:"status"`
	Detail      string    `json:"detail,omitempty" db:"detail"`
}
