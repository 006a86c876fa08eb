package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/chiptally/settle-engine/internal/model"
)

// pgxQuerier is the query surface shared by *pgxpool.Pool and pgx.Tx, so
// the same store methods work inside and outside a transaction.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	db   pgxQuerier
	pool *pgxpool.Pool // nil inside a transaction
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

// InitSchema creates the engine's tables if they do not exist. The lock
// table's primary key is what makes acquire a single atomic check-and-set.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS games (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open',
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS game_transactions (
			id             TEXT PRIMARY KEY,
			game_id        TEXT NOT NULL REFERENCES games(id),
			participant_id TEXT NOT NULL,
			kind           TEXT NOT NULL CHECK (kind IN ('buy_in', 'cash_out')),
			amount         NUMERIC NOT NULL CHECK (amount >= 0),
			created_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_game_transactions_game
			ON game_transactions (game_id);

		CREATE TABLE IF NOT EXISTS settlements (
			id           TEXT PRIMARY KEY,
			game_id      TEXT NOT NULL REFERENCES games(id),
			payer_id     TEXT NOT NULL,
			payee_id     TEXT NOT NULL,
			amount       NUMERIC NOT NULL CHECK (amount > 0),
			status       TEXT NOT NULL DEFAULT 'pending',
			completed_at TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL,
			CHECK (payer_id <> payee_id)
		);
		CREATE INDEX IF NOT EXISTS idx_settlements_game
			ON settlements (game_id);

		CREATE TABLE IF NOT EXISTS calculation_locks (
			game_id      TEXT PRIMARY KEY,
			holder_token TEXT NOT NULL,
			acquired_at  TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS calculation_audit_log (
			id           TEXT PRIMARY KEY,
			game_id      TEXT NOT NULL,
			actor_id     TEXT NOT NULL,
			started_at   TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			status       TEXT NOT NULL,
			detail       TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_audit_game
			ON calculation_audit_log (game_id, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor
			ON calculation_audit_log (actor_id, started_at DESC);
	`)
	return err
}

// --- Games ---

func (s *PostgresStore) CreateGame(ctx context.Context, g *model.Game) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO games (id, name, status, created_at) VALUES ($1, $2, $3, $4)`,
		g.ID, g.Name, g.Status, g.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	err := s.db.QueryRow(ctx,
		`SELECT id, name, status, created_at FROM games WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Status, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get game %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", id, err)
	}
	return &g, nil
}

func (s *PostgresStore) SetGameStatus(ctx context.Context, id, status string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE games SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set game %s status: %w", id, ErrNotFound)
	}
	return nil
}

// --- Ledger ---

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO game_transactions (id, game_id, participant_id, kind, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		t.ID, t.GameID, t.ParticipantID, t.Kind, t.Amount.String(), t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetParticipantPositions(ctx context.Context, gameID string) ([]model.ParticipantPosition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT participant_id,
		        COALESCE(SUM(CASE WHEN kind = 'buy_in'   THEN amount ELSE 0 END), 0)::TEXT AS total_buy_in,
		        COALESCE(SUM(CASE WHEN kind = 'cash_out' THEN amount ELSE 0 END), 0)::TEXT AS total_cash_out
		 FROM game_transactions
		 WHERE game_id = $1
		 GROUP BY participant_id
		 ORDER BY participant_id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.ParticipantPosition
	for rows.Next() {
		var p model.ParticipantPosition
		var buyInS, cashOutS string
		if err := rows.Scan(&p.ParticipantID, &buyInS, &cashOutS); err != nil {
			return nil, err
		}
		p.TotalBuyIn, _ = decimal.NewFromString(buyInS)
		p.TotalCashOut, _ = decimal.NewFromString(cashOutS)
		p.NetResult = p.TotalCashOut.Sub(p.TotalBuyIn)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- Settlements ---

func (s *PostgresStore) InsertSettlements(ctx context.Context, settlements []model.Settlement) error {
	if err := validateSettlements(settlements); err != nil {
		return err
	}
	for _, st := range settlements {
		_, err := s.db.Exec(ctx,
			`INSERT INTO settlements (id, game_id, payer_id, payee_id, amount, status, completed_at, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
			st.ID, st.GameID, st.PayerID, st.PayeeID, st.Amount.String(),
			st.Status, st.CompletedAt, st.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert settlement %s: %w", st.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetSettlementsByGame(ctx context.Context, gameID string) ([]model.Settlement, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, game_id, payer_id, payee_id, amount::TEXT, status, completed_at, created_at
		 FROM settlements
		 WHERE game_id = $1
		 ORDER BY amount DESC, id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []model.Settlement
	for rows.Next() {
		var st model.Settlement
		var amountS string
		if err := rows.Scan(&st.ID, &st.GameID, &st.PayerID, &st.PayeeID,
			&amountS, &st.Status, &st.CompletedAt, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Amount, _ = decimal.NewFromString(amountS)
		settlements = append(settlements, st)
	}
	return settlements, rows.Err()
}

func (s *PostgresStore) MarkSettlementCompleted(ctx context.Context, settlementID string, at time.Time) (string, error) {
	var gameID string
	err := s.db.QueryRow(ctx,
		`UPDATE settlements
		 SET status = 'completed',
		     completed_at = COALESCE(completed_at, $2)
		 WHERE id = $1
		 RETURNING game_id`,
		settlementID, at).Scan(&gameID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("mark settlement %s completed: %w", settlementID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("mark settlement %s completed: %w", settlementID, err)
	}
	return gameID, nil
}

// --- Calculation locks ---

// AcquireLock is a single conditional upsert: the primary key on game_id
// plus the expiry condition make the check-and-set atomic, so two callers
// can never both believe they hold the lock.
func (s *PostgresStore) AcquireLock(ctx context.Context, gameID, holderToken string, now time.Time, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO calculation_locks (game_id, holder_token, acquired_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (game_id) DO UPDATE
		    SET holder_token = EXCLUDED.holder_token,
		        acquired_at  = EXCLUDED.acquired_at,
		        expires_at   = EXCLUDED.expires_at
		  WHERE calculation_locks.expires_at < $3`,
		gameID, holderToken, now, now.Add(ttl),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, gameID, holderToken string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM calculation_locks WHERE game_id = $1 AND holder_token = $2`,
		gameID, holderToken,
	)
	return err
}

func (s *PostgresStore) DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM calculation_locks WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Audit log ---

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO calculation_audit_log (id, game_id, actor_id, started_at, completed_at, status, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.GameID, e.ActorID, e.StartedAt, e.CompletedAt, string(e.Status), e.Detail,
	)
	return err
}

func (s *PostgresStore) GetAuditByGame(ctx context.Context, gameID string, limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, game_id, actor_id, started_at, completed_at, status, detail
		 FROM calculation_audit_log
		 WHERE game_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`, gameID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func (s *PostgresStore) GetAuditByActor(ctx context.Context, actorID string, limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, game_id, actor_id, started_at, completed_at, status, detail
		 FROM calculation_audit_log
		 WHERE actor_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows pgx.Rows) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var status string
		if err := rows.Scan(&e.ID, &e.GameID, &e.ActorID,
			&e.StartedAt, &e.CompletedAt, &status, &e.Detail); err != nil {
			return nil, err
		}
		e.Status = model.Outcome(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Atomic unit of work ---

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		return ErrNestedTx
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PostgresStore{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
