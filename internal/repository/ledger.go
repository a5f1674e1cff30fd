package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-worker/internal/model"
)

// PayoutEntry is one row of the payout ledger: the audit record written in
// the same transaction as the terminal status.
type PayoutEntry struct {
	ID        int64        `db:"id"`
	SessionID string       `db:"session_id"`
	Status    model.Status `db:"status"`
	Stake     int64        `db:"stake"`
	Payout    int64        `db:"payout"`
	CreatedAt time.Time    `db:"created_at"`
}

// PayoutLedger records finalized payouts.
type PayoutLedger struct {
	pool *pgxpool.Pool
}

// NewPayoutLedger creates a new PayoutLedger instance.
func NewPayoutLedger(pool *pgxpool.Pool) *PayoutLedger {
	return &PayoutLedger{pool: pool}
}

// Record inserts a ledger row within tx. Called by the finalizer so the
// ledger commits or rolls back together with the terminal status.
func (l *PayoutLedger) Record(ctx context.Context, tx pgx.Tx, sessionID string, status model.Status, stake, payout int64) error {
	const query = `
		INSERT INTO session_payouts (session_id, status, stake, payout, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	_, err := tx.Exec(ctx, query, sessionID, status, stake, payout)
	if err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return nil
}

// GetBySessionID retrieves ledger rows for a session, newest first.
func (l *PayoutLedger) GetBySessionID(ctx context.Context, sessionID string) ([]*PayoutEntry, error) {
	const query = `
		SELECT id, session_id, status, stake, payout, created_at
		FROM session_payouts
		WHERE session_id = $1
		ORDER BY created_at DESC
	`

	rows, err := l.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payouts: %w", err)
	}
	defer rows.Close()

	var entries []*PayoutEntry
	for rows.Next() {
		var e PayoutEntry
		err := rows.Scan(&e.ID, &e.SessionID, &e.Status, &e.Stake, &e.Payout, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payouts: %w", err)
	}

	return entries, nil
}
