// Package repository provides data access for session rows and the payout
// ledger. The sessions table is the single source of truth for ownership:
// owning a session is holding it in in_progress, acquired by the
// conditional-update claim below.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-worker/internal/model"
)

// Common errors for repository operations.
var (
	ErrSessionNotFound = errors.New("session not found")
)

const sessionColumns = `id, status, archetype, stake, payout, state,
		initiator_id, initiator_name, opponent_id, opponent_name,
		chat_id, claimed_by, created_at, updated_at`

// SessionRepository handles session persistence.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Begin starts a transaction for a read-modify-write sequence. Every state
// transition (claim aside, which is a single statement) must run inside one.
func (r *SessionRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.Status,
		&s.Archetype,
		&s.Stake,
		&s.Payout,
		&s.State,
		&s.InitiatorID,
		&s.InitiatorName,
		&s.OpponentID,
		&s.OpponentName,
		&s.ChatID,
		&s.ClaimedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}

// GetByID retrieves a session without locking it.
// Returns ErrSessionNotFound if the session does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetForUpdate retrieves a session under a row-level exclusive lock within
// tx. Concurrent transitions for the same session serialize on this lock.
func (r *SessionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	return scanSession(tx.QueryRow(ctx, query, id))
}

const claimQuery = `
	UPDATE sessions
	SET status = $2, claimed_by = $3, state = $4, updated_at = NOW()
	WHERE id = $1 AND status = $5
`

// Claim transitions a session from pending_claim to in_progress, binding
// the claiming worker and writing the archetype's initial state document in
// one atomic statement. Returns false when another worker already claimed
// the session - an expected race, not an error.
func (r *SessionRepository) Claim(ctx context.Context, id, workerID string, initState json.RawMessage) (bool, error) {
	tag, err := r.pool.Exec(ctx, claimQuery, id,
		model.StatusInProgress, workerID, initState, model.StatusPendingClaim)
	if err != nil {
		return false, fmt.Errorf("failed to claim session: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ClaimInTx performs the claim inside an open transaction, for callers that
// must make the claim and a follow-up write land or vanish together.
func (r *SessionRepository) ClaimInTx(ctx context.Context, tx pgx.Tx, id, workerID string, initState json.RawMessage) (bool, error) {
	tag, err := tx.Exec(ctx, claimQuery, id,
		model.StatusInProgress, workerID, initState, model.StatusPendingClaim)
	if err != nil {
		return false, fmt.Errorf("failed to claim session: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// SaveState persists a new state document for an in-progress session within
// tx. The caller must hold the row lock via GetForUpdate.
func (r *SessionRepository) SaveState(ctx context.Context, tx pgx.Tx, id string, state json.RawMessage) error {
	const query = `
		UPDATE sessions
		SET state = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`

	tag, err := tx.Exec(ctx, query, id, state, model.StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Complete writes the terminal status, final payout, and final state
// snapshot within tx. The caller must hold the row lock and have verified
// the session is still in_progress; the status guard here is a backstop.
func (r *SessionRepository) Complete(ctx context.Context, tx pgx.Tx, id string, status model.Status, payout int64, state json.RawMessage) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	const query = `
		UPDATE sessions
		SET status = $2, payout = $3, state = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`

	tag, err := tx.Exec(ctx, query, id, status, payout, state, model.StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListPendingClaim returns the IDs of sessions still waiting to be claimed,
// oldest first, bounded by limit. The fallback poller re-publishes claim
// events for these.
func (r *SessionRepository) ListPendingClaim(ctx context.Context, limit int) ([]string, error) {
	const query = `
		SELECT id
		FROM sessions
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, model.StatusPendingClaim, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending sessions: %w", err)
	}

	return ids, nil
}

// Insert creates a session row. Session creation belongs to the placement
// front end; this exists for tests and tooling.
func (r *SessionRepository) Insert(ctx context.Context, s *model.Session) error {
	const query = `
		INSERT INTO sessions (id, status, archetype, stake, payout, state,
			initiator_id, initiator_name, opponent_id, opponent_name,
			chat_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`

	state := s.State
	if state == nil {
		state = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Status, s.Archetype, s.Stake, s.Payout, state,
		s.InitiatorID, s.InitiatorName, s.OpponentID, s.OpponentName,
		s.ChatID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}
