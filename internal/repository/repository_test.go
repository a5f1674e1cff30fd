// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"game-session-worker/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	// Create PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	// Get connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Create connection pool
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	// Run migrations
	err = runMigrations(ctx, pool)
	require.NoError(t, err)

	// Return cleanup function
	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// runMigrations applies the database schema
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Create sessions table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending_claim',
			archetype TEXT NOT NULL,
			stake BIGINT NOT NULL,
			payout BIGINT NOT NULL DEFAULT 0,
			state JSONB NOT NULL DEFAULT '{}',
			initiator_id BIGINT NOT NULL,
			initiator_name TEXT NOT NULL DEFAULT '',
			opponent_id BIGINT,
			opponent_name TEXT,
			chat_id BIGINT NOT NULL,
			claimed_by TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON sessions(status, created_at);
	`)
	if err != nil {
		return err
	}

	// Create payout ledger table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS session_payouts (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			stake BIGINT NOT NULL,
			payout BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_session_payouts_session ON session_payouts(session_id);
	`)
	return err
}

// insertPending seeds one pending_claim session and returns its ID.
func insertPending(t *testing.T, repo *SessionRepository, archetype model.Archetype) string {
	t.Helper()

	id := uuid.NewString()
	err := repo.Insert(context.Background(), &model.Session{
		ID:            id,
		Status:        model.StatusPendingClaim,
		Archetype:     archetype,
		Stake:         1000,
		InitiatorID:   12345,
		InitiatorName: "testuser",
		ChatID:        -100,
	})
	require.NoError(t, err)
	return id
}

// ============================================================================
// SessionRepository Tests
// ============================================================================

func TestSessionRepository_GetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	id := insertPending(t, repo, model.ArchetypeEscalate)

	s, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, model.StatusPendingClaim, s.Status)
	assert.Equal(t, model.ArchetypeEscalate, s.Archetype)
	assert.Equal(t, int64(1000), s.Stake)
	assert.Nil(t, s.ClaimedBy)

	// Non-existent session
	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRepository_ClaimBindsWorkerAndState(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	id := insertPending(t, repo, model.ArchetypeEscalate)
	initState := json.RawMessage(`{"rolls":[],"multiplier":100,"turn":0}`)

	claimed, err := repo.Claim(ctx, id, "worker-a", initState)
	require.NoError(t, err)
	assert.True(t, claimed)

	s, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, s.Status)
	require.NotNil(t, s.ClaimedBy)
	assert.Equal(t, "worker-a", *s.ClaimedBy)
	assert.JSONEq(t, string(initState), string(s.State))

	// A second claim loses silently
	claimed, err = repo.Claim(ctx, id, "worker-b", initState)
	require.NoError(t, err)
	assert.False(t, claimed)

	s, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", *s.ClaimedBy)
}

func TestSessionRepository_ConcurrentClaimsOneWinner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	id := insertPending(t, repo, model.ArchetypeLadder)
	initState := json.RawMessage(`{"round":1,"shots":0,"phase":"awaiting_shot"}`)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claimed, err := repo.Claim(ctx, id, uuid.NewString(), initState)
			require.NoError(t, err)
			results[n] = claimed
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range results {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestSessionRepository_SaveStateRequiresInProgress(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	id := insertPending(t, repo, model.ArchetypeEscalate)

	// Still pending_claim - no write allowed
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	err = repo.SaveState(ctx, tx, id, json.RawMessage(`{"turn":1}`))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_ = tx.Rollback(ctx)

	claimed, err := repo.Claim(ctx, id, "worker-a", json.RawMessage(`{"turn":0}`))
	require.NoError(t, err)
	require.True(t, claimed)

	tx, err = repo.Begin(ctx)
	require.NoError(t, err)
	_, err = repo.GetForUpdate(ctx, tx, id)
	require.NoError(t, err)
	err = repo.SaveState(ctx, tx, id, json.RawMessage(`{"turn":1}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	s, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"turn":1}`, string(s.State))
}

func TestSessionRepository_CompleteIsTerminalOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	id := insertPending(t, repo, model.ArchetypeEscalate)
	claimed, err := repo.Claim(ctx, id, "worker-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, claimed)

	// Non-terminal status rejected outright
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	err = repo.Complete(ctx, tx, id, model.StatusInProgress, 0, json.RawMessage(`{}`))
	assert.Error(t, err)
	_ = tx.Rollback(ctx)

	tx, err = repo.Begin(ctx)
	require.NoError(t, err)
	err = repo.Complete(ctx, tx, id, model.StatusCompletedWin, 2000, json.RawMessage(`{"turn":9}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	s, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompletedWin, s.Status)
	assert.Equal(t, int64(2000), s.Payout)

	// Terminal statuses are final: a second completion finds no row
	tx, err = repo.Begin(ctx)
	require.NoError(t, err)
	err = repo.Complete(ctx, tx, id, model.StatusCompletedLoss, 0, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_ = tx.Rollback(ctx)
}

func TestSessionRepository_ListPendingClaim(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	first := insertPending(t, repo, model.ArchetypeEscalate)
	time.Sleep(10 * time.Millisecond)
	second := insertPending(t, repo, model.ArchetypeLadder)
	time.Sleep(10 * time.Millisecond)
	third := insertPending(t, repo, model.ArchetypeDuel)

	// A claimed session disappears from the scan
	claimed, err := repo.Claim(ctx, second, "worker-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, claimed)

	ids, err := repo.ListPendingClaim(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{first, third}, ids)

	// Limit bounds the batch, oldest first
	ids, err = repo.ListPendingClaim(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, ids)
}

// ============================================================================
// PayoutLedger Tests
// ============================================================================

func TestPayoutLedger_RecordAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ledger := NewPayoutLedger(pool)
	ctx := context.Background()

	id := insertPending(t, repo, model.ArchetypeEscalate)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	err = ledger.Record(ctx, tx, id, model.StatusCompletedCashout, 1000, 3370)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	entries, err := ledger.GetBySessionID(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StatusCompletedCashout, entries[0].Status)
	assert.Equal(t, int64(1000), entries[0].Stake)
	assert.Equal(t, int64(3370), entries[0].Payout)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestPayoutLedger_OneEntryPerSession(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ledger := NewPayoutLedger(pool)
	ctx := context.Background()

	id := insertPending(t, repo, model.ArchetypeEscalate)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(ctx, tx, id, model.StatusCompletedWin, 1000, 2000))
	require.NoError(t, tx.Commit(ctx))

	// The unique index forbids a second ledger row for the session
	tx, err = repo.Begin(ctx)
	require.NoError(t, err)
	err = ledger.Record(ctx, tx, id, model.StatusCompletedLoss, 1000, 0)
	assert.Error(t, err)
	_ = tx.Rollback(ctx)
}
