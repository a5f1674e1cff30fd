package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"game-session-worker/internal/bus"
	"game-session-worker/internal/model"
	"game-session-worker/internal/repository"
)

// Outcome is a requested terminal transition.
type Outcome struct {
	Status model.Status
	Payout int64
	// State is the final state snapshot; nil keeps the current document.
	State json.RawMessage
}

// Finalizer converts a terminal outcome into a persisted payout and a
// completion event, exactly once per session. The terminal write, the
// ledger row, and the completion notification share one transaction;
// Postgres delivers the notification only on commit, so a rolled-back
// finalization announces nothing.
type Finalizer struct {
	repo   *repository.SessionRepository
	ledger *repository.PayoutLedger
}

// NewFinalizer creates a new Finalizer.
func NewFinalizer(repo *repository.SessionRepository, ledger *repository.PayoutLedger) *Finalizer {
	return &Finalizer{repo: repo, ledger: ledger}
}

// Finalize re-reads the session under an exclusive lock and applies the
// outcome. Returns the finalized session and true, or nil and false when
// the session was no longer in_progress - a duplicate event or lost race,
// not an error.
func (f *Finalizer) Finalize(ctx context.Context, sessionID string, out Outcome) (*model.Session, bool, error) {
	tx, err := f.repo.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	s, err := f.repo.GetForUpdate(ctx, tx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if s.Status != model.StatusInProgress {
		// Already finalized by a concurrent worker or a racing timer
		return nil, false, nil
	}

	if err := f.FinalizeInTx(ctx, tx, s, out); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit finalization: %w", err)
	}

	log.Info().
		Str("session_id", s.ID).
		Str("status", string(out.Status)).
		Int64("payout", out.Payout).
		Msg("Session finalized")

	return s, true, nil
}

// FinalizeInTx applies the outcome within an open transaction whose caller
// already holds the row lock and has verified the session is in_progress.
// Updates s in place.
func (f *Finalizer) FinalizeInTx(ctx context.Context, tx pgx.Tx, s *model.Session, out Outcome) error {
	state := out.State
	if state == nil {
		state = s.State
	}

	if err := f.repo.Complete(ctx, tx, s.ID, out.Status, out.Payout, state); err != nil {
		return err
	}

	if err := f.ledger.Record(ctx, tx, s.ID, out.Status, s.Stake, out.Payout); err != nil {
		return err
	}

	event := model.CompletedEvent{
		SessionID: s.ID,
		Status:    out.Status,
		Payout:    out.Payout,
	}
	if err := bus.PublishTx(ctx, tx, model.ChannelSessionCompleted, event); err != nil {
		return err
	}

	s.Status = out.Status
	s.Payout = out.Payout
	s.State = state
	return nil
}
