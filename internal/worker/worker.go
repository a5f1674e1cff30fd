// Package worker coordinates session ownership and turn handling. Many
// interchangeable workers subscribe to the same bus; the conditional-update
// claim and the row-level lock on every transition guarantee that exactly
// one of them advances any given session.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"game-session-worker/internal/bus"
	"game-session-worker/internal/game"
	"game-session-worker/internal/model"
	"game-session-worker/internal/pkg/lock"
	"game-session-worker/internal/repository"
	"game-session-worker/internal/timeout"
)

// handleTimeout bounds each event handler's database work.
const handleTimeout = 30 * time.Second

// PromptView is the state snapshot handed to the prompt renderer. The
// renderer owns formatting and delivery; the worker owns the data.
type PromptView struct {
	SessionID string
	Archetype model.Archetype
	Stake     int64
	ActorName string
	State     json.RawMessage
}

// ResultView is the outcome snapshot handed to the result renderer.
type ResultView struct {
	SessionID string
	Archetype model.Archetype
	Status    model.Status
	ActorName string
	Stake     int64
	Payout    int64
}

// Prompter delivers and retracts turn prompts and announces outcomes.
// Implemented by the messaging collaborator; delivery is best-effort and
// never blocks a committed state transition.
type Prompter interface {
	SendPrompt(ctx context.Context, chatID int64, view PromptView) (string, error)
	DeletePrompt(ctx context.Context, chatID int64, handle string) error
	SendResult(ctx context.Context, chatID int64, view ResultView) error
}

// Worker claims pending sessions and advances them turn by turn.
type Worker struct {
	id          string
	repo        *repository.SessionRepository
	finalizer   *Finalizer
	registry    *game.Registry
	prompter    Prompter
	timeouts    *timeout.Manager
	locks       *lock.SessionLock
	turnTimeout time.Duration
}

// Dependencies holds everything a Worker needs.
type Dependencies struct {
	Repo        *repository.SessionRepository
	Ledger      *repository.PayoutLedger
	Registry    *game.Registry
	Bus         *bus.Bus
	Prompter    Prompter
	TurnTimeout time.Duration
}

// New creates a Worker with a unique identity and registers its bus
// handlers.
func New(deps *Dependencies) (*Worker, error) {
	if deps.Registry == nil || deps.Registry.Count() == 0 {
		return nil, fmt.Errorf("no game machines registered")
	}

	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}

	w := &Worker{
		id:          host + "-" + uuid.NewString(),
		repo:        deps.Repo,
		finalizer:   NewFinalizer(deps.Repo, deps.Ledger),
		registry:    deps.Registry,
		prompter:    deps.Prompter,
		timeouts:    timeout.NewManager(),
		locks:       lock.NewSessionLock(),
		turnTimeout: deps.TurnTimeout,
	}
	if w.turnTimeout <= 0 {
		w.turnTimeout = time.Minute
	}

	deps.Bus.Subscribe(model.ChannelSessionClaimable, w.onSessionClaimable)
	deps.Bus.Subscribe(model.ChannelTurnSubmitted, w.onTurnSubmitted)

	log.Info().Str("worker_id", w.id).Msg("Worker registered on bus")
	return w, nil
}

// ID returns the worker's identity as recorded in claimed_by.
func (w *Worker) ID() string {
	return w.id
}

// Stop cancels all pending turn timers. Claimed sessions stay in_progress;
// recovering sessions orphaned by a dead worker is operator tooling's job.
func (w *Worker) Stop() {
	w.timeouts.Stop()
}

// onSessionClaimable handles a claim event. Races are expected: any number
// of workers receive the same event and at most one conditional update
// wins.
func (w *Worker) onSessionClaimable(ctx context.Context, payload []byte) {
	var ev model.ClaimableEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed claim event")
		return
	}
	if ev.SessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	err := w.locks.WithLock(ev.SessionID, func() error {
		return w.claim(ctx, ev.SessionID)
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", ev.SessionID).Msg("Claim attempt failed")
	}
}

// claim attempts the pending_claim -> in_progress transition and, on
// success, issues the first prompt and arms the turn timer.
func (w *Worker) claim(ctx context.Context, sessionID string) error {
	s, err := w.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if s.Status != model.StatusPendingClaim {
		// Another worker got there first
		return nil
	}

	machine, ok := w.registry.Get(s.Archetype)
	if !ok {
		return w.forceError(ctx, s, fmt.Errorf("unrecognized archetype %q", s.Archetype))
	}

	initState, err := machine.InitialState(participants(s))
	if err != nil {
		return w.forceError(ctx, s, err)
	}

	claimed, err := w.repo.Claim(ctx, s.ID, w.id, initState)
	if err != nil {
		return err
	}
	if !claimed {
		// Lost the race - harmless
		return nil
	}

	log.Info().
		Str("session_id", s.ID).
		Str("archetype", string(s.Archetype)).
		Int64("stake", s.Stake).
		Msg("Session claimed")

	s.Status = model.StatusInProgress
	s.State = initState
	w.prompt(ctx, s)
	return nil
}

// onTurnSubmitted handles one player action event.
func (w *Worker) onTurnSubmitted(ctx context.Context, payload []byte) {
	var ev model.TurnEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed turn event")
		return
	}
	if ev.SessionID == "" {
		return
	}
	if ev.Action == "" {
		ev.Action = model.ActionRoll
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	err := w.locks.WithLock(ev.SessionID, func() error {
		return w.advance(ctx, &ev)
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", ev.SessionID).Msg("Turn handling failed")
	}
}

// advance applies one action inside a single transaction under the row
// lock. Rejected actions roll back without touching the timer; accepted
// non-terminal turns re-prompt and re-arm it; terminal turns finalize in
// the same transaction.
func (w *Worker) advance(ctx context.Context, ev *model.TurnEvent) error {
	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	s, err := w.repo.GetForUpdate(ctx, tx, ev.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if s.Status != model.StatusInProgress {
		// Late action after finalization (e.g. a timeout won the race)
		log.Debug().Str("session_id", s.ID).Str("status", string(s.Status)).
			Msg("Rejecting action for non-running session")
		return nil
	}
	if s.ClaimedBy == nil || *s.ClaimedBy != w.id {
		// Another worker owns this session; its prompt and timer live there
		return nil
	}
	if !actorAllowed(s, ev.ActorID) {
		log.Debug().Str("session_id", s.ID).Int64("actor_id", ev.ActorID).
			Msg("Rejecting action from non-participant")
		return nil
	}

	machine, ok := w.registry.Get(s.Archetype)
	if !ok {
		return w.failInTx(ctx, tx, s, fmt.Errorf("unrecognized archetype %q", s.Archetype))
	}

	action := model.Action{Kind: ev.Action, Roll: ev.Roll, ActorID: ev.ActorID}
	res, err := machine.Advance(s.State, s.Stake, action)
	if err != nil {
		if game.IsRejection(err) {
			// Expected misrouted or mistimed input; state and timer stand
			log.Debug().Err(err).Str("session_id", s.ID).Msg("Action rejected")
			return nil
		}
		if errors.Is(err, game.ErrBadState) {
			return w.failInTx(ctx, tx, s, err)
		}
		return err
	}

	if res.Terminal {
		out := Outcome{Status: res.Status, Payout: res.Payout, State: res.State}
		if err := w.finalizer.FinalizeInTx(ctx, tx, s, out); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit terminal turn: %w", err)
		}

		// Cancelled only once the outcome is durable; a failed commit keeps
		// the deadline so an abandoned session still times out.
		w.timeouts.Cancel(s.ID)

		log.Info().
			Str("session_id", s.ID).
			Str("status", string(res.Status)).
			Int64("payout", res.Payout).
			Msg("Session finalized")

		w.cleanupPrompt(ctx, s)
		w.locks.Release(s.ID)
		return nil
	}

	// Preserve the current prompt handle across the state swap; prompt()
	// replaces it after commit.
	next := res.State
	if old := model.PromptID(s.State); old != "" {
		if patched, err := model.WithPromptID(next, old); err == nil {
			next = patched
		}
	}

	if err := w.repo.SaveState(ctx, tx, s.ID, next); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	s.State = next
	w.prompt(ctx, s)
	return nil
}

// failInTx forces the session to a terminal error status with zero payout.
// A stuck in_progress session would block its player indefinitely; a
// surfaced zero-payout loss does not.
func (w *Worker) failInTx(ctx context.Context, tx pgx.Tx, s *model.Session, cause error) error {
	log.Error().Err(cause).Str("session_id", s.ID).Msg("Forcing session to error status")

	out := Outcome{Status: model.StatusError, Payout: 0}
	if err := w.finalizer.FinalizeInTx(ctx, tx, s, out); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit error status: %w", err)
	}

	w.timeouts.Cancel(s.ID)

	w.cleanupPrompt(ctx, s)
	w.locks.Release(s.ID)
	return nil
}

// forceError claims an unplayable session and finalizes it as an error so
// it does not linger in pending_claim. Claim and terminal write share one
// transaction; a crash between them cannot leave the session in_progress.
func (w *Worker) forceError(ctx context.Context, s *model.Session, cause error) error {
	log.Error().Err(cause).Str("session_id", s.ID).Msg("Session cannot be initialized, forcing error status")

	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	claimed, err := w.repo.ClaimInTx(ctx, tx, s.ID, w.id, json.RawMessage(`{}`))
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	s.State = json.RawMessage(`{}`)
	if err := w.finalizer.FinalizeInTx(ctx, tx, s, Outcome{Status: model.StatusError, Payout: 0}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit error status: %w", err)
	}

	w.cleanupPrompt(ctx, s)
	return nil
}

// onTimeout force-finalizes a session whose player never acted. The status
// check under the row lock makes this a no-op if a legitimate action won.
func (w *Worker) onTimeout(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	err := w.locks.WithLock(sessionID, func() error {
		s, done, err := w.finalizer.Finalize(ctx, sessionID, Outcome{
			Status: model.StatusCompletedTimeout,
			Payout: 0,
		})
		if err != nil {
			return err
		}
		if done {
			log.Info().Str("session_id", sessionID).Msg("Session timed out")
			w.cleanupPrompt(ctx, s)
			w.locks.Release(sessionID)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Timeout finalization failed")
	}
}

// prompt sends the next turn prompt, records its handle, and arms the turn
// timer. Prompt delivery is best-effort: the timer is armed even when the
// messenger fails, so an undeliverable prompt still times the session out.
func (w *Worker) prompt(ctx context.Context, s *model.Session) {
	old := model.PromptID(s.State)

	view := PromptView{
		SessionID: s.ID,
		Archetype: s.Archetype,
		Stake:     s.Stake,
		ActorName: currentActorName(s),
		State:     s.State,
	}

	handle, err := w.prompter.SendPrompt(ctx, s.ChatID, view)
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to send prompt")
	}

	if old != "" && old != handle {
		if err := w.prompter.DeletePrompt(ctx, s.ChatID, old); err != nil {
			log.Debug().Err(err).Str("session_id", s.ID).Msg("Failed to delete stale prompt")
		}
	}

	if handle != "" && handle != old {
		if err := w.savePromptHandle(ctx, s, handle); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to record prompt handle")
		}
	}

	w.timeouts.Arm(s.ID, w.turnTimeout, w.onTimeout)
}

// savePromptHandle persists the new prompt handle into the state document,
// guarded by the row lock so it never resurrects a finalized session.
func (w *Worker) savePromptHandle(ctx context.Context, s *model.Session, handle string) error {
	patched, err := model.WithPromptID(s.State, handle)
	if err != nil {
		return err
	}

	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	cur, err := w.repo.GetForUpdate(ctx, tx, s.ID)
	if err != nil {
		return err
	}
	if cur.Status != model.StatusInProgress {
		return nil
	}

	if err := w.repo.SaveState(ctx, tx, s.ID, patched); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.State = patched
	return nil
}

// cleanupPrompt deletes the final prompt of a finished session and
// announces the outcome. A session must never vanish silently: even a
// forced-error termination surfaces as a zero-payout result.
func (w *Worker) cleanupPrompt(ctx context.Context, s *model.Session) {
	if handle := model.PromptID(s.State); handle != "" {
		if err := w.prompter.DeletePrompt(ctx, s.ChatID, handle); err != nil {
			log.Debug().Err(err).Str("session_id", s.ID).Msg("Failed to delete final prompt")
		}
	}

	name := s.InitiatorName
	if s.Status == model.StatusCompletedP2Win && s.OpponentName != nil {
		name = *s.OpponentName
	}

	result := ResultView{
		SessionID: s.ID,
		Archetype: s.Archetype,
		Status:    s.Status,
		ActorName: name,
		Stake:     s.Stake,
		Payout:    s.Payout,
	}
	if err := w.prompter.SendResult(ctx, s.ChatID, result); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to announce outcome")
	}
}

// participants extracts the actor identifiers for state initialization.
func participants(s *model.Session) game.Participants {
	p := game.Participants{InitiatorID: s.InitiatorID}
	if s.OpponentID != nil {
		p.OpponentID = *s.OpponentID
	}
	return p
}

// actorAllowed checks that the actor belongs to the session. Turn ownership
// within a duel is the machine's check; this only filters strangers.
func actorAllowed(s *model.Session, actorID int64) bool {
	if actorID == s.InitiatorID {
		return true
	}
	if s.OpponentID != nil && actorID == *s.OpponentID {
		return true
	}
	return false
}

// currentActorName resolves the display name of whoever owns the turn.
func currentActorName(s *model.Session) string {
	if s.Archetype == model.ArchetypeDuel && s.OpponentID != nil && s.OpponentName != nil {
		var st model.DuelState
		if err := json.Unmarshal(s.State, &st); err == nil && st.CurrentTurn == *s.OpponentID {
			return *s.OpponentName
		}
	}
	return s.InitiatorName
}
