// Package game defines the state-machine interface shared by all session
// archetypes and the registry that dispatches on the archetype tag.
package game

import (
	"encoding/json"
	"errors"

	"game-session-worker/internal/model"
)

// Rejection errors. Actions rejected this way must not mutate state; the
// caller drops them silently (expected races and misrouted input, not
// faults).
var (
	// ErrRejected is the class all rejection errors wrap.
	ErrRejected = errors.New("action rejected")

	// ErrNotYourTurn means the acting participant does not own the turn.
	ErrNotYourTurn = errors.New("action rejected: not this actor's turn")

	// ErrActionNotAllowed means the action kind is not valid in the
	// session's current phase.
	ErrActionNotAllowed = errors.New("action rejected: not allowed in current phase")

	// ErrInvalidRoll means the roll value is outside the alphabet.
	ErrInvalidRoll = errors.New("action rejected: roll value out of range")
)

// ErrBadState means the state document could not be decoded for the
// archetype. Unlike rejections, this is a logic fault: the session must be
// forced to a terminal error status rather than left stuck.
var ErrBadState = errors.New("malformed state document")

// IsRejection reports whether err is a silent-drop rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrNotYourTurn) ||
		errors.Is(err, ErrActionNotAllowed) ||
		errors.Is(err, ErrInvalidRoll)
}

// Participants identifies the session's actors for state initialization.
type Participants struct {
	InitiatorID int64
	OpponentID  int64 // zero for single-actor archetypes
}

// TurnResult is the outcome of one accepted action.
type TurnResult struct {
	// State is the updated state document to persist.
	State json.RawMessage
	// Terminal reports whether the session reached a terminal outcome.
	Terminal bool
	// Status is the terminal status; only meaningful when Terminal.
	Status model.Status
	// Payout is the final payout in smallest currency units; only
	// meaningful when Terminal.
	Payout int64
}

// Machine advances one archetype's sessions. Implementations must be pure
// over (state, stake, action): no I/O, no randomness, deterministic output.
type Machine interface {
	// Archetype returns the tag this machine governs.
	Archetype() model.Archetype

	// InitialState builds the state document written during the claim.
	InitialState(p Participants) (json.RawMessage, error)

	// Advance applies one player action. Rejected actions return an error
	// satisfying IsRejection and leave state untouched.
	Advance(state json.RawMessage, stake int64, action model.Action) (*TurnResult, error)
}
