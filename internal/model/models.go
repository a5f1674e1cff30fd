// Package model defines the data models for the wager session worker.
package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle status of a session. Transitions are monotonic:
// pending_claim -> in_progress -> exactly one terminal status.
type Status string

// Session statuses.
const (
	StatusPendingClaim Status = "pending_claim"
	StatusInProgress   Status = "in_progress"

	StatusCompletedWin     Status = "completed_win"
	StatusCompletedLoss    Status = "completed_loss"
	StatusCompletedCashout Status = "completed_cashout"
	StatusCompletedTimeout Status = "completed_timeout"
	StatusCompletedP1Win   Status = "completed_p1_win"
	StatusCompletedP2Win   Status = "completed_p2_win"
	StatusCompletedPush    Status = "completed_push"
	StatusError            Status = "error"
)

// IsTerminal reports whether s is a terminal status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompletedWin, StatusCompletedLoss, StatusCompletedCashout,
		StatusCompletedTimeout, StatusCompletedP1Win, StatusCompletedP2Win,
		StatusCompletedPush, StatusError:
		return true
	}
	return false
}

// Archetype selects which state machine governs a session.
type Archetype string

// Game archetypes.
const (
	ArchetypeEscalate Archetype = "escalate" // single actor, escalating stakes
	ArchetypeLadder   Archetype = "ladder"   // single actor, round progression
	ArchetypeDuel     Archetype = "duel"     // two actors, alternating turns
)

// Session is one wagering game in progress or completed. The state column
// holds the archetype-specific document; the archetype column is the tag
// that selects its shape.
type Session struct {
	ID            string          `db:"id"`
	Status        Status          `db:"status"`
	Archetype     Archetype       `db:"archetype"`
	Stake         int64           `db:"stake"`
	Payout        int64           `db:"payout"`
	State         json.RawMessage `db:"state"`
	InitiatorID   int64           `db:"initiator_id"`
	InitiatorName string          `db:"initiator_name"`
	OpponentID    *int64          `db:"opponent_id"`
	OpponentName  *string         `db:"opponent_name"`
	ChatID        int64           `db:"chat_id"`
	ClaimedBy     *string         `db:"claimed_by"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// ActionKind identifies the kind of player action submitted for a turn.
type ActionKind string

// Player action kinds.
const (
	ActionRoll     ActionKind = "roll"
	ActionCashout  ActionKind = "cashout"
	ActionContinue ActionKind = "continue"
)

// Action is one externally validated player action addressed to a session.
type Action struct {
	Kind    ActionKind
	Roll    int   // 1..6, set when Kind == ActionRoll
	ActorID int64 // submitting participant
}

// EscalateState is the state document for escalating-stakes sessions.
// Multiplier is a scaled integer in hundredths (100 = 1.00x) and is
// truncated to hundredths after every factor application.
type EscalateState struct {
	Rolls      []int  `json:"rolls"`
	Multiplier int64  `json:"multiplier"`
	Turn       int    `json:"turn"`
	PromptID   string `json:"prompt_id,omitempty"`
}

// LadderPhase is the discrete phase within a ladder round.
type LadderPhase string

// Ladder phases.
const (
	PhaseAwaitingShot  LadderPhase = "awaiting_shot"
	PhasePendingChoice LadderPhase = "round_failed_pending_choice"
)

// LadderState is the state document for round-progression sessions.
type LadderState struct {
	Round    int         `json:"round"`
	Shots    int         `json:"shots"`
	Phase    LadderPhase `json:"phase"`
	PromptID string      `json:"prompt_id,omitempty"`
}

// DuelState is the state document for two-actor duel sessions.
// CurrentTurn holds the participant ID that owns the next roll.
type DuelState struct {
	P1ID        int64  `json:"p1_id"`
	P2ID        int64  `json:"p2_id"`
	P1Rolls     []int  `json:"p1_rolls"`
	P2Rolls     []int  `json:"p2_rolls"`
	CurrentTurn int64  `json:"current_turn"`
	PromptID    string `json:"prompt_id,omitempty"`
}

// PromptID extracts the last-prompt message handle from any archetype's
// state document. Every state shape serializes it under the same key.
func PromptID(state json.RawMessage) string {
	var p struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(state, &p); err != nil {
		return ""
	}
	return p.PromptID
}

// WithPromptID returns a copy of the state document with the prompt handle
// replaced. An empty id removes the key.
func WithPromptID(state json.RawMessage, id string) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(state, &doc); err != nil {
		return nil, err
	}
	if id == "" {
		delete(doc, "prompt_id")
	} else {
		doc["prompt_id"] = id
	}
	return json.Marshal(doc)
}

// Bus channel names. The bus offers at-most-once delivery; every consumer
// must tolerate duplicated and dropped events.
const (
	ChannelSessionClaimable = "session_claimable"
	ChannelTurnSubmitted    = "turn_submitted"
	ChannelSessionCompleted = "session_completed"
)

// ClaimableEvent announces a session waiting in pending_claim.
type ClaimableEvent struct {
	SessionID string `json:"session_id"`
}

// TurnEvent carries one submitted player action for a session.
type TurnEvent struct {
	SessionID string     `json:"session_id"`
	ActorID   int64      `json:"actor_id"`
	Action    ActionKind `json:"action"`
	Roll      int        `json:"roll,omitempty"`
}

// CompletedEvent announces a finalized session.
type CompletedEvent struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	Payout    int64  `json:"payout"`
}
