// Package ladder implements the round-progression archetype: a single actor
// clears rounds with up to two shot attempts each, choosing between a fixed
// cash-out and a free continue after a failed round.
package ladder

import (
	"encoding/json"
	"fmt"

	"game-session-worker/internal/game"
	"game-session-worker/internal/model"
)

const (
	// DefaultCashoutFraction is the cash-out fraction of stake in hundredths.
	DefaultCashoutFraction = 50

	// shotsPerRound is the number of shot attempts allowed per round.
	shotsPerRound = 2
)

// Default roll classes and round multipliers (hundredths).
var (
	DefaultMultipliers  = []int64{20, 50, 100, 200, 400}
	DefaultLossRolls    = []int{1}
	DefaultSuccessRolls = []int{5, 6}
)

// Config holds configuration for the ladder machine.
type Config struct {
	Multipliers     []int64
	CashoutFraction int64
	LossRolls       []int
	SuccessRolls    []int
}

// Machine implements the game.Machine interface for round progression.
type Machine struct {
	multipliers     []int64
	cashoutFraction int64
	lossRolls       map[int]bool
	successRolls    map[int]bool
}

// New creates a new ladder Machine with the given configuration.
func New(cfg *Config) *Machine {
	multipliers := DefaultMultipliers
	cashoutFraction := int64(DefaultCashoutFraction)
	lossRolls := DefaultLossRolls
	successRolls := DefaultSuccessRolls

	if cfg != nil {
		if len(cfg.Multipliers) > 0 {
			multipliers = cfg.Multipliers
		}
		if cfg.CashoutFraction > 0 {
			cashoutFraction = cfg.CashoutFraction
		}
		if len(cfg.LossRolls) > 0 {
			lossRolls = cfg.LossRolls
		}
		if len(cfg.SuccessRolls) > 0 {
			successRolls = cfg.SuccessRolls
		}
	}

	m := &Machine{
		multipliers:     multipliers,
		cashoutFraction: cashoutFraction,
		lossRolls:       make(map[int]bool, len(lossRolls)),
		successRolls:    make(map[int]bool, len(successRolls)),
	}
	for _, v := range lossRolls {
		m.lossRolls[v] = true
	}
	for _, v := range successRolls {
		m.successRolls[v] = true
	}
	return m
}

// Archetype returns the archetype tag this machine governs.
func (m *Machine) Archetype() model.Archetype {
	return model.ArchetypeLadder
}

// Rounds returns the number of rounds in the ladder.
func (m *Machine) Rounds() int {
	return len(m.multipliers)
}

// InitialState builds the state document written during the claim.
func (m *Machine) InitialState(p game.Participants) (json.RawMessage, error) {
	return json.Marshal(&model.LadderState{
		Round: 1,
		Shots: 0,
		Phase: model.PhaseAwaitingShot,
	})
}

// Advance applies one player action.
//
// Rolls partition into three disjoint classes: instant-loss values end the
// session immediately regardless of shot count, success values clear the
// round, and everything else consumes a shot. Two misses in a round open
// the cash-out-or-continue choice point.
func (m *Machine) Advance(state json.RawMessage, stake int64, action model.Action) (*game.TurnResult, error) {
	var st model.LadderState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrBadState, err)
	}
	if st.Round < 1 || st.Round > m.Rounds() {
		return nil, fmt.Errorf("%w: round %d out of range", game.ErrBadState, st.Round)
	}

	switch action.Kind {
	case model.ActionRoll:
		if st.Phase != model.PhaseAwaitingShot {
			return nil, game.ErrActionNotAllowed
		}
		if action.Roll < 1 || action.Roll > 6 {
			return nil, game.ErrInvalidRoll
		}

		switch {
		case m.lossRolls[action.Roll]:
			return terminal(&st, model.StatusCompletedLoss, 0)

		case m.successRolls[action.Roll]:
			if st.Round == m.Rounds() {
				amount := stake + stake*m.multipliers[st.Round-1]/100
				return terminal(&st, model.StatusCompletedWin, amount)
			}
			st.Round++
			st.Shots = 0

		default: // miss
			st.Shots++
			if st.Shots >= shotsPerRound {
				st.Phase = model.PhasePendingChoice
			}
		}

		next, err := json.Marshal(&st)
		if err != nil {
			return nil, err
		}
		return &game.TurnResult{State: next}, nil

	case model.ActionCashout:
		if st.Phase != model.PhasePendingChoice {
			return nil, game.ErrActionNotAllowed
		}
		return terminal(&st, model.StatusCompletedCashout, stake*m.cashoutFraction/100)

	case model.ActionContinue:
		if st.Phase != model.PhasePendingChoice {
			return nil, game.ErrActionNotAllowed
		}
		// Free advance; failing the final round replays it since there is
		// no higher round.
		if st.Round < m.Rounds() {
			st.Round++
		}
		st.Shots = 0
		st.Phase = model.PhaseAwaitingShot

		next, err := json.Marshal(&st)
		if err != nil {
			return nil, err
		}
		return &game.TurnResult{State: next}, nil

	default:
		return nil, game.ErrActionNotAllowed
	}
}

func terminal(st *model.LadderState, status model.Status, amount int64) (*game.TurnResult, error) {
	final, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return &game.TurnResult{
		State:    final,
		Terminal: true,
		Status:   status,
		Payout:   amount,
	}, nil
}
