// Package escalate implements the escalating-stakes archetype: a single
// actor rolls repeatedly, each roll multiplying the running multiplier per
// the effect table, until a bust roll, a voluntary cash-out on a round
// boundary, or the maximum turn count.
package escalate

import (
	"encoding/json"
	"fmt"

	"game-session-worker/internal/game"
	"game-session-worker/internal/model"
)

const (
	// DefaultMaxTurns is the turn count that triggers an automatic cash-out.
	DefaultMaxTurns = 9

	// DefaultRoundSize is the number of rolls per round; voluntary cash-out
	// is offered on every round boundary short of the maximum.
	DefaultRoundSize = 3
)

// DefaultFactors is the default effect table: multiplier factor in
// hundredths per roll value (index roll-1). A factor of 0 busts.
var DefaultFactors = []int64{0, 120, 150, 180, 200, 300}

// Config holds configuration for the escalating-stakes machine.
type Config struct {
	Factors   []int64
	MaxTurns  int
	RoundSize int
}

// Machine implements the game.Machine interface for escalating stakes.
type Machine struct {
	factors   []int64
	maxTurns  int
	roundSize int
}

// New creates a new escalating-stakes Machine with the given configuration.
func New(cfg *Config) *Machine {
	factors := DefaultFactors
	maxTurns := DefaultMaxTurns
	roundSize := DefaultRoundSize

	if cfg != nil {
		if len(cfg.Factors) == 6 {
			factors = cfg.Factors
		}
		if cfg.MaxTurns > 0 {
			maxTurns = cfg.MaxTurns
		}
		if cfg.RoundSize > 0 {
			roundSize = cfg.RoundSize
		}
	}

	return &Machine{
		factors:   factors,
		maxTurns:  maxTurns,
		roundSize: roundSize,
	}
}

// Archetype returns the archetype tag this machine governs.
func (m *Machine) Archetype() model.Archetype {
	return model.ArchetypeEscalate
}

// InitialState builds the state document written during the claim.
func (m *Machine) InitialState(p game.Participants) (json.RawMessage, error) {
	return json.Marshal(&model.EscalateState{
		Rolls:      []int{},
		Multiplier: 100, // 1.00x
		Turn:       0,
	})
}

// Advance applies one player action.
//
// The multiplier is kept in hundredths and floored after every factor
// application, so payouts are reproducible integer arithmetic throughout.
func (m *Machine) Advance(state json.RawMessage, stake int64, action model.Action) (*game.TurnResult, error) {
	var st model.EscalateState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrBadState, err)
	}

	switch action.Kind {
	case model.ActionRoll:
		if action.Roll < 1 || action.Roll > 6 {
			return nil, game.ErrInvalidRoll
		}

		st.Rolls = append(st.Rolls, action.Roll)
		st.Turn++

		factor := m.factors[action.Roll-1]
		if factor == 0 {
			// Bust: immediate loss regardless of accumulated multiplier
			st.Multiplier = 0
			return terminal(&st, model.StatusCompletedLoss, 0)
		}

		st.Multiplier = st.Multiplier * factor / 100

		if st.Turn >= m.maxTurns {
			// Automatic cash-out at the then-current multiplier
			return terminal(&st, model.StatusCompletedWin, payout(stake, st.Multiplier))
		}

		next, err := json.Marshal(&st)
		if err != nil {
			return nil, err
		}
		return &game.TurnResult{State: next}, nil

	case model.ActionCashout:
		if st.Turn == 0 || st.Turn%m.roundSize != 0 {
			return nil, game.ErrActionNotAllowed
		}
		return terminal(&st, model.StatusCompletedCashout, payout(stake, st.Multiplier))

	default:
		return nil, game.ErrActionNotAllowed
	}
}

// payout computes floor(stake x multiplier) with the multiplier in
// hundredths.
func payout(stake, multiplier int64) int64 {
	return stake * multiplier / 100
}

func terminal(st *model.EscalateState, status model.Status, amount int64) (*game.TurnResult, error) {
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
