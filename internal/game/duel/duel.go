// Package duel implements the two-actor duel archetype: each actor rolls a
// fixed shot quota in strict turn order, then scores are compared for a
// win, loss, or push.
package duel

import (
	"encoding/json"
	"fmt"

	"game-session-worker/internal/game"
	"game-session-worker/internal/model"
)

const (
	// DefaultShotQuota is the number of rolls per actor.
	DefaultShotQuota = 3

	// DefaultHitThreshold is the minimum roll counted as a hit under the
	// "hits" scoring rule.
	DefaultHitThreshold = 4
)

// Scoring rules. Both are pure and deterministic over a roll sequence.
const (
	ScoringSum  = "sum"  // score = sum of roll values
	ScoringHits = "hits" // score = count of rolls at/above the threshold
)

// Tier is one row of the winner payout table: the highest tier whose
// MinScore the winner's score reaches applies.
type Tier struct {
	MinScore   int
	Multiplier int64 // hundredths
}

// DefaultTiers is the default winner payout table.
var DefaultTiers = []Tier{
	{MinScore: 0, Multiplier: 100},
	{MinScore: 12, Multiplier: 150},
	{MinScore: 16, Multiplier: 200},
}

// Config holds configuration for the duel machine.
type Config struct {
	ShotQuota    int
	Scoring      string
	HitThreshold int
	Tiers        []Tier
}

// Machine implements the game.Machine interface for two-actor duels.
type Machine struct {
	shotQuota    int
	scoring      string
	hitThreshold int
	tiers        []Tier
}

// New creates a new duel Machine with the given configuration.
func New(cfg *Config) *Machine {
	shotQuota := DefaultShotQuota
	scoring := ScoringSum
	hitThreshold := DefaultHitThreshold
	tiers := DefaultTiers

	if cfg != nil {
		if cfg.ShotQuota > 0 {
			shotQuota = cfg.ShotQuota
		}
		if cfg.Scoring == ScoringSum || cfg.Scoring == ScoringHits {
			scoring = cfg.Scoring
		}
		if cfg.HitThreshold > 0 {
			hitThreshold = cfg.HitThreshold
		}
		if len(cfg.Tiers) > 0 {
			tiers = cfg.Tiers
		}
	}

	return &Machine{
		shotQuota:    shotQuota,
		scoring:      scoring,
		hitThreshold: hitThreshold,
		tiers:        tiers,
	}
}

// Archetype returns the archetype tag this machine governs.
func (m *Machine) Archetype() model.Archetype {
	return model.ArchetypeDuel
}

// InitialState builds the state document written during the claim. The
// initiator rolls first.
func (m *Machine) InitialState(p game.Participants) (json.RawMessage, error) {
	if p.OpponentID == 0 {
		return nil, fmt.Errorf("duel session requires an opponent")
	}
	return json.Marshal(&model.DuelState{
		P1ID:        p.InitiatorID,
		P2ID:        p.OpponentID,
		P1Rolls:     []int{},
		P2Rolls:     []int{},
		CurrentTurn: p.InitiatorID,
	})
}

// Advance applies one player action. Rolls from an actor who does not own
// the turn are rejected without mutating state.
func (m *Machine) Advance(state json.RawMessage, stake int64, action model.Action) (*game.TurnResult, error) {
	var st model.DuelState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrBadState, err)
	}
	if st.P1ID == 0 || st.P2ID == 0 {
		return nil, fmt.Errorf("%w: missing duel participants", game.ErrBadState)
	}

	if action.Kind != model.ActionRoll {
		return nil, game.ErrActionNotAllowed
	}
	if action.Roll < 1 || action.Roll > 6 {
		return nil, game.ErrInvalidRoll
	}
	if action.ActorID != st.CurrentTurn {
		return nil, game.ErrNotYourTurn
	}

	switch action.ActorID {
	case st.P1ID:
		if len(st.P1Rolls) >= m.shotQuota {
			return nil, game.ErrNotYourTurn
		}
		st.P1Rolls = append(st.P1Rolls, action.Roll)
		if len(st.P1Rolls) >= m.shotQuota {
			st.CurrentTurn = st.P2ID
		}
	case st.P2ID:
		if len(st.P2Rolls) >= m.shotQuota {
			return nil, game.ErrNotYourTurn
		}
		st.P2Rolls = append(st.P2Rolls, action.Roll)
	default:
		return nil, game.ErrNotYourTurn
	}

	if len(st.P1Rolls) >= m.shotQuota && len(st.P2Rolls) >= m.shotQuota {
		return m.settle(&st, stake)
	}

	next, err := json.Marshal(&st)
	if err != nil {
		return nil, err
	}
	return &game.TurnResult{State: next}, nil
}

// settle compares scores once both quotas are met.
func (m *Machine) settle(st *model.DuelState, stake int64) (*game.TurnResult, error) {
	s1 := m.Score(st.P1Rolls)
	s2 := m.Score(st.P2Rolls)

	final, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}

	switch {
	case s1 > s2:
		return &game.TurnResult{
			State:    final,
			Terminal: true,
			Status:   model.StatusCompletedP1Win,
			Payout:   stake + stake*m.tierMultiplier(s1)/100,
		}, nil
	case s2 > s1:
		return &game.TurnResult{
			State:    final,
			Terminal: true,
			Status:   model.StatusCompletedP2Win,
			Payout:   stake + stake*m.tierMultiplier(s2)/100,
		}, nil
	default:
		// Push: stake returned
		return &game.TurnResult{
			State:    final,
			Terminal: true,
			Status:   model.StatusCompletedPush,
			Payout:   stake,
		}, nil
	}
}

// Score computes an actor's score from their roll sequence.
func (m *Machine) Score(rolls []int) int {
	switch m.scoring {
	case ScoringHits:
		hits := 0
		for _, r := range rolls {
			if r >= m.hitThreshold {
				hits++
			}
		}
		return hits
	default: // ScoringSum
		sum := 0
		for _, r := range rolls {
			sum += r
		}
		return sum
	}
}

// tierMultiplier returns the multiplier of the highest tier the winner's
// score reaches.
func (m *Machine) tierMultiplier(score int) int64 {
	mult := int64(100)
	for _, t := range m.tiers {
		if score >= t.MinScore {
			mult = t.Multiplier
		}
	}
	return mult
}
