package ladder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-session-worker/internal/game"
	"game-session-worker/internal/model"
)

func roll(v int) model.Action {
	return model.Action{Kind: model.ActionRoll, Roll: v}
}

func advanceAll(t *testing.T, m *Machine, stake int64, actions []model.Action) *game.TurnResult {
	t.Helper()

	state, err := m.InitialState(game.Participants{InitiatorID: 1})
	require.NoError(t, err)

	var res *game.TurnResult
	for _, a := range actions {
		res, err = m.Advance(state, stake, a)
		require.NoError(t, err)
		state = res.State
	}
	return res
}

// TestAdvance_WinOnFinalRound checks the win payout rule: with a three-round
// table {0.2, 0.5, 1.0} and stake 1000, clearing the final round pays
// stake + stake x 1.0 = 2000.
func TestAdvance_WinOnFinalRound(t *testing.T) {
	m := New(&Config{Multipliers: []int64{20, 50, 100}})

	// Three successes in a row: rounds 1, 2, then the final round 3
	res := advanceAll(t, m, 1000, []model.Action{roll(6), roll(5), roll(6)})

	assert.True(t, res.Terminal)
	assert.Equal(t, model.StatusCompletedWin, res.Status)
	assert.Equal(t, int64(2000), res.Payout)
}

// TestAdvance_CashoutAfterFailedRound checks the fixed-fraction cash-out:
// stake 1000 with fraction 0.5 pays 500 after two misses in round 1.
func TestAdvance_CashoutAfterFailedRound(t *testing.T) {
	m := New(nil) // default fraction 0.5

	res := advanceAll(t, m, 1000, []model.Action{
		roll(2), roll(3), // two misses fail the round
		{Kind: model.ActionCashout},
	})

	assert.True(t, res.Terminal)
	assert.Equal(t, model.StatusCompletedCashout, res.Status)
	assert.Equal(t, int64(500), res.Payout)
}

// TestAdvance_InstantLossRegardlessOfShots checks that an instant-loss roll
// terminates even on the first shot of a round.
func TestAdvance_InstantLossRegardlessOfShots(t *testing.T) {
	m := New(nil)

	res := advanceAll(t, m, 1000, []model.Action{roll(1)})

	assert.True(t, res.Terminal)
	assert.Equal(t, model.StatusCompletedLoss, res.Status)
	assert.Equal(t, int64(0), res.Payout)
}

// TestAdvance_MissThenSuccessClearsRound checks that a single miss does not
// fail the round.
func TestAdvance_MissThenSuccessClearsRound(t *testing.T) {
	m := New(nil)

	res := advanceAll(t, m, 1000, []model.Action{roll(2), roll(5)})

	require.False(t, res.Terminal)
	var st model.LadderState
	require.NoError(t, json.Unmarshal(res.State, &st))
	assert.Equal(t, 2, st.Round)
	assert.Equal(t, 0, st.Shots)
	assert.Equal(t, model.PhaseAwaitingShot, st.Phase)
}

// TestAdvance_ContinueAdvancesForFree checks the continue choice after a
// failed round.
func TestAdvance_ContinueAdvancesForFree(t *testing.T) {
	m := New(nil)

	res := advanceAll(t, m, 1000, []model.Action{
		roll(2), roll(3),
		{Kind: model.ActionContinue},
	})

	require.False(t, res.Terminal)
	var st model.LadderState
	require.NoError(t, json.Unmarshal(res.State, &st))
	assert.Equal(t, 2, st.Round)
	assert.Equal(t, 0, st.Shots)
	assert.Equal(t, model.PhaseAwaitingShot, st.Phase)
}

// TestAdvance_ContinueOnFinalRoundRetries checks that continuing after
// failing the final round replays it instead of advancing past it.
func TestAdvance_ContinueOnFinalRoundRetries(t *testing.T) {
	m := New(&Config{Multipliers: []int64{20}}) // single round

	res := advanceAll(t, m, 1000, []model.Action{
		roll(2), roll(3),
		{Kind: model.ActionContinue},
	})

	require.False(t, res.Terminal)
	var st model.LadderState
	require.NoError(t, json.Unmarshal(res.State, &st))
	assert.Equal(t, 1, st.Round)
	assert.Equal(t, model.PhaseAwaitingShot, st.Phase)
}

// TestAdvance_PhaseGuards checks that actions are rejected outside their
// phase: rolls during the choice point, choices while awaiting a shot.
func TestAdvance_PhaseGuards(t *testing.T) {
	m := New(nil)

	state, err := m.InitialState(game.Participants{InitiatorID: 1})
	require.NoError(t, err)

	// Choice actions before any round failed
	_, err = m.Advance(state, 1000, model.Action{Kind: model.ActionCashout})
	assert.ErrorIs(t, err, game.ErrActionNotAllowed)
	_, err = m.Advance(state, 1000, model.Action{Kind: model.ActionContinue})
	assert.ErrorIs(t, err, game.ErrActionNotAllowed)

	// Fail round 1
	for _, v := range []int{2, 3} {
		res, err := m.Advance(state, 1000, roll(v))
		require.NoError(t, err)
		state = res.State
	}

	// Roll during the choice point
	_, err = m.Advance(state, 1000, roll(5))
	assert.ErrorIs(t, err, game.ErrActionNotAllowed)
}

// TestAdvance_TimeoutEquivalentLossPayout documents the zero payout on loss
// for this archetype (timeouts finalize with zero payout the same way).
func TestAdvance_TimeoutEquivalentLossPayout(t *testing.T) {
	m := New(nil)

	res := advanceAll(t, m, 123456, []model.Action{roll(1)})
	assert.Equal(t, int64(0), res.Payout)
}
