package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	permitted := map[State][]State{
		StateScheduled:  {StateConfirmed, StateInProgress, StateCompleted, StateCanceled, StateRescheduled, StateNoShow},
		StateConfirmed:  {StateInProgress, StateCompleted, StateCanceled, StateRescheduled, StateNoShow},
		StateInProgress: {StateCompleted, StateCanceled, StateRescheduled, StateNoShow},
	}

	for _, from := range AllStates {
		allowed := make(map[State]bool)
		for _, to := range permitted[from] {
			allowed[to] = true
		}
		for _, to := range AllStates {
			assert.Equal(t, allowed[to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateCompleted, StateCanceled, StateRescheduled, StateNoShow} {
		assert.True(t, s.Terminal(), s)
		assert.True(t, s.Valid(), s)
	}
	for _, s := range []State{StateScheduled, StateConfirmed, StateInProgress} {
		assert.False(t, s.Terminal(), s)
	}
	assert.False(t, State("pending").Valid())
	assert.False(t, CanTransition("pending", StateConfirmed))
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, checkTransition(StateScheduled, StateConfirmed))
	assert.Equal(t, KindInvalidTransition, KindOf(checkTransition(StateConfirmed, StateScheduled)))
	assert.Equal(t, KindInvalidTransition, KindOf(checkTransition(StateScheduled, StateScheduled)))
	assert.Equal(t, KindValidation, KindOf(checkTransition(StateScheduled, "archived")))
}

func TestBlocksSlot(t *testing.T) {
	assert.False(t, StateCanceled.blocksSlot())
	assert.False(t, StateRescheduled.blocksSlot())
	assert.True(t, StateNoShow.blocksSlot())
	assert.True(t, StateCompleted.blocksSlot())
	assert.True(t, StateScheduled.blocksSlot())
}
