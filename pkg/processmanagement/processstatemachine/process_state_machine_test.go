package processstatemachine

import (
	"fmt"
	"testing"

	"github.com/core-tools/hsu-procsup/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessStateMachine_Lifecycle(t *testing.T) {
	sm := NewProcessStateMachine("adc", nil)
	assert.Equal(t, ProcessStateIdle, sm.GetCurrentState())
	assert.Nil(t, sm.LastTransition())

	require.NoError(t, sm.Transition(ProcessStateRunning, "start", nil))
	require.NoError(t, sm.Transition(ProcessStateStopping, "stop", nil))
	require.NoError(t, sm.Transition(ProcessStateStopped, "stop", nil))
	require.NoError(t, sm.Transition(ProcessStateRunning, "start", nil))

	history := sm.GetTransitionHistory()
	require.Len(t, history, 4)
	assert.Equal(t, ProcessStateIdle, history[0].From)
	assert.Equal(t, ProcessStateStopped, history[3].From)
	assert.Equal(t, ProcessStateRunning, sm.LastTransition().To)
}

func TestProcessStateMachine_InvalidTransition(t *testing.T) {
	sm := NewProcessStateMachine("adc", nil)

	err := sm.Transition(ProcessStateStopping, "stop", nil)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	assert.Equal(t, ProcessStateIdle, sm.GetCurrentState())

	require.NoError(t, sm.Transition(ProcessStateRunning, "start", nil))
	assert.False(t, sm.CanTransition(ProcessStateRunning))
	assert.True(t, sm.CanTransition(ProcessStateExited))
}

func TestProcessStateMachine_TransitionFrom(t *testing.T) {
	sm := NewProcessStateMachine("adc", nil)
	require.NoError(t, sm.Transition(ProcessStateRunning, "start", nil))
	require.True(t, sm.TransitionFrom(ProcessStateRunning, ProcessStateStopping, "stop", nil))

	// an exit observed while a stop owns the process is not recorded
	assert.False(t, sm.TransitionFrom(ProcessStateRunning, ProcessStateExited, "exit", nil))
	assert.Equal(t, ProcessStateStopping, sm.GetCurrentState())

	assert.True(t, sm.TransitionFrom(ProcessStateStopping, ProcessStateRunning, "stop", fmt.Errorf("operation not permitted")))
	assert.Equal(t, "operation not permitted", sm.LastTransition().Error)
}

func TestProcessStateMachine_HistoryIsBounded(t *testing.T) {
	sm := NewProcessStateMachine("adc", nil)
	for i := 0; i < DefaultHistorySize; i++ {
		require.NoError(t, sm.Transition(ProcessStateRunning, "start", nil))
		require.NoError(t, sm.Transition(ProcessStateExited, "exit", nil))
	}

	history := sm.GetTransitionHistory()
	assert.Len(t, history, DefaultHistorySize)
	assert.Equal(t, ProcessStateExited, history[len(history)-1].To)
}
