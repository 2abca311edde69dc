// Package processstatemachine tracks the lifecycle phase of one configured process and keeps
// a bounded history of its transitions.
package processstatemachine

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logging"
)

// ProcessState is the lifecycle phase as seen by the supervisor. It is bookkeeping only;
// the reported status is always derived from liveness.
type ProcessState string

const (
	// ProcessStateIdle means the process was never started
	ProcessStateIdle ProcessState = "idle"

	// ProcessStateRunning means the process was launched and has not been seen exiting
	ProcessStateRunning ProcessState = "running"

	// ProcessStateStopping means a stop operation owns the process
	ProcessStateStopping ProcessState = "stopping"

	// ProcessStateStopped means a stop operation completed
	ProcessStateStopped ProcessState = "stopped"

	// ProcessStateExited means the process ended on its own
	ProcessStateExited ProcessState = "exited"

	// ProcessStateFailed means the last launch attempt failed
	ProcessStateFailed ProcessState = "failed"
)

const DefaultHistorySize = 32

// ProcessStateTransition is one recorded transition
type ProcessStateTransition struct {
	From      ProcessState `json:"from"`
	To        ProcessState `json:"to"`
	Operation string       `json:"operation"`
	Timestamp time.Time    `json:"timestamp"`
	Error     string       `json:"error,omitempty"`
}

// ProcessStateMachine validates lifecycle transitions for one process
type ProcessStateMachine struct {
	processID        string
	currentState     ProcessState
	transitions      []ProcessStateTransition
	historySize      int
	validTransitions map[ProcessState][]ProcessState
	mutex            sync.RWMutex
	logger           logging.Logger
}

// NewProcessStateMachine creates a machine in the idle state
func NewProcessStateMachine(processID string, logger logging.Logger) *ProcessStateMachine {
	launchable := []ProcessState{
		ProcessStateRunning, // start success
		ProcessStateFailed,  // start failure
	}

	return &ProcessStateMachine{
		processID:    processID,
		currentState: ProcessStateIdle,
		historySize:  DefaultHistorySize,
		logger:       logging.OrNull(logger),
		validTransitions: map[ProcessState][]ProcessState{
			ProcessStateIdle: launchable,
			ProcessStateRunning: {
				ProcessStateStopping, // stop claimed
				ProcessStateExited,   // exit observed
			},
			ProcessStateStopping: {
				ProcessStateStopped, // stop success
				ProcessStateRunning, // termination signal could not be delivered
			},
			ProcessStateStopped: launchable,
			ProcessStateExited:  launchable,
			ProcessStateFailed:  launchable,
		},
	}
}

// GetCurrentState returns the current state (thread-safe)
func (sm *ProcessStateMachine) GetCurrentState() ProcessState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// CanTransition checks if a state transition is valid (thread-safe)
func (sm *ProcessStateMachine) CanTransition(to ProcessState) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.canTransitionUnsafe(to)
}

// Transition changes the state with validation (thread-safe). cause is recorded with the
// transition, it does not make the transition fail.
func (sm *ProcessStateMachine) Transition(to ProcessState, operation string, cause error) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.transitionUnsafe(to, operation, cause)
}

// TransitionFrom performs the transition only when the machine is currently in from
func (sm *ProcessStateMachine) TransitionFrom(from, to ProcessState, operation string, cause error) bool {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.currentState != from {
		return false
	}
	return sm.transitionUnsafe(to, operation, cause) == nil
}

func (sm *ProcessStateMachine) transitionUnsafe(to ProcessState, operation string, cause error) error {
	if !sm.canTransitionUnsafe(to) {
		return errors.NewConflictError(
			fmt.Sprintf("invalid state transition from '%s' to '%s'", sm.currentState, to),
			nil,
		).WithContext("process", sm.processID).
			WithContext("from_state", string(sm.currentState)).
			WithContext("to_state", string(to)).
			WithContext("operation", operation)
	}

	from := sm.currentState
	transition := ProcessStateTransition{
		From:      from,
		To:        to,
		Operation: operation,
		Timestamp: time.Now(),
	}
	if cause != nil {
		transition.Error = cause.Error()
	}

	sm.transitions = append(sm.transitions, transition)
	if len(sm.transitions) > sm.historySize {
		sm.transitions = append([]ProcessStateTransition(nil), sm.transitions[len(sm.transitions)-sm.historySize:]...)
	}
	sm.currentState = to

	if cause != nil {
		sm.logger.Warnf("Process state transition, process: %s, %s->%s, operation: %s, error: %v",
			sm.processID, from, to, operation, cause)
	} else {
		sm.logger.Debugf("Process state transition, process: %s, %s->%s, operation: %s",
			sm.processID, from, to, operation)
	}
	return nil
}

func (sm *ProcessStateMachine) canTransitionUnsafe(to ProcessState) bool {
	for _, validState := range sm.validTransitions[sm.currentState] {
		if validState == to {
			return true
		}
	}
	return false
}

// GetTransitionHistory returns a copy of the retained transitions, oldest first
func (sm *ProcessStateMachine) GetTransitionHistory() []ProcessStateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]ProcessStateTransition, len(sm.transitions))
	copy(history, sm.transitions)
	return history
}

// LastTransition returns the most recent transition, or nil for a machine that never moved
func (sm *ProcessStateMachine) LastTransition() *ProcessStateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if len(sm.transitions) == 0 {
		return nil
	}
	last := sm.transitions[len(sm.transitions)-1]
	return &last
}
