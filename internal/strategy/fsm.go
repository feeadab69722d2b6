package strategy

import (
	"fmt"

	"github.com/meridianhq/meridian/internal/domain"
)

// State is the lifecycle state of a strategy
type State uint8

const (
	StateInitialized State = iota + 1
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateResuming
	StateResetting
	StateDisposing
	StateDisposed
)

// String returns the canonical state name
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateResuming:
		return "RESUMING"
	case StateResetting:
		return "RESETTING"
	case StateDisposing:
		return "DISPOSING"
	case StateDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}

// Trigger identifies a lifecycle action driving a state transition. Actions
// transition in two phases: the request trigger enters the transitional
// state, the completed trigger settles it.
type Trigger uint8

const (
	TriggerStart Trigger = iota + 1
	TriggerStartCompleted
	TriggerStop
	TriggerStopCompleted
	TriggerResume
	TriggerResumeCompleted
	TriggerReset
	TriggerResetCompleted
	TriggerDispose
	TriggerDisposeCompleted
)

// String returns the trigger name used in transition errors
func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "Start"
	case TriggerStartCompleted:
		return "StartCompleted"
	case TriggerStop:
		return "Stop"
	case TriggerStopCompleted:
		return "StopCompleted"
	case TriggerResume:
		return "Resume"
	case TriggerResumeCompleted:
		return "ResumeCompleted"
	case TriggerReset:
		return "Reset"
	case TriggerResetCompleted:
		return "ResetCompleted"
	case TriggerDispose:
		return "Dispose"
	case TriggerDisposeCompleted:
		return "DisposeCompleted"
	default:
		return "Unknown"
	}
}

// transitions maps each trigger to its legal source states and target.
// Disposed appears in no source set: it is terminal.
var transitions = map[Trigger]struct {
	sources []State
	target  State
}{
	TriggerStart: {
		sources: []State{StateInitialized},
		target:  StateStarting,
	},
	TriggerStartCompleted: {
		sources: []State{StateStarting},
		target:  StateRunning,
	},
	TriggerStop: {
		sources: []State{StateStarting, StateRunning, StateResuming},
		target:  StateStopping,
	},
	TriggerStopCompleted: {
		sources: []State{StateStopping},
		target:  StateStopped,
	},
	TriggerResume: {
		sources: []State{StateStopped},
		target:  StateResuming,
	},
	TriggerResumeCompleted: {
		sources: []State{StateResuming},
		target:  StateRunning,
	},
	TriggerReset: {
		sources: []State{StateInitialized, StateStopped},
		target:  StateResetting,
	},
	TriggerResetCompleted: {
		sources: []State{StateResetting},
		target:  StateInitialized,
	},
	TriggerDispose: {
		sources: []State{StateInitialized, StateStopped},
		target:  StateDisposing,
	},
	TriggerDisposeCompleted: {
		sources: []State{StateDisposing},
		target:  StateDisposed,
	},
}

// Transition resolves the state a strategy in `from` moves to when a
// trigger fires. Illegal triggers return ErrInvalidStateTransition; the
// caller decides whether that degrades to a forced stop or a no-op.
func Transition(from State, trigger Trigger) (State, error) {
	rule, ok := transitions[trigger]
	if !ok {
		return 0, fmt.Errorf("%w: unknown trigger %s", domain.ErrInvalidStateTransition, trigger)
	}
	for _, s := range rule.sources {
		if s == from {
			return rule.target, nil
		}
	}
	return 0, fmt.Errorf("%w: %s not allowed from %s", domain.ErrInvalidStateTransition, trigger, from)
}
