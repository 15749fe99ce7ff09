package fixer

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RunState represents the progress of a fix run
type RunState string

const (
	// StateStart is the state before anything has been read
	StateStart RunState = "start"
	// StateDescriptorLocated indicates the host project and feature files are known
	StateDescriptorLocated RunState = "descriptor_located"
	// StateFrameworkResolved indicates the generator and test framework are known
	StateFrameworkResolved RunState = "framework_resolved"
	// StateTransientBuilt indicates the transient project is on disk
	StateTransientBuilt RunState = "transient_built"
	// StateGenerated indicates SpecFlow ran and the transient project is gone
	StateGenerated RunState = "generated"
	// StateFixed indicates the glue files were rewritten
	StateFixed RunState = "fixed"
	// StateDone indicates the run completed
	StateDone RunState = "done"
	// StateFailed indicates the run aborted
	StateFailed RunState = "failed"
)

var nextState = map[RunState]RunState{
	StateStart:             StateDescriptorLocated,
	StateDescriptorLocated: StateFrameworkResolved,
	StateFrameworkResolved: StateTransientBuilt,
	StateTransientBuilt:    StateGenerated,
	StateGenerated:         StateFixed,
	StateFixed:             StateDone,
}

// IsValid returns true if the run state is valid
func (s RunState) IsValid() bool {
	_, ok := nextState[s]
	return ok || s == StateDone || s == StateFailed
}

// IsTerminal returns true if no further transition is possible
func (s RunState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransitionTo checks if a transition from the current state to target is valid. Runs only
// move forward one step at a time, and any non-terminal state may fail.
func (s RunState) CanTransitionTo(target RunState) bool {
	if s.IsTerminal() {
		return false
	}
	if target == StateFailed {
		return true
	}
	return nextState[s] == target
}

// StateTransition represents a state change within a run
type StateTransition struct {
	From         RunState      `json:"from"`
	To           RunState      `json:"to"`
	Timestamp    time.Time     `json:"timestamp"`
	Elapsed      time.Duration `json:"elapsed"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// stateMachine records the transitions of a single run. Runs are sequential so it needs no locking.
type stateMachine struct {
	state       RunState
	entered     time.Time
	transitions []StateTransition
	logger      zerolog.Logger
}

func newStateMachine(logger zerolog.Logger) *stateMachine {
	return &stateMachine{state: StateStart, entered: time.Now(), logger: logger}
}

// advance moves to target, recording err's message when failing
func (sm *stateMachine) advance(target RunState, err error) error {
	if !sm.state.CanTransitionTo(target) {
		return fmt.Errorf("invalid state transition from %s to %s", sm.state, target)
	}

	now := time.Now()
	transition := StateTransition{
		From:      sm.state,
		To:        target,
		Timestamp: now,
		Elapsed:   now.Sub(sm.entered),
	}
	if err != nil {
		transition.ErrorMessage = err.Error()
	}

	sm.logger.Debug().
		Str("from", string(sm.state)).
		Str("to", string(target)).
		Dur("elapsed", transition.Elapsed).
		Msg("State transition")

	sm.transitions = append(sm.transitions, transition)
	sm.state = target
	sm.entered = now
	return nil
}

// StepError is returned when a run fails. It reports the state the run was leaving.
type StepError struct {
	State RunState
	Err   error
}

func (e *StepError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the component error
func (e *StepError) Unwrap() error {
	return e.Err
}
