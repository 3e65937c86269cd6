package blink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"beacon/internal/ewelink"
)

// Dispatcher issues a single device state command. Implemented by
// ewelink.Client.
type Dispatcher interface {
	SetState(ctx context.Context, deviceID string, state ewelink.SwitchState) error
}

// DefaultPattern is three on/off cycles followed by a final on, so an
// alert leaves the device lit.
func DefaultPattern() []ewelink.SwitchState {
	return []ewelink.SwitchState{
		ewelink.SwitchOn, ewelink.SwitchOff,
		ewelink.SwitchOn, ewelink.SwitchOff,
		ewelink.SwitchOn, ewelink.SwitchOff,
		ewelink.SwitchOn,
	}
}

// StepError reports the step a sequence aborted at and the last state
// the device was successfully commanded into.
type StepError struct {
	Step      int
	State     ewelink.SwitchState
	LastState ewelink.SwitchState
	Err       error
}

func (e *StepError) Error() string {
	if e.LastState == "" {
		return fmt.Sprintf("blink sequence aborted at step %d (%s): %v", e.Step, e.State, e.Err)
	}
	return fmt.Sprintf("blink sequence aborted at step %d (%s), device last commanded %s: %v", e.Step, e.State, e.LastState, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Sequencer runs a scripted list of state transitions with a mandatory
// wall-clock delay between steps. Each step's success is a
// precondition for the next; the first failure aborts the remainder.
type Sequencer struct {
	dispatcher Dispatcher
	pattern    []ewelink.SwitchState
	stepDelay  time.Duration
	logger     *slog.Logger
}

// NewSequencer creates a sequencer. An empty pattern falls back to
// DefaultPattern.
func NewSequencer(dispatcher Dispatcher, pattern []ewelink.SwitchState, stepDelay time.Duration, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(pattern) == 0 {
		pattern = DefaultPattern()
	}
	return &Sequencer{
		dispatcher: dispatcher,
		pattern:    pattern,
		stepDelay:  stepDelay,
		logger:     logger,
	}
}

// Steps returns the number of commands the sequence issues.
func (s *Sequencer) Steps() int {
	return len(s.pattern)
}

// Run executes the sequence against a device. Cancellation is honored
// between steps: once cancelled, no further command is issued and the
// device stays in its last successfully commanded state.
func (s *Sequencer) Run(ctx context.Context, deviceID string) error {
	var lastState ewelink.SwitchState

	for i, state := range s.pattern {
		if i > 0 {
			timer := time.NewTimer(s.stepDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		if err := s.dispatcher.SetState(ctx, deviceID, state); err != nil {
			return &StepError{Step: i, State: state, LastState: lastState, Err: err}
		}
		lastState = state

		s.logger.Debug("Blink step complete",
			"device_id", deviceID,
			"step", i,
			"state", state)
	}

	return nil
}
