package blink

import (
	"context"
	"errors"
	"testing"
	"time"

	"beacon/internal/ewelink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDispatcher records every commanded state and can fail a chosen step.
type mockDispatcher struct {
	states   []ewelink.SwitchState
	failStep int // 1-based call number to fail at, 0 = never
	onCall   func(call int)
}

func (d *mockDispatcher) SetState(ctx context.Context, deviceID string, state ewelink.SwitchState) error {
	call := len(d.states) + 1
	if d.failStep != 0 && call == d.failStep {
		return errors.New("device is offline")
	}
	d.states = append(d.states, state)
	if d.onCall != nil {
		d.onCall(call)
	}
	return nil
}

func TestSequencer_DefaultPattern(t *testing.T) {
	dispatcher := &mockDispatcher{}
	sequencer := NewSequencer(dispatcher, nil, 20*time.Millisecond, nil)

	require.Equal(t, 7, sequencer.Steps())

	start := time.Now()
	err := sequencer.Run(context.Background(), "device-1000")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, []ewelink.SwitchState{
		ewelink.SwitchOn, ewelink.SwitchOff,
		ewelink.SwitchOn, ewelink.SwitchOff,
		ewelink.SwitchOn, ewelink.SwitchOff,
		ewelink.SwitchOn,
	}, dispatcher.states)

	// The inter-step delay is part of the observable contract: six
	// gaps of at least 20ms each.
	assert.GreaterOrEqual(t, elapsed, 6*20*time.Millisecond)
}

func TestSequencer_AbortsAtFailingStep(t *testing.T) {
	// Fourth command (step index 3, an OFF) fails.
	dispatcher := &mockDispatcher{failStep: 4}
	sequencer := NewSequencer(dispatcher, nil, time.Millisecond, nil)

	err := sequencer.Run(context.Background(), "device-1000")
	require.Error(t, err)

	var step *StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, 3, step.Step)
	assert.Equal(t, ewelink.SwitchOff, step.State)
	assert.Equal(t, ewelink.SwitchOn, step.LastState)

	// Nothing past the failing step was issued.
	assert.Len(t, dispatcher.states, 3)
}

func TestSequencer_FirstStepFailure(t *testing.T) {
	dispatcher := &mockDispatcher{failStep: 1}
	sequencer := NewSequencer(dispatcher, nil, time.Millisecond, nil)

	err := sequencer.Run(context.Background(), "device-1000")

	var step *StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, 0, step.Step)
	assert.Empty(t, step.LastState, "no state was ever commanded")
	assert.Empty(t, dispatcher.states)
}

func TestSequencer_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	dispatcher := &mockDispatcher{}
	dispatcher.onCall = func(call int) {
		if call == 2 {
			cancel()
		}
	}

	sequencer := NewSequencer(dispatcher, nil, 10*time.Millisecond, nil)

	err := sequencer.Run(ctx, "device-1000")
	assert.ErrorIs(t, err, context.Canceled)

	// The cancellation landed during the delay after the second
	// command; the third was never issued.
	assert.Len(t, dispatcher.states, 2)
	assert.Equal(t, ewelink.SwitchOff, dispatcher.states[1])
}

func TestSequencer_CustomPattern(t *testing.T) {
	dispatcher := &mockDispatcher{}
	pattern := []ewelink.SwitchState{ewelink.SwitchOff}
	sequencer := NewSequencer(dispatcher, pattern, time.Millisecond, nil)

	require.NoError(t, sequencer.Run(context.Background(), "device-1000"))
	assert.Equal(t, pattern, dispatcher.states)
}
