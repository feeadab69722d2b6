package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/domain"
)

func TestTransitionHappyPath(t *testing.T) {
	cases := []struct {
		name    string
		from    State
		trigger Trigger
		want    State
	}{
		{"start", StateInitialized, TriggerStart, StateStarting},
		{"start completed", StateStarting, TriggerStartCompleted, StateRunning},
		{"stop while starting", StateStarting, TriggerStop, StateStopping},
		{"stop while running", StateRunning, TriggerStop, StateStopping},
		{"stop while resuming", StateResuming, TriggerStop, StateStopping},
		{"stop completed", StateStopping, TriggerStopCompleted, StateStopped},
		{"resume", StateStopped, TriggerResume, StateResuming},
		{"resume completed", StateResuming, TriggerResumeCompleted, StateRunning},
		{"reset before first start", StateInitialized, TriggerReset, StateResetting},
		{"reset after stop", StateStopped, TriggerReset, StateResetting},
		{"reset completed", StateResetting, TriggerResetCompleted, StateInitialized},
		{"dispose before first start", StateInitialized, TriggerDispose, StateDisposing},
		{"dispose after stop", StateStopped, TriggerDispose, StateDisposing},
		{"dispose completed", StateDisposing, TriggerDisposeCompleted, StateDisposed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.from, tc.trigger)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTransitionRejectsIllegalSources(t *testing.T) {
	cases := []struct {
		name    string
		from    State
		trigger Trigger
	}{
		{"start while running", StateRunning, TriggerStart},
		{"start after stop", StateStopped, TriggerStart},
		{"stop before start", StateInitialized, TriggerStop},
		{"stop twice", StateStopped, TriggerStop},
		{"resume while running", StateRunning, TriggerResume},
		{"resume before first start", StateInitialized, TriggerResume},
		{"reset while running", StateRunning, TriggerReset},
		{"dispose while running", StateRunning, TriggerDispose},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Transition(tc.from, tc.trigger)
			assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
		})
	}
}

func TestDisposedRejectsEveryTrigger(t *testing.T) {
	triggers := []Trigger{
		TriggerStart, TriggerStartCompleted, TriggerStop, TriggerStopCompleted,
		TriggerResume, TriggerResumeCompleted, TriggerReset, TriggerResetCompleted,
		TriggerDispose, TriggerDisposeCompleted,
	}

	for _, trig := range triggers {
		_, err := Transition(StateDisposed, trig)
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, trig.String())
	}
}

func TestNonTerminalStatesAcceptAtLeastOneTrigger(t *testing.T) {
	states := []State{
		StateInitialized, StateStarting, StateRunning, StateStopping,
		StateStopped, StateResuming, StateResetting, StateDisposing,
	}
	triggers := []Trigger{
		TriggerStart, TriggerStartCompleted, TriggerStop, TriggerStopCompleted,
		TriggerResume, TriggerResumeCompleted, TriggerReset, TriggerResetCompleted,
		TriggerDispose, TriggerDisposeCompleted,
	}

	for _, s := range states {
		accepted := false
		for _, trig := range triggers {
			if _, err := Transition(s, trig); err == nil {
				accepted = true
				break
			}
		}
		assert.True(t, accepted, "%s accepts no trigger", s)
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "INITIALIZED", StateInitialized.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "DISPOSED", StateDisposed.String())
	assert.Equal(t, "UNKNOWN", State(0).String())

	assert.Equal(t, "Start", TriggerStart.String())
	assert.Equal(t, "DisposeCompleted", TriggerDisposeCompleted.String())
	assert.Equal(t, "Unknown", Trigger(0).String())
}
