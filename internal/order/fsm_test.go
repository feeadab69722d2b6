package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/domain"
)

func TestTransitionHappyPath(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		trigger Trigger
		want    Status
	}{
		{"submit", StatusInitialized, TriggerSubmitted, StatusSubmitted},
		{"deny", StatusInitialized, TriggerDenied, StatusDenied},
		{"reject", StatusSubmitted, TriggerRejected, StatusRejected},
		{"accept", StatusSubmitted, TriggerAccepted, StatusAccepted},
		{"trigger stop", StatusAccepted, TriggerTriggered, StatusTriggered},
		{"pending update", StatusAccepted, TriggerPendingUpdate, StatusPendingUpdate},
		{"pending cancel", StatusTriggered, TriggerPendingCancel, StatusPendingCancel},
		{"cancel", StatusPartiallyFilled, TriggerCanceled, StatusCanceled},
		{"expire", StatusAccepted, TriggerExpired, StatusExpired},
		{"fill from submitted", StatusSubmitted, TriggerFill, StatusFilled},
		{"partial fill while pending cancel", StatusPendingCancel, TriggerPartialFill, StatusPartiallyFilled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.from, tc.from, tc.trigger)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTransitionRejectsIllegalSources(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		trigger Trigger
	}{
		{"accept without submit", StatusInitialized, TriggerAccepted},
		{"deny after submit", StatusSubmitted, TriggerDenied},
		{"reject after accept", StatusAccepted, TriggerRejected},
		{"cancel before accept", StatusSubmitted, TriggerCanceled},
		{"modify reject outside pending update", StatusAccepted, TriggerModifyRejected},
		{"cancel reject outside pending cancel", StatusPendingUpdate, TriggerCancelRejected},
		{"fill after cancel", StatusCanceled, TriggerFill},
		{"submit twice", StatusSubmitted, TriggerSubmitted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Transition(tc.from, tc.from, tc.trigger)
			assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
		})
	}
}

func TestTransitionRestoresRestingStatusFromPending(t *testing.T) {
	got, err := Transition(StatusPendingUpdate, StatusAccepted, TriggerModifyRejected)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got)

	got, err = Transition(StatusPendingCancel, StatusPartiallyFilled, TriggerCancelRejected)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, got)

	got, err = Transition(StatusPendingUpdate, StatusTriggered, TriggerUpdated)
	require.NoError(t, err)
	assert.Equal(t, StatusTriggered, got)
}

func TestTransitionUpdatedOutsidePendingStaysPut(t *testing.T) {
	// A venue may apply an unsolicited amendment; the order stays where it is.
	got, err := Transition(StatusAccepted, StatusInitialized, TriggerUpdated)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got)

	got, err = Transition(StatusPartiallyFilled, StatusInitialized, TriggerUpdated)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, got)
}

func TestTerminalStatusSet(t *testing.T) {
	terminal := []Status{StatusDenied, StatusRejected, StatusCanceled, StatusExpired, StatusFilled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s.String())
	}

	resting := []Status{
		StatusInitialized, StatusSubmitted, StatusAccepted, StatusTriggered,
		StatusPendingUpdate, StatusPendingCancel, StatusPartiallyFilled,
	}
	for _, s := range resting {
		assert.False(t, s.IsTerminal(), s.String())
	}
}

func TestTerminalStatusesRejectEveryTrigger(t *testing.T) {
	terminal := []Status{StatusDenied, StatusRejected, StatusCanceled, StatusExpired, StatusFilled}
	triggers := []Trigger{
		TriggerDenied, TriggerSubmitted, TriggerRejected, TriggerAccepted,
		TriggerTriggered, TriggerPendingUpdate, TriggerPendingCancel,
		TriggerModifyRejected, TriggerCancelRejected, TriggerUpdated,
		TriggerCanceled, TriggerExpired, TriggerPartialFill, TriggerFill,
	}

	for _, s := range terminal {
		for _, trig := range triggers {
			_, err := Transition(s, s, trig)
			assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "%s + %s", s, trig)
		}
	}
}

func TestNonTerminalStatusesAcceptAtLeastOneTrigger(t *testing.T) {
	resting := []Status{
		StatusInitialized, StatusSubmitted, StatusAccepted, StatusTriggered,
		StatusPendingUpdate, StatusPendingCancel, StatusPartiallyFilled,
	}
	triggers := []Trigger{
		TriggerDenied, TriggerSubmitted, TriggerRejected, TriggerAccepted,
		TriggerTriggered, TriggerPendingUpdate, TriggerPendingCancel,
		TriggerModifyRejected, TriggerCancelRejected, TriggerUpdated,
		TriggerCanceled, TriggerExpired, TriggerPartialFill, TriggerFill,
	}

	for _, s := range resting {
		accepted := false
		for _, trig := range triggers {
			if _, err := Transition(s, s, trig); err == nil {
				accepted = true
				break
			}
		}
		assert.True(t, accepted, "%s accepts no trigger", s)
	}
}

func TestStatusStringRoundTrip(t *testing.T) {
	statuses := []Status{
		StatusInitialized, StatusDenied, StatusSubmitted, StatusRejected,
		StatusAccepted, StatusTriggered, StatusPendingUpdate, StatusPendingCancel,
		StatusUpdateRejected, StatusCancelRejected, StatusPartiallyFilled,
		StatusFilled, StatusCanceled, StatusExpired,
	}
	for _, s := range statuses {
		parsed, err := StatusFromString(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := StatusFromString("NOT_A_STATUS")
	assert.Error(t, err)
}
