package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestClockAdvancesAndFiresRepeatingTimer(t *testing.T) {
	c := NewTestClock(0)

	var fired []int64
	require.NoError(t, c.SetTimer("bar-close", time.Second, func(e TimeEvent) {
		fired = append(fired, e.TsEvent())
	}))

	events := c.AdvanceTime(3 * time.Second.Nanoseconds())

	require.Len(t, events, 3)
	assert.Equal(t, []int64{
		time.Second.Nanoseconds(),
		2 * time.Second.Nanoseconds(),
		3 * time.Second.Nanoseconds(),
	}, fired)
	assert.Equal(t, 3*time.Second.Nanoseconds(), c.TimestampNs())
}

func TestTestClockOneShotAlertFiresOnceAndUnregisters(t *testing.T) {
	c := NewTestClock(0)

	count := 0
	alertAt := time.Unix(0, 500).UTC()
	require.NoError(t, c.SetTimeAlert("session-open", alertAt, func(TimeEvent) { count++ }))

	c.AdvanceTime(1_000)
	c.AdvanceTime(2_000)

	assert.Equal(t, 1, count)
	assert.Empty(t, c.TimerNames())
}

func TestTestClockFiresDueTimersInChronologicalOrder(t *testing.T) {
	c := NewTestClock(0)

	var order []string
	require.NoError(t, c.SetTimeAlert("later", time.Unix(0, 300), func(e TimeEvent) {
		order = append(order, e.Name)
	}))
	require.NoError(t, c.SetTimeAlert("sooner", time.Unix(0, 100), func(e TimeEvent) {
		order = append(order, e.Name)
	}))

	c.AdvanceTime(400)

	assert.Equal(t, []string{"sooner", "later"}, order)
}

func TestTestClockRejectsDuplicateTimerNames(t *testing.T) {
	c := NewTestClock(0)
	require.NoError(t, c.SetTimer("t", time.Second, func(TimeEvent) {}))
	assert.Error(t, c.SetTimer("t", time.Second, func(TimeEvent) {}))
}

func TestTestClockCancelTimersStopsFiring(t *testing.T) {
	c := NewTestClock(0)

	count := 0
	require.NoError(t, c.SetTimer("a", time.Second, func(TimeEvent) { count++ }))
	require.NoError(t, c.SetTimer("b", time.Second, func(TimeEvent) { count++ }))
	require.Equal(t, []string{"a", "b"}, c.TimerNames())

	c.CancelTimers()
	c.AdvanceTime(5 * time.Second.Nanoseconds())

	assert.Zero(t, count)
	assert.Empty(t, c.TimerNames())
}

func TestLiveClockTimestampsAreMonotonicEnough(t *testing.T) {
	c := NewLiveClock()
	first := c.TimestampNs()
	second := c.TimestampNs()
	assert.GreaterOrEqual(t, second, first)
}

func TestLiveClockCancelTimerIsIdempotent(t *testing.T) {
	c := NewLiveClock()
	require.NoError(t, c.SetTimer("tick", time.Hour, func(TimeEvent) {}))

	assert.True(t, c.CancelTimer("tick"))
	assert.False(t, c.CancelTimer("tick"))
}
