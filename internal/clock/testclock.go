package clock

import (
	"fmt"
	"sort"
	"time"
)

// TestClock is a manually driven clock for deterministic tests. Time only
// moves when SetTime or AdvanceTime is called, and due timers fire inline
// on the advancing goroutine in chronological order.
type TestClock struct {
	nowNs  int64
	timers map[string]*testTimer
}

type testTimer struct {
	name     string
	nextNs   int64
	interval time.Duration // zero for one-shot alerts
	callback func(TimeEvent)
}

// NewTestClock creates a test clock starting at the given time
func NewTestClock(startNs int64) *TestClock {
	return &TestClock{nowNs: startNs, timers: make(map[string]*testTimer)}
}

// TimestampNs returns the clock's current time in nanoseconds
func (c *TestClock) TimestampNs() int64 { return c.nowNs }

// Now returns the clock's current time
func (c *TestClock) Now() time.Time { return time.Unix(0, c.nowNs).UTC() }

// SetTime moves the clock without firing timers
func (c *TestClock) SetTime(nowNs int64) { c.nowNs = nowNs }

// SetTimer registers a repeating timer firing every interval
func (c *TestClock) SetTimer(name string, interval time.Duration, callback func(TimeEvent)) error {
	if interval <= 0 {
		return fmt.Errorf("timer %s interval must be positive", name)
	}
	if _, exists := c.timers[name]; exists {
		return fmt.Errorf("timer %s already registered", name)
	}
	c.timers[name] = &testTimer{
		name:     name,
		nextNs:   c.nowNs + interval.Nanoseconds(),
		interval: interval,
		callback: callback,
	}
	return nil
}

// SetTimeAlert registers a one-shot timer firing at alertTime
func (c *TestClock) SetTimeAlert(name string, alertTime time.Time, callback func(TimeEvent)) error {
	if _, exists := c.timers[name]; exists {
		return fmt.Errorf("timer %s already registered", name)
	}
	c.timers[name] = &testTimer{
		name:     name,
		nextNs:   alertTime.UnixNano(),
		callback: callback,
	}
	return nil
}

// AdvanceTime moves the clock to toNs, firing every due timer in
// chronological order. Returns the fired events in firing order.
func (c *TestClock) AdvanceTime(toNs int64) []TimeEvent {
	var fired []TimeEvent

	for {
		next := c.nextDue(toNs)
		if next == nil {
			break
		}
		c.nowNs = next.nextNs
		event := NewTimeEvent(next.name, next.nextNs, next.nextNs)
		if next.interval > 0 {
			next.nextNs += next.interval.Nanoseconds()
		} else {
			delete(c.timers, next.name)
		}
		next.callback(event)
		fired = append(fired, event)
	}

	if c.nowNs < toNs {
		c.nowNs = toNs
	}
	return fired
}

// nextDue returns the earliest timer due at or before toNs, name-ordered
// for ties so firing order is deterministic.
func (c *TestClock) nextDue(toNs int64) *testTimer {
	var due *testTimer
	for _, t := range c.timers {
		if t.nextNs > toNs {
			continue
		}
		if due == nil || t.nextNs < due.nextNs || (t.nextNs == due.nextNs && t.name < due.name) {
			due = t
		}
	}
	return due
}

// CancelTimer stops and removes one named timer
func (c *TestClock) CancelTimer(name string) bool {
	if _, ok := c.timers[name]; !ok {
		return false
	}
	delete(c.timers, name)
	return true
}

// CancelTimers stops and removes every registered timer
func (c *TestClock) CancelTimers() {
	c.timers = make(map[string]*testTimer)
}

// TimerNames returns the names of the registered timers, sorted
func (c *TestClock) TimerNames() []string {
	names := make([]string, 0, len(c.timers))
	for name := range c.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ Clock = (*TestClock)(nil)
