// Package clock provides the time source and named timers the execution
// core runs on. Strategies schedule against the Clock interface so tests
// can drive time deterministically.
package clock

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meridianhq/meridian/internal/messaging"
)

// TimeEvent announces a named timer firing
type TimeEvent struct {
	messaging.EventBase
	Name string
}

// NewTimeEvent creates a time event for a timer firing at tsEvent
func NewTimeEvent(name string, tsEvent, tsInit int64) TimeEvent {
	return TimeEvent{EventBase: messaging.NewEventBase(tsEvent, tsInit), Name: name}
}

// Clock is the scheduling surface. Implementations deliver timer callbacks
// on their own schedule; callers that need serialized handling publish the
// event onto the bus from the callback.
type Clock interface {
	// TimestampNs returns the current time as nanoseconds since the epoch
	TimestampNs() int64

	// Now returns the current time
	Now() time.Time

	// SetTimer registers a repeating timer firing every interval
	SetTimer(name string, interval time.Duration, callback func(TimeEvent)) error

	// SetTimeAlert registers a one-shot timer firing at alertTime
	SetTimeAlert(name string, alertTime time.Time, callback func(TimeEvent)) error

	// CancelTimer stops and removes one named timer
	CancelTimer(name string) bool

	// CancelTimers stops and removes every registered timer
	CancelTimers()

	// TimerNames returns the names of the registered timers, sorted
	TimerNames() []string
}

// LiveClock is the wall-clock implementation used by the trading node
type LiveClock struct {
	mu     sync.Mutex
	timers map[string]*liveTimer
}

type liveTimer struct {
	stop chan struct{}
	once sync.Once
}

func (t *liveTimer) cancel() {
	t.once.Do(func() { close(t.stop) })
}

// NewLiveClock creates a wall-clock backed clock
func NewLiveClock() *LiveClock {
	return &LiveClock{timers: make(map[string]*liveTimer)}
}

// TimestampNs returns the current wall-clock time in nanoseconds
func (c *LiveClock) TimestampNs() int64 { return time.Now().UnixNano() }

// Now returns the current wall-clock time
func (c *LiveClock) Now() time.Time { return time.Now() }

// SetTimer registers a repeating timer firing every interval
func (c *LiveClock) SetTimer(name string, interval time.Duration, callback func(TimeEvent)) error {
	if interval <= 0 {
		return fmt.Errorf("timer %s interval must be positive", name)
	}
	t, err := c.register(name)
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case now := <-ticker.C:
				callback(NewTimeEvent(name, now.UnixNano(), time.Now().UnixNano()))
			}
		}
	}()
	return nil
}

// SetTimeAlert registers a one-shot timer firing at alertTime. Alerts in
// the past fire immediately.
func (c *LiveClock) SetTimeAlert(name string, alertTime time.Time, callback func(TimeEvent)) error {
	t, err := c.register(name)
	if err != nil {
		return err
	}

	go func() {
		delay := time.Until(alertTime)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-t.stop:
			return
		case now := <-timer.C:
			callback(NewTimeEvent(name, now.UnixNano(), time.Now().UnixNano()))
			c.CancelTimer(name)
		}
	}()
	return nil
}

func (c *LiveClock) register(name string) (*liveTimer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.timers[name]; exists {
		return nil, fmt.Errorf("timer %s already registered", name)
	}
	t := &liveTimer{stop: make(chan struct{})}
	c.timers[name] = t
	return t, nil
}

// CancelTimer stops and removes one named timer
func (c *LiveClock) CancelTimer(name string) bool {
	c.mu.Lock()
	t, ok := c.timers[name]
	if ok {
		delete(c.timers, name)
	}
	c.mu.Unlock()

	if ok {
		t.cancel()
	}
	return ok
}

// CancelTimers stops and removes every registered timer
func (c *LiveClock) CancelTimers() {
	c.mu.Lock()
	timers := c.timers
	c.timers = make(map[string]*liveTimer)
	c.mu.Unlock()

	for _, t := range timers {
		t.cancel()
	}
}

// TimerNames returns the names of the registered timers, sorted
func (c *LiveClock) TimerNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.timers))
	for name := range c.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ Clock = (*LiveClock)(nil)
