package messaging

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrDuplicateCorrelation indicates a request id was registered twice
var ErrDuplicateCorrelation = errors.New("correlation id already registered")

// Correlator resolves responses back to the requests that caused them.
// Each registered continuation runs at most once: resolving removes it,
// so a duplicate response for the same request id is logged and dropped.
type Correlator struct {
	log zerolog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]func(Response)
}

// NewCorrelator creates an empty correlator
func NewCorrelator(log zerolog.Logger) *Correlator {
	return &Correlator{
		log:     log.With().Str("component", "correlator").Logger(),
		pending: make(map[uuid.UUID]func(Response)),
	}
}

// Track registers the callback of a request under the request id.
// Requests without a callback are not tracked.
func (c *Correlator) Track(req Request) error {
	callback := req.Callback()
	if callback == nil {
		return nil
	}
	return c.Register(req.ID(), callback)
}

// Register stores a continuation under a correlation id
func (c *Correlator) Register(correlationID uuid.UUID, fn func(Response)) error {
	if fn == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[correlationID]; exists {
		return ErrDuplicateCorrelation
	}
	c.pending[correlationID] = fn
	return nil
}

// Resolve delivers a response to its pending continuation and removes the
// registration. Returns false when no continuation is pending, which covers
// both unknown correlation ids and duplicate responses.
func (c *Correlator) Resolve(resp Response) bool {
	c.mu.Lock()
	fn, ok := c.pending[resp.CorrelationID()]
	if ok {
		delete(c.pending, resp.CorrelationID())
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warn().
			Str("correlation_id", resp.CorrelationID().String()).
			Str("response_id", resp.ID().String()).
			Msg("Response without pending request dropped")
		return false
	}

	// Invoke outside the lock: the continuation may issue follow-up requests.
	fn(resp)
	return true
}

// Abandon removes a pending continuation without invoking it
func (c *Correlator) Abandon(correlationID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[correlationID]; !ok {
		return false
	}
	delete(c.pending, correlationID)
	return true
}

// PendingCount returns the number of unresolved requests
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
