package messaging

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	// ErrBusClosed indicates a publish or send after Stop
	ErrBusClosed = errors.New("message bus closed")

	// ErrBusFull indicates the dispatch queue rejected a message. Producers
	// never block on the bus; a full queue is surfaced to the caller.
	ErrBusFull = errors.New("message bus queue full")

	// ErrNoEndpoint indicates a send to an endpoint with no registered handler
	ErrNoEndpoint = errors.New("no handler registered at endpoint")
)

// Handler consumes a payload delivered by the bus
type Handler func(payload any)

// envelope is the unit queued for dispatch. Exactly one of endpoint, topic
// or flush is set.
type envelope struct {
	endpoint Endpoint
	topic    Topic
	payload  any
	flush    chan struct{}
}

type subscription struct {
	topic   Topic
	handler Handler
}

// Bus is the in-process message bus. Endpoints give point-to-point command
// and report delivery; topics give fan-out event publication. All handlers
// run on the single dispatch goroutine, so consumers observe messages in
// publication order and never concurrently.
type Bus struct {
	log zerolog.Logger

	queue chan envelope

	mu        sync.RWMutex
	endpoints map[Endpoint]Handler
	subs      map[Topic][]*subscription

	closed  atomic.Bool
	started atomic.Bool
	wg      sync.WaitGroup

	sent      atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates a bus with a bounded dispatch queue
func NewBus(capacity int, log zerolog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Bus{
		log:       log.With().Str("component", "bus").Logger(),
		queue:     make(chan envelope, capacity),
		endpoints: make(map[Endpoint]Handler),
		subs:      make(map[Topic][]*subscription),
	}
}

// Start launches the dispatch goroutine. Starting twice is a no-op.
func (b *Bus) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.wg.Add(1)
	go b.dispatch()
	b.log.Debug().Int("capacity", cap(b.queue)).Msg("Message bus started")
}

// Stop drains the queue and stops the dispatch goroutine. Messages enqueued
// before Stop are still delivered; anything arriving after is rejected with
// ErrBusClosed.
func (b *Bus) Stop() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	if !b.started.Load() {
		return
	}
	done := make(chan struct{})
	b.queue <- envelope{flush: done}
	<-done
	close(b.queue)
	b.wg.Wait()
	b.log.Debug().
		Uint64("sent", b.sent.Load()).
		Uint64("published", b.published.Load()).
		Uint64("dropped", b.dropped.Load()).
		Msg("Message bus stopped")
}

// Register installs the handler for an endpoint, replacing any previous one
func (b *Bus) Register(endpoint Endpoint, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[endpoint] = h
}

// Deregister removes the handler for an endpoint
func (b *Bus) Deregister(endpoint Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, endpoint)
}

// Subscribe adds a topic handler and returns its unsubscribe function
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	sub := &subscription{topic: topic, handler: h}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
}

// SubscribeTo adds a topic handler that only receives payloads of type T.
// Payloads of any other type published on the topic are ignored by this
// subscription.
func SubscribeTo[T any](b *Bus, topic Topic, fn func(T)) (unsubscribe func()) {
	return b.Subscribe(topic, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}

// Send queues a payload for the handler registered at an endpoint. The
// handler is resolved at dispatch time, so registrations racing the send
// are honored.
func (b *Bus) Send(endpoint Endpoint, payload any) error {
	if err := b.enqueue(envelope{endpoint: endpoint, payload: payload}); err != nil {
		return err
	}
	b.sent.Add(1)
	return nil
}

// Publish queues a payload for every subscriber of a topic
func (b *Bus) Publish(topic Topic, payload any) error {
	if err := b.enqueue(envelope{topic: topic, payload: payload}); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Flush blocks until every message queued before the call has been
// dispatched. Used by shutdown and by tests that need deterministic
// delivery points.
func (b *Bus) Flush() {
	if b.closed.Load() || !b.started.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case b.queue <- envelope{flush: done}:
		<-done
	default:
		// Queue full: everything ahead of us is still being worked through,
		// retry with a blocking enqueue.
		b.queue <- envelope{flush: done}
		<-done
	}
}

func (b *Bus) enqueue(env envelope) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	select {
	case b.queue <- env:
		return nil
	default:
		b.dropped.Add(1)
		return ErrBusFull
	}
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	for env := range b.queue {
		switch {
		case env.flush != nil:
			close(env.flush)
			if b.closed.Load() {
				return
			}
		case env.endpoint != "":
			b.deliverEndpoint(env)
		default:
			b.deliverTopic(env)
		}
	}
}

func (b *Bus) deliverEndpoint(env envelope) {
	b.mu.RLock()
	h, ok := b.endpoints[env.endpoint]
	b.mu.RUnlock()

	if !ok {
		b.log.Warn().Str("endpoint", string(env.endpoint)).Msg("Message to unregistered endpoint dropped")
		return
	}
	b.invoke(h, env.payload, string(env.endpoint))
}

func (b *Bus) deliverTopic(env envelope) {
	b.mu.RLock()
	list := b.subs[env.topic]
	handlers := make([]Handler, len(list))
	for i, s := range list {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, env.payload, string(env.topic))
	}
}

// invoke shields the dispatch goroutine from handler panics. A panicking
// consumer loses its message; the bus keeps running.
func (b *Bus) invoke(h Handler, payload any, destination string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("destination", destination).
				Interface("panic", r).
				Msg("Handler panicked")
		}
	}()
	h(payload)
}

// Stats reports bus throughput counters
func (b *Bus) Stats() (sent, published, dropped uint64) {
	return b.sent.Load(), b.published.Load(), b.dropped.Load()
}
