package data

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
)

// Engine routes market data. Clients deliver ticks, bars and instrument
// definitions to the process endpoint; the engine fans them out on typed
// topics and keeps the latest instrument definitions. Requests flow to the
// owning client by venue and their responses resolve through the
// correlator, so each requester's callback fires at most once.
//
// All handlers run on the bus dispatch goroutine. Start and Stop belong to
// the owning process; nothing here is safe for concurrent use beyond that
// arrangement.
type Engine struct {
	log        zerolog.Logger
	bus        *messaging.Bus
	correlator *messaging.Correlator

	clients       map[domain.Venue]Client
	defaultClient Client
	instruments   map[domain.InstrumentID]domain.Instrument

	dataCount     uint64
	requestCount  uint64
	responseCount uint64
}

// NewEngine creates a data engine on the given bus
func NewEngine(bus *messaging.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		log:         log.With().Str("component", "data_engine").Logger(),
		bus:         bus,
		correlator:  messaging.NewCorrelator(log),
		clients:     make(map[domain.Venue]Client),
		instruments: make(map[domain.InstrumentID]domain.Instrument),
	}
}

// RegisterClient adds a venue client. Registering a second client for the
// same venue is an error.
func (e *Engine) RegisterClient(c Client) error {
	venue := c.Venue()
	if _, exists := e.clients[venue]; exists {
		return fmt.Errorf("%w: data client for venue %s already registered",
			domain.ErrInvariantViolation, venue)
	}
	e.clients[venue] = c
	e.log.Info().Str("venue", string(venue)).Msg("data client registered")
	return nil
}

// RegisterDefaultClient sets the client used for venues without their own
func (e *Engine) RegisterDefaultClient(c Client) {
	e.defaultClient = c
	e.log.Info().Str("venue", string(c.Venue())).Msg("default data client registered")
}

// Start registers the engine's endpoints and connects every client
func (e *Engine) Start(ctx context.Context) error {
	e.bus.Register(messaging.EndpointDataProcess, func(payload any) {
		e.Process(payload)
	})
	e.bus.Register(messaging.EndpointDataResponse, func(payload any) {
		resp, ok := payload.(messaging.Response)
		if !ok {
			e.log.Warn().Str("payload", fmt.Sprintf("%T", payload)).Msg("non-response payload on response endpoint")
			return
		}
		e.Response(resp)
	})

	for venue, c := range e.clients {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("connecting data client %s: %w", venue, err)
		}
	}
	e.log.Info().Int("clients", len(e.clients)).Msg("data engine started")
	return nil
}

// Stop disconnects every client and deregisters the engine's endpoints
func (e *Engine) Stop(ctx context.Context) error {
	var firstErr error
	for venue, c := range e.clients {
		if err := c.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disconnecting data client %s: %w", venue, err)
		}
	}
	e.bus.Deregister(messaging.EndpointDataProcess)
	e.bus.Deregister(messaging.EndpointDataResponse)
	e.log.Info().
		Uint64("data", e.dataCount).
		Uint64("requests", e.requestCount).
		Uint64("responses", e.responseCount).
		Msg("data engine stopped")
	return firstErr
}

// Process fans one piece of market data out on its typed topic.
// Instrument definitions are additionally kept for later lookup.
func (e *Engine) Process(data any) {
	e.dataCount++
	switch v := data.(type) {
	case domain.QuoteTick:
		e.publish(messaging.TopicQuoteTicks(v.InstrumentID), v)
	case domain.TradeTick:
		e.publish(messaging.TopicTradeTicks(v.InstrumentID), v)
	case domain.Bar:
		e.publish(messaging.TopicBars(v.Type), v)
	case domain.Instrument:
		e.instruments[v.ID] = v
		e.publish(messaging.TopicInstrument(v.ID), v)
	case domain.OrderBookDelta:
		e.publish(messaging.TopicOrderBookDeltas(v.InstrumentID), v)
	case domain.InstrumentStatus:
		e.publish(messaging.TopicInstrumentStatus(v.InstrumentID), v)
	case domain.InstrumentClose:
		e.publish(messaging.TopicInstrumentClose(v.InstrumentID), v)
	default:
		e.log.Warn().Str("payload", fmt.Sprintf("%T", data)).Msg("unrecognized data payload dropped")
	}
}

// Response resolves a client response against its pending request.
// Instrument responses also refresh the definition table.
func (e *Engine) Response(resp messaging.Response) {
	e.responseCount++
	if v, ok := resp.(InstrumentResponse); ok {
		e.instruments[v.Instrument.ID] = v.Instrument
	}
	e.correlator.Resolve(resp)
}

// Request routes a data request to the owning venue client and tracks its
// callback for the response.
func (e *Engine) Request(req messaging.Request) error {
	var venue domain.Venue
	switch v := req.(type) {
	case RequestInstrument:
		venue = v.InstrumentID.Venue()
	case RequestQuoteTicks:
		venue = v.InstrumentID.Venue()
	case RequestTradeTicks:
		venue = v.InstrumentID.Venue()
	case RequestBars:
		venue = v.BarType.InstrumentID.Venue()
	default:
		return fmt.Errorf("%w: unrecognized data request %T", domain.ErrInvariantViolation, req)
	}

	c, err := e.clientFor(venue)
	if err != nil {
		return err
	}
	if err := e.correlator.Track(req); err != nil {
		return err
	}
	e.requestCount++
	if err := c.Request(req); err != nil {
		e.correlator.Abandon(req.ID())
		return err
	}
	return nil
}

// Instrument returns the latest definition seen for an instrument
func (e *Engine) Instrument(id domain.InstrumentID) (domain.Instrument, bool) {
	ins, ok := e.instruments[id]
	return ins, ok
}

// Instruments returns the ids with known definitions
func (e *Engine) Instruments() []domain.InstrumentID {
	out := make([]domain.InstrumentID, 0, len(e.instruments))
	for id := range e.instruments {
		out = append(out, id)
	}
	return out
}

// SubscribeInstrument subscribes to definition updates for an instrument
func (e *Engine) SubscribeInstrument(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.SubscribeInstrument(id)
}

// SubscribeOrderBookDeltas subscribes to the book delta stream of an
// instrument
func (e *Engine) SubscribeOrderBookDeltas(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.SubscribeOrderBookDeltas(id)
}

// SubscribeInstrumentStatus subscribes to trading phase changes of an
// instrument
func (e *Engine) SubscribeInstrumentStatus(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.SubscribeInstrumentStatus(id)
}

// SubscribeInstrumentClose subscribes to venue close prices of an instrument
func (e *Engine) SubscribeInstrumentClose(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.SubscribeInstrumentClose(id)
}

// SubscribeQuoteTicks subscribes to the quote stream of an instrument
func (e *Engine) SubscribeQuoteTicks(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.SubscribeQuoteTicks(id)
}

// SubscribeTradeTicks subscribes to the trade stream of an instrument
func (e *Engine) SubscribeTradeTicks(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.SubscribeTradeTicks(id)
}

// SubscribeBars subscribes to a bar stream
func (e *Engine) SubscribeBars(barType domain.BarType) error {
	c, err := e.clientFor(barType.InstrumentID.Venue())
	if err != nil {
		return err
	}
	return c.SubscribeBars(barType)
}

// UnsubscribeInstrument drops the definition subscription of an instrument
func (e *Engine) UnsubscribeInstrument(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.UnsubscribeInstrument(id)
}

// UnsubscribeOrderBookDeltas drops the book delta subscription of an
// instrument
func (e *Engine) UnsubscribeOrderBookDeltas(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.UnsubscribeOrderBookDeltas(id)
}

// UnsubscribeInstrumentStatus drops the trading phase subscription of an
// instrument
func (e *Engine) UnsubscribeInstrumentStatus(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.UnsubscribeInstrumentStatus(id)
}

// UnsubscribeInstrumentClose drops the close price subscription of an
// instrument
func (e *Engine) UnsubscribeInstrumentClose(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.UnsubscribeInstrumentClose(id)
}

// UnsubscribeQuoteTicks drops the quote subscription of an instrument
func (e *Engine) UnsubscribeQuoteTicks(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.UnsubscribeQuoteTicks(id)
}

// UnsubscribeTradeTicks drops the trade subscription of an instrument
func (e *Engine) UnsubscribeTradeTicks(id domain.InstrumentID) error {
	c, err := e.clientFor(id.Venue())
	if err != nil {
		return err
	}
	return c.UnsubscribeTradeTicks(id)
}

// UnsubscribeBars drops a bar stream subscription
func (e *Engine) UnsubscribeBars(barType domain.BarType) error {
	c, err := e.clientFor(barType.InstrumentID.Venue())
	if err != nil {
		return err
	}
	return c.UnsubscribeBars(barType)
}

// PendingRequests returns how many requests still await responses
func (e *Engine) PendingRequests() int { return e.correlator.PendingCount() }

func (e *Engine) clientFor(venue domain.Venue) (Client, error) {
	if c, ok := e.clients[venue]; ok {
		return c, nil
	}
	if e.defaultClient != nil {
		return e.defaultClient, nil
	}
	return nil, fmt.Errorf("%w: no data client for venue %s", domain.ErrMissingCollaborator, venue)
}

func (e *Engine) publish(topic messaging.Topic, payload any) {
	if err := e.bus.Publish(topic, payload); err != nil {
		e.log.Error().Err(err).Str("topic", string(topic)).Msg("publish failed")
	}
}
