package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
	"github.com/meridianhq/meridian/internal/store"
)

// Engine routes trading commands to venue clients and applies the events
// venues report back. It is the exclusive owner of the cache: orders,
// positions and accounts are mutated here and nowhere else, always on the
// bus dispatch goroutine. Events that fail to apply are logged and dropped,
// never buffered or retried; the venue's stream stays authoritative.
type Engine struct {
	log zerolog.Logger
	bus *messaging.Bus
	clk clock.Clock

	cache         *store.Cache
	clients       map[domain.Venue]Client
	defaultClient Client
	generators    map[domain.StrategyID]*position.Generator

	cmdCount   uint64
	eventCount uint64
}

// NewEngine creates an execution engine owning the given cache
func NewEngine(bus *messaging.Bus, clk clock.Clock, cache *store.Cache, log zerolog.Logger) *Engine {
	return &Engine{
		log:        log.With().Str("component", "exec_engine").Logger(),
		bus:        bus,
		clk:        clk,
		cache:      cache,
		clients:    make(map[domain.Venue]Client),
		generators: make(map[domain.StrategyID]*position.Generator),
	}
}

// Cache returns the live trading state the engine owns. Callers must only
// touch it from bus handlers.
func (e *Engine) Cache() *store.Cache { return e.cache }

// RegisterClient adds a venue client. Registering a second client for the
// same venue is an error.
func (e *Engine) RegisterClient(c Client) error {
	venue := c.Venue()
	if _, exists := e.clients[venue]; exists {
		return fmt.Errorf("%w: execution client for venue %s already registered",
			domain.ErrInvariantViolation, venue)
	}
	e.clients[venue] = c
	e.log.Info().Str("venue", string(venue)).Str("account_id", string(c.AccountID())).
		Msg("execution client registered")
	return nil
}

// RegisterDefaultClient sets the client used for venues without their own
func (e *Engine) RegisterDefaultClient(c Client) {
	e.defaultClient = c
	e.log.Info().Str("venue", string(c.Venue())).Msg("default execution client registered")
}

// PositionGenerator returns the position id generator for a strategy,
// creating it on first use. Strategies hold it for state save and restore.
func (e *Engine) PositionGenerator(strategyID domain.StrategyID) *position.Generator {
	gen, ok := e.generators[strategyID]
	if !ok {
		gen = position.NewGenerator(strategyID, e.clk)
		e.generators[strategyID] = gen
	}
	return gen
}

// Start registers the engine's endpoints and connects every client
func (e *Engine) Start(ctx context.Context) error {
	e.bus.Register(messaging.EndpointExecExecute, func(payload any) {
		e.Execute(payload)
	})
	e.bus.Register(messaging.EndpointExecProcess, func(payload any) {
		e.Process(payload)
	})

	for venue, c := range e.clients {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("connecting execution client %s: %w", venue, err)
		}
	}
	e.log.Info().Int("clients", len(e.clients)).Msg("execution engine started")
	return nil
}

// Stop disconnects every client and deregisters the engine's endpoints
func (e *Engine) Stop(ctx context.Context) error {
	var firstErr error
	for venue, c := range e.clients {
		if err := c.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disconnecting execution client %s: %w", venue, err)
		}
	}
	e.bus.Deregister(messaging.EndpointExecExecute)
	e.bus.Deregister(messaging.EndpointExecProcess)
	e.log.Info().
		Uint64("commands", e.cmdCount).
		Uint64("events", e.eventCount).
		Msg("execution engine stopped")
	return firstErr
}

// Execute routes one trading command to its venue client
func (e *Engine) Execute(cmd any) {
	e.cmdCount++
	switch c := cmd.(type) {
	case SubmitOrder:
		e.submitOrder(c)
	case SubmitBracketOrder:
		e.submitBracket(c)
	case ModifyOrder:
		e.modifyOrder(c)
	case CancelOrder:
		e.cancelOrder(c)
	case CancelAllOrders:
		e.cancelAllOrders(c)
	default:
		e.log.Warn().Str("payload", fmt.Sprintf("%T", cmd)).Msg("unrecognized command dropped")
	}
}

func (e *Engine) submitOrder(cmd SubmitOrder) {
	ord := cmd.Order
	if err := e.cache.AddOrder(ord); err != nil {
		e.log.Error().Err(err).Str("client_order_id", string(ord.ClientOrderID())).
			Msg("submit refused")
		return
	}

	c, err := e.clientFor(ord.InstrumentID().Venue())
	if err != nil {
		e.deny(ord, err.Error())
		return
	}
	if err := c.SubmitOrder(cmd); err != nil {
		e.deny(ord, err.Error())
		return
	}
	e.log.Info().
		Str("client_order_id", string(ord.ClientOrderID())).
		Str("instrument_id", string(ord.InstrumentID())).
		Str("side", ord.Side().String()).
		Msg("order submitted to venue client")
}

func (e *Engine) submitBracket(cmd SubmitBracketOrder) {
	orders := []*order.Order{cmd.Bracket.Entry, cmd.Bracket.StopLoss, cmd.Bracket.TakeProfit}
	for _, ord := range orders {
		if err := e.cache.AddOrder(ord); err != nil {
			e.log.Error().Err(err).Str("client_order_id", string(ord.ClientOrderID())).
				Msg("bracket submit refused")
			return
		}
	}

	entry := cmd.Bracket.Entry
	c, err := e.clientFor(entry.InstrumentID().Venue())
	if err != nil {
		for _, ord := range orders {
			e.deny(ord, err.Error())
		}
		return
	}
	if err := c.SubmitBracketOrder(cmd); err != nil {
		for _, ord := range orders {
			e.deny(ord, err.Error())
		}
		return
	}
	e.log.Info().
		Str("entry_order_id", string(entry.ClientOrderID())).
		Str("instrument_id", string(entry.InstrumentID())).
		Msg("bracket submitted to venue client")
}

func (e *Engine) modifyOrder(cmd ModifyOrder) {
	ord, ok := e.cache.Order(cmd.ClientOrderID)
	if !ok {
		e.log.Error().Str("client_order_id", string(cmd.ClientOrderID)).
			Msg("modify for unknown order dropped")
		return
	}
	c, err := e.clientFor(ord.InstrumentID().Venue())
	if err == nil {
		err = c.ModifyOrder(cmd)
	}
	if err != nil {
		// Rejections of in-flight modifies come from the venue stream;
		// failing to reach the venue at all is an engine error.
		e.log.Error().Err(err).Str("client_order_id", string(cmd.ClientOrderID)).
			Msg("modify failed")
	}
}

func (e *Engine) cancelOrder(cmd CancelOrder) {
	ord, ok := e.cache.Order(cmd.ClientOrderID)
	if !ok {
		e.log.Error().Str("client_order_id", string(cmd.ClientOrderID)).
			Msg("cancel for unknown order dropped")
		return
	}
	c, err := e.clientFor(ord.InstrumentID().Venue())
	if err == nil {
		err = c.CancelOrder(cmd)
	}
	if err != nil {
		e.log.Error().Err(err).Str("client_order_id", string(cmd.ClientOrderID)).
			Msg("cancel failed")
	}
}

func (e *Engine) cancelAllOrders(cmd CancelAllOrders) {
	c, err := e.clientFor(cmd.InstrumentID.Venue())
	if err != nil {
		e.log.Error().Err(err).Str("instrument_id", string(cmd.InstrumentID)).
			Msg("cancel-all has no venue client")
		return
	}
	if err := c.CancelAllOrders(cmd); err != nil {
		e.log.Error().Err(err).Str("instrument_id", string(cmd.InstrumentID)).
			Msg("cancel-all failed")
	}
}

// Process applies one venue-reported event to the cached state
func (e *Engine) Process(event any) {
	e.eventCount++
	switch ev := event.(type) {
	case order.Filled:
		e.processFill(ev)
	case order.Event:
		e.processOrderEvent(ev)
	case account.State:
		e.processAccountState(ev)
	default:
		e.log.Warn().Str("payload", fmt.Sprintf("%T", event)).Msg("unrecognized event dropped")
	}
}

func (e *Engine) processOrderEvent(ev order.Event) {
	ord, ok := e.cache.Order(ev.OrderID())
	if !ok {
		e.log.Error().Str("client_order_id", string(ev.OrderID())).
			Str("event", ev.EventType()).Msg("event for unknown order dropped")
		return
	}
	if !e.applyAndPublish(ord, ev) {
		return
	}
	if accepted, isAccepted := ev.(order.Accepted); isAccepted {
		e.cache.IndexVenueOrderID(accepted.VenueOrderID, ord.ClientOrderID())
	}
}

// processFill books a fill: position id assignment, commission calculation
// when the venue reported none, the order state change, account commission
// totals, and the resulting position event.
func (e *Engine) processFill(fill order.Filled) {
	ord, ok := e.cache.Order(fill.OrderID())
	if !ok {
		e.log.Error().Str("client_order_id", string(fill.OrderID())).
			Msg("fill for unknown order dropped")
		return
	}

	instrument, hasInstrument := e.cache.Instrument(ord.InstrumentID())
	va, hasAccount := e.cache.Account(fill.AccountID)

	if fill.PositionID == "" {
		if open, hasOpen := e.cache.OpenPosition(ord.StrategyID(), ord.InstrumentID()); hasOpen {
			fill.PositionID = open.ID()
		} else {
			fill.PositionID = e.PositionGenerator(ord.StrategyID()).Generate()
		}
	}

	if fill.Commission.IsZero() && hasAccount && hasInstrument {
		commission, err := va.CalculateCommission(instrument, fill.LastQty, fill.LastPx, fill.LiquiditySide)
		if err != nil {
			e.log.Error().Err(err).Str("client_order_id", string(ord.ClientOrderID())).
				Msg("commission calculation failed")
		} else {
			fill.Commission = commission
		}
	}

	if err := ord.Apply(fill); err != nil {
		e.log.Error().Err(err).
			Str("client_order_id", string(ord.ClientOrderID())).
			Str("trade_id", string(fill.TradeID)).
			Msg("fill rejected by order")
		return
	}

	if hasAccount {
		va.Base().UpdateCommissions(fill.Commission)
	}

	var posEvent position.Event
	pos, exists := e.cache.Position(fill.PositionID)
	switch {
	case !hasInstrument:
		e.log.Error().Str("instrument_id", string(ord.InstrumentID())).
			Msg("fill without instrument definition: position not tracked")
	case !exists:
		newPos, err := position.New(instrument, fill)
		if err != nil {
			e.log.Error().Err(err).Str("position_id", string(fill.PositionID)).
				Msg("position open failed")
			break
		}
		if err := e.cache.AddPosition(newPos); err != nil {
			e.log.Error().Err(err).Str("position_id", string(fill.PositionID)).
				Msg("position cache failed")
			break
		}
		pos = newPos
		posEvent = position.NewOpened(pos, fill, e.clk.TimestampNs())
	default:
		if hasAccount {
			if pnls, err := va.CalculatePnLs(instrument, fill, pos); err == nil && len(pnls) > 0 {
				e.log.Debug().Str("position_id", string(pos.ID())).
					Str("pnls", fmt.Sprintf("%v", pnls)).Msg("fill legs calculated")
			}
		}
		if err := pos.Apply(fill); err != nil {
			e.log.Error().Err(err).Str("position_id", string(pos.ID())).
				Str("trade_id", string(fill.TradeID)).
				Msg("fill rejected by position")
			break
		}
		if pos.IsClosed() {
			posEvent = position.NewClosed(pos, fill, e.clk.TimestampNs())
		} else {
			posEvent = position.NewChanged(pos, fill, e.clk.TimestampNs())
		}
	}

	e.publish(messaging.TopicOrderEvents(ord.StrategyID()), fill)
	if posEvent != nil {
		e.publish(messaging.TopicPositionEvents(ord.StrategyID()), posEvent)
	}
}

func (e *Engine) processAccountState(ev account.State) {
	va, ok := e.cache.Account(ev.AccountID)
	if !ok {
		created, err := account.FromEvents([]account.State{ev})
		if err != nil {
			e.log.Error().Err(err).Str("account_id", string(ev.AccountID)).
				Msg("account state rejected")
			return
		}
		if err := e.cache.AddAccount(created); err != nil {
			e.log.Error().Err(err).Str("account_id", string(ev.AccountID)).
				Msg("account cache failed")
			return
		}
	} else if err := va.Base().Apply(ev); err != nil {
		e.log.Error().Err(err).Str("account_id", string(ev.AccountID)).
			Msg("account state rejected")
		return
	}
	e.publish(messaging.TopicAccountEvents(ev.AccountID), ev)
}

// applyAndPublish applies an order event and, only when the order accepted
// it, fans it out to the owning strategy. Rejected transitions are logged
// and dropped; out-of-order venue streams never corrupt order state.
func (e *Engine) applyAndPublish(ord *order.Order, ev order.Event) bool {
	if err := ord.Apply(ev); err != nil {
		e.log.Error().Err(err).
			Str("client_order_id", string(ord.ClientOrderID())).
			Str("event", ev.EventType()).
			Str("status", ord.Status().String()).
			Msg("order event rejected")
		return false
	}
	e.publish(messaging.TopicOrderEvents(ord.StrategyID()), ev)
	return true
}

func (e *Engine) deny(ord *order.Order, reason string) {
	e.applyAndPublish(ord, order.Denied{
		Base:   e.eventBase(ord),
		Reason: reason,
	})
}

func (e *Engine) eventBase(ord *order.Order) order.Base {
	ts := e.clk.TimestampNs()
	return order.NewBase(ord.StrategyID(), ord.InstrumentID(), ord.ClientOrderID(), ts, ts)
}

func (e *Engine) clientFor(venue domain.Venue) (Client, error) {
	if c, ok := e.clients[venue]; ok {
		return c, nil
	}
	if e.defaultClient != nil {
		return e.defaultClient, nil
	}
	return nil, fmt.Errorf("%w: no execution client for venue %s", domain.ErrMissingCollaborator, venue)
}

func (e *Engine) publish(topic messaging.Topic, payload any) {
	if err := e.bus.Publish(topic, payload); err != nil {
		e.log.Error().Err(err).Str("topic", string(topic)).Msg("publish failed")
	}
}
