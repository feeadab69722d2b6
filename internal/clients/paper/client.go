// Package paper provides a dry-run execution client: an in-memory venue
// that acknowledges commands immediately and fills market orders at the
// last marked price. It exercises the full order lifecycle without touching
// a real venue; it does not simulate an order book, so resting orders stay
// resting until canceled.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/execution"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
)

// Config identifies the paper venue and its starting account
type Config struct {
	Venue     domain.Venue
	AccountID domain.AccountID
	Currency  domain.Currency
	// StartingBalance is reported as the account's free balance on connect
	StartingBalance decimal.Decimal
}

// Client is the paper execution adapter. Commands arrive on the bus
// dispatch goroutine; MarkPrice may be called from data handlers on the
// same goroutine, so no locking is needed beyond the connect state.
type Client struct {
	cfg Config
	bus *messaging.Bus
	clk clock.Clock
	log zerolog.Logger

	mu        sync.Mutex
	connected bool

	lastPx  map[domain.InstrumentID]decimal.Decimal
	resting map[domain.ClientOrderID]restingOrder

	venueSeq int
	tradeSeq int
}

type restingOrder struct {
	strategyID   domain.StrategyID
	instrumentID domain.InstrumentID
	venueOrderID domain.VenueOrderID
}

var _ execution.Client = (*Client)(nil)

// New creates a paper execution client reporting to the given bus
func New(cfg Config, bus *messaging.Bus, clk clock.Clock, log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		bus:     bus,
		clk:     clk,
		log:     log.With().Str("component", "paper_client").Str("venue", string(cfg.Venue)).Logger(),
		lastPx:  make(map[domain.InstrumentID]decimal.Decimal),
		resting: make(map[domain.ClientOrderID]restingOrder),
	}
}

// Venue identifies the paper venue
func (c *Client) Venue() domain.Venue { return c.cfg.Venue }

// AccountID identifies the paper account
func (c *Client) AccountID() domain.AccountID { return c.cfg.AccountID }

// Connect reports the starting account snapshot
func (c *Client) Connect(context.Context) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	total := domain.NewMoney(c.cfg.StartingBalance, c.cfg.Currency)
	balance, err := domain.NewAccountBalance(total, domain.ZeroMoney(c.cfg.Currency), total)
	if err != nil {
		return fmt.Errorf("paper starting balance: %w", err)
	}

	ts := c.clk.TimestampNs()
	state := account.NewState(c.cfg.AccountID, domain.AccountTypeCash, c.cfg.Currency,
		[]domain.AccountBalance{balance}, true, ts, ts)
	c.report(state)

	c.log.Info().
		Str("account_id", string(c.cfg.AccountID)).
		Str("balance", total.String()).
		Msg("paper venue connected")
	return nil
}

// Disconnect marks the client disconnected; resting orders are kept so a
// reconnect resumes the session.
func (c *Client) Disconnect(context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.log.Info().Msg("paper venue disconnected")
	return nil
}

// IsConnected reports the connection state
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Reset drops all session state
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPx = make(map[domain.InstrumentID]decimal.Decimal)
	c.resting = make(map[domain.ClientOrderID]restingOrder)
	c.venueSeq = 0
	c.tradeSeq = 0
	return nil
}

// Dispose is Reset for the paper venue: there are no resources to release
func (c *Client) Dispose() error { return c.Reset() }

// MarkPrice sets the price market orders on the instrument execute at
func (c *Client) MarkPrice(id domain.InstrumentID, px decimal.Decimal) {
	c.lastPx[id] = px
}

// SubmitOrder acknowledges the order and fills it at the marked price if
// it is a market order. Market orders on unmarked instruments are rejected
// the way a venue rejects an unknown symbol.
func (c *Client) SubmitOrder(cmd execution.SubmitOrder) error {
	ord := cmd.Order
	c.report(order.Submitted{Base: c.eventBase(ord), AccountID: c.cfg.AccountID})

	if ord.Type() == domain.OrderTypeMarket {
		px, marked := c.lastPx[ord.InstrumentID()]
		if !marked {
			c.report(order.Rejected{
				Base:      c.eventBase(ord),
				AccountID: c.cfg.AccountID,
				Reason:    fmt.Sprintf("no market price for %s", ord.InstrumentID()),
			})
			return nil
		}
		c.fill(ord, px)
		return nil
	}

	venueID := c.nextVenueOrderID()
	c.resting[ord.ClientOrderID()] = restingOrder{
		strategyID:   ord.StrategyID(),
		instrumentID: ord.InstrumentID(),
		venueOrderID: venueID,
	}
	c.report(order.Accepted{
		Base:         c.eventBase(ord),
		AccountID:    c.cfg.AccountID,
		VenueOrderID: venueID,
	})
	return nil
}

// SubmitBracketOrder submits each leg in sequence: the entry executes as a
// market order, the protection legs rest.
func (c *Client) SubmitBracketOrder(cmd execution.SubmitBracketOrder) error {
	ts := cmd.Bracket.Entry.InitEvent().TsInit()
	for _, ord := range []*order.Order{cmd.Bracket.Entry, cmd.Bracket.StopLoss, cmd.Bracket.TakeProfit} {
		if err := c.SubmitOrder(execution.NewSubmitOrder(ord, ts)); err != nil {
			return err
		}
	}
	return nil
}

// ModifyOrder acknowledges the modify and confirms it immediately
func (c *Client) ModifyOrder(cmd execution.ModifyOrder) error {
	resting, ok := c.resting[cmd.ClientOrderID]
	if !ok {
		return fmt.Errorf("order %s is not resting at the paper venue", cmd.ClientOrderID)
	}

	base := c.commandBase(cmd.StrategyID, cmd.InstrumentID, cmd.ClientOrderID)
	c.report(order.PendingUpdate{Base: base, AccountID: c.cfg.AccountID, VenueOrderID: resting.venueOrderID})

	var quantity decimal.Decimal
	if cmd.Quantity != nil {
		quantity = *cmd.Quantity
	}
	c.report(order.Updated{
		Base:         c.commandBase(cmd.StrategyID, cmd.InstrumentID, cmd.ClientOrderID),
		AccountID:    c.cfg.AccountID,
		VenueOrderID: resting.venueOrderID,
		Quantity:     quantity,
		Price:        cmd.Price,
		TriggerPrice: cmd.TriggerPrice,
	})
	return nil
}

// CancelOrder acknowledges the cancel and confirms it immediately
func (c *Client) CancelOrder(cmd execution.CancelOrder) error {
	resting, ok := c.resting[cmd.ClientOrderID]
	if !ok {
		return fmt.Errorf("order %s is not resting at the paper venue", cmd.ClientOrderID)
	}
	c.cancel(cmd.StrategyID, cmd.InstrumentID, cmd.ClientOrderID, resting.venueOrderID)
	return nil
}

// CancelAllOrders cancels every order resting on the instrument for the
// commanding strategy.
func (c *Client) CancelAllOrders(cmd execution.CancelAllOrders) error {
	for clientID, resting := range c.resting {
		if resting.instrumentID != cmd.InstrumentID || resting.strategyID != cmd.StrategyID {
			continue
		}
		c.cancel(cmd.StrategyID, cmd.InstrumentID, clientID, resting.venueOrderID)
	}
	return nil
}

func (c *Client) cancel(strategyID domain.StrategyID, instrumentID domain.InstrumentID, clientID domain.ClientOrderID, venueID domain.VenueOrderID) {
	base := c.commandBase(strategyID, instrumentID, clientID)
	c.report(order.PendingCancel{Base: base, AccountID: c.cfg.AccountID, VenueOrderID: venueID})
	c.report(order.Canceled{
		Base:         c.commandBase(strategyID, instrumentID, clientID),
		AccountID:    c.cfg.AccountID,
		VenueOrderID: venueID,
	})
	delete(c.resting, clientID)
}

// fill executes the whole order in one trade at px. The venue assigns the
// order id and the trade id; commission is left to the account hooks.
func (c *Client) fill(ord *order.Order, px decimal.Decimal) {
	venueID := c.nextVenueOrderID()
	c.report(order.Accepted{
		Base:         c.eventBase(ord),
		AccountID:    c.cfg.AccountID,
		VenueOrderID: venueID,
	})

	c.tradeSeq++
	c.report(order.Filled{
		Base:          c.eventBase(ord),
		AccountID:     c.cfg.AccountID,
		VenueOrderID:  venueID,
		TradeID:       domain.TradeID(fmt.Sprintf("%s-T-%d", c.cfg.Venue, c.tradeSeq)),
		Side:          ord.Side(),
		LastQty:       ord.Quantity(),
		LastPx:        px,
		Currency:      c.cfg.Currency,
		Commission:    domain.ZeroMoney(c.cfg.Currency),
		LiquiditySide: domain.LiquiditySideTaker,
	})
}

func (c *Client) nextVenueOrderID() domain.VenueOrderID {
	c.venueSeq++
	return domain.VenueOrderID(fmt.Sprintf("%s-V-%d", c.cfg.Venue, c.venueSeq))
}

func (c *Client) eventBase(ord *order.Order) order.Base {
	return c.commandBase(ord.StrategyID(), ord.InstrumentID(), ord.ClientOrderID())
}

func (c *Client) commandBase(strategyID domain.StrategyID, instrumentID domain.InstrumentID, clientID domain.ClientOrderID) order.Base {
	ts := c.clk.TimestampNs()
	return order.NewBase(strategyID, instrumentID, clientID, ts, ts)
}

func (c *Client) report(event any) {
	if err := c.bus.Send(messaging.EndpointExecProcess, event); err != nil {
		c.log.Error().Err(err).Str("event", fmt.Sprintf("%T", event)).Msg("venue report failed")
	}
}
