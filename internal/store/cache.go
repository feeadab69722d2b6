// Package store holds the trading state: the in-memory cache the engines
// work against and the persistence interfaces the node saves through.
package store

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

// Cache is the in-memory working set of live trading state: instruments,
// accounts, orders and positions with their lookup indexes. It is owned by
// the execution engine and accessed only on the bus dispatch goroutine, so
// it carries no locks. Read paths that serve other goroutines go through
// the persisted store instead.
type Cache struct {
	log zerolog.Logger

	instruments map[domain.InstrumentID]domain.Instrument
	accounts    map[domain.AccountID]account.VenueAccount

	orders           map[domain.ClientOrderID]*order.Order
	ordersByVenueID  map[domain.VenueOrderID]domain.ClientOrderID
	ordersByStrategy map[domain.StrategyID]map[domain.ClientOrderID]struct{}

	positions     map[domain.PositionID]*position.Position
	openPositions map[strategyInstrument]domain.PositionID
}

type strategyInstrument struct {
	strategyID   domain.StrategyID
	instrumentID domain.InstrumentID
}

// NewCache creates an empty cache
func NewCache(log zerolog.Logger) *Cache {
	return &Cache{
		log:              log.With().Str("component", "cache").Logger(),
		instruments:      make(map[domain.InstrumentID]domain.Instrument),
		accounts:         make(map[domain.AccountID]account.VenueAccount),
		orders:           make(map[domain.ClientOrderID]*order.Order),
		ordersByVenueID:  make(map[domain.VenueOrderID]domain.ClientOrderID),
		ordersByStrategy: make(map[domain.StrategyID]map[domain.ClientOrderID]struct{}),
		positions:        make(map[domain.PositionID]*position.Position),
		openPositions:    make(map[strategyInstrument]domain.PositionID),
	}
}

// AddInstrument stores an instrument definition, replacing any prior one
func (c *Cache) AddInstrument(instrument domain.Instrument) {
	c.instruments[instrument.ID] = instrument
}

// Instrument returns the definition for an instrument id
func (c *Cache) Instrument(id domain.InstrumentID) (domain.Instrument, bool) {
	ins, ok := c.instruments[id]
	return ins, ok
}

// InstrumentIDs returns the cached instrument ids sorted
func (c *Cache) InstrumentIDs() []domain.InstrumentID {
	out := make([]domain.InstrumentID, 0, len(c.instruments))
	for id := range c.instruments {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddAccount stores an account. Adding a second account with the same id
// is an error.
func (c *Cache) AddAccount(va account.VenueAccount) error {
	id := va.Base().ID()
	if _, exists := c.accounts[id]; exists {
		return fmt.Errorf("%w: account %s already cached", domain.ErrInvariantViolation, id)
	}
	c.accounts[id] = va
	return nil
}

// Account returns the account with the given id
func (c *Cache) Account(id domain.AccountID) (account.VenueAccount, bool) {
	va, ok := c.accounts[id]
	return va, ok
}

// AccountIDs returns the cached account ids sorted
func (c *Cache) AccountIDs() []domain.AccountID {
	out := make([]domain.AccountID, 0, len(c.accounts))
	for id := range c.accounts {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddOrder stores a new order. Client order ids are unique for the life of
// the node; a duplicate is an error.
func (c *Cache) AddOrder(ord *order.Order) error {
	id := ord.ClientOrderID()
	if _, exists := c.orders[id]; exists {
		return fmt.Errorf("%w: order %s already cached", domain.ErrInvariantViolation, id)
	}
	c.orders[id] = ord
	byStrategy, ok := c.ordersByStrategy[ord.StrategyID()]
	if !ok {
		byStrategy = make(map[domain.ClientOrderID]struct{})
		c.ordersByStrategy[ord.StrategyID()] = byStrategy
	}
	byStrategy[id] = struct{}{}
	return nil
}

// Order returns the order with the given client order id
func (c *Cache) Order(id domain.ClientOrderID) (*order.Order, bool) {
	ord, ok := c.orders[id]
	return ord, ok
}

// IndexVenueOrderID maps a venue order id to its client order id
func (c *Cache) IndexVenueOrderID(venueID domain.VenueOrderID, clientID domain.ClientOrderID) {
	c.ordersByVenueID[venueID] = clientID
}

// OrderForVenueID returns the order a venue order id maps to
func (c *Cache) OrderForVenueID(venueID domain.VenueOrderID) (*order.Order, bool) {
	clientID, ok := c.ordersByVenueID[venueID]
	if !ok {
		return nil, false
	}
	return c.Order(clientID)
}

// OrdersForStrategy returns a strategy's orders sorted by client order id
func (c *Cache) OrdersForStrategy(strategyID domain.StrategyID) []*order.Order {
	ids := c.ordersByStrategy[strategyID]
	out := make([]*order.Order, 0, len(ids))
	for id := range ids {
		out = append(out, c.orders[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientOrderID() < out[j].ClientOrderID() })
	return out
}

// WorkingOrders returns a strategy's working orders on one instrument
func (c *Cache) WorkingOrders(strategyID domain.StrategyID, instrumentID domain.InstrumentID) []*order.Order {
	var out []*order.Order
	for _, ord := range c.OrdersForStrategy(strategyID) {
		if ord.InstrumentID() == instrumentID && ord.IsWorking() {
			out = append(out, ord)
		}
	}
	return out
}

// OrderCount returns how many orders are cached
func (c *Cache) OrderCount() int { return len(c.orders) }

// AddPosition stores a new position and indexes it as the open position of
// its strategy and instrument.
func (c *Cache) AddPosition(pos *position.Position) error {
	id := pos.ID()
	if _, exists := c.positions[id]; exists {
		return fmt.Errorf("%w: position %s already cached", domain.ErrInvariantViolation, id)
	}
	c.positions[id] = pos
	c.openPositions[strategyInstrument{pos.StrategyID(), pos.InstrumentID()}] = id
	return nil
}

// Position returns the position with the given id
func (c *Cache) Position(id domain.PositionID) (*position.Position, bool) {
	pos, ok := c.positions[id]
	return pos, ok
}

// OpenPosition returns the open position a strategy holds on an instrument.
// A position that has since closed drops out of the index here.
func (c *Cache) OpenPosition(strategyID domain.StrategyID, instrumentID domain.InstrumentID) (*position.Position, bool) {
	key := strategyInstrument{strategyID, instrumentID}
	id, ok := c.openPositions[key]
	if !ok {
		return nil, false
	}
	pos := c.positions[id]
	if pos.IsClosed() {
		delete(c.openPositions, key)
		return nil, false
	}
	return pos, true
}

// PositionsForStrategy returns a strategy's positions sorted by id
func (c *Cache) PositionsForStrategy(strategyID domain.StrategyID) []*position.Position {
	var out []*position.Position
	for _, pos := range c.positions {
		if pos.StrategyID() == strategyID {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// OpenPositionsForStrategy returns a strategy's open positions sorted by id
func (c *Cache) OpenPositionsForStrategy(strategyID domain.StrategyID) []*position.Position {
	var out []*position.Position
	for _, pos := range c.PositionsForStrategy(strategyID) {
		if pos.IsOpen() {
			out = append(out, pos)
		}
	}
	return out
}

// PositionCount returns how many positions are cached
func (c *Cache) PositionCount() int { return len(c.positions) }

// Reset drops all cached state
func (c *Cache) Reset() {
	c.instruments = make(map[domain.InstrumentID]domain.Instrument)
	c.accounts = make(map[domain.AccountID]account.VenueAccount)
	c.orders = make(map[domain.ClientOrderID]*order.Order)
	c.ordersByVenueID = make(map[domain.VenueOrderID]domain.ClientOrderID)
	c.ordersByStrategy = make(map[domain.StrategyID]map[domain.ClientOrderID]struct{})
	c.positions = make(map[domain.PositionID]*position.Position)
	c.openPositions = make(map[strategyInstrument]domain.PositionID)
	c.log.Info().Msg("cache reset")
}
