package order

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
)

// Order is the event-sourced order entity. Status moves only through the
// lifecycle state machine; a failed apply leaves the order completely
// unchanged. Orders are owned by the execution engine and mutated on the
// bus dispatch goroutine only.
type Order struct {
	clientOrderID domain.ClientOrderID
	venueOrderID  domain.VenueOrderID
	strategyID    domain.StrategyID
	instrumentID  domain.InstrumentID
	accountID     domain.AccountID
	positionID    domain.PositionID

	side         domain.OrderSide
	orderType    domain.OrderType
	quantity     decimal.Decimal
	timeInForce  domain.TimeInForce
	price        *decimal.Decimal
	triggerPrice *decimal.Decimal
	postOnly     bool
	reduceOnly   bool

	status   Status
	previous Status // resting status saved on entering a pending state

	filledQty   decimal.Decimal
	avgPx       decimal.Decimal
	commissions map[domain.Currency]domain.Money

	events        []Event
	statusHistory []Status
}

// New creates an order from its initialization event
func New(init Initialized) (*Order, error) {
	if init.ClientOrderID == "" {
		return nil, fmt.Errorf("%w: order initialized without client order id", domain.ErrInvariantViolation)
	}
	if init.Side == domain.OrderSideNone {
		return nil, fmt.Errorf("%w: order side not specified", domain.ErrInvariantViolation)
	}
	if !init.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: order quantity must be positive, got %s", domain.ErrInvariantViolation, init.Quantity)
	}

	switch init.OrderType {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		if init.Price == nil {
			return nil, fmt.Errorf("%w: %s order requires a price", domain.ErrInvariantViolation, init.OrderType)
		}
	case domain.OrderTypeMarket:
		if init.PostOnly {
			return nil, fmt.Errorf("%w: market order cannot be post-only", domain.ErrInvariantViolation)
		}
	}
	switch init.OrderType {
	case domain.OrderTypeStopMarket, domain.OrderTypeStopLimit:
		if init.TriggerPrice == nil {
			return nil, fmt.Errorf("%w: %s order requires a trigger price", domain.ErrInvariantViolation, init.OrderType)
		}
	}

	return &Order{
		clientOrderID: init.ClientOrderID,
		strategyID:    init.StrategyID,
		instrumentID:  init.InstrumentID,
		side:          init.Side,
		orderType:     init.OrderType,
		quantity:      init.Quantity,
		timeInForce:   init.TimeInForce,
		price:         init.Price,
		triggerPrice:  init.TriggerPrice,
		postOnly:      init.PostOnly,
		reduceOnly:    init.ReduceOnly,
		status:        StatusInitialized,
		previous:      StatusInitialized,
		commissions:   make(map[domain.Currency]domain.Money),
		events:        []Event{init},
		statusHistory: []Status{StatusInitialized},
	}, nil
}

// FromEvents rebuilds an order by replaying its event log
func FromEvents(events []Event) (*Order, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty order event log", domain.ErrInvariantViolation)
	}
	init, ok := events[0].(Initialized)
	if !ok {
		return nil, fmt.Errorf("%w: order event log must start with OrderInitialized, got %s",
			domain.ErrInvariantViolation, events[0].EventType())
	}
	o, err := New(init)
	if err != nil {
		return nil, err
	}
	for _, event := range events[1:] {
		if err := o.Apply(event); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Apply drives the order through one lifecycle event. Every check runs
// before any field changes, so an illegal event can be retried or dropped
// with the order exactly as it was.
func (o *Order) Apply(event Event) error {
	if _, ok := event.(Initialized); ok {
		return fmt.Errorf("%w: order %s is already initialized", domain.ErrInvalidStateTransition, o.clientOrderID)
	}
	if event.OrderID() != o.clientOrderID {
		return fmt.Errorf("%w: event order id %s does not match order %s",
			domain.ErrStateMismatch, event.OrderID(), o.clientOrderID)
	}
	if o.status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s, which is terminal",
			domain.ErrInvalidStateTransition, o.clientOrderID, o.status)
	}

	trig := event.trigger()
	fill, isFill := event.(Filled)
	if isFill {
		if !fill.LastQty.IsPositive() {
			return fmt.Errorf("%w: fill quantity must be positive, got %s",
				domain.ErrInvariantViolation, fill.LastQty)
		}
		if o.filledQty.Add(fill.LastQty).LessThan(o.quantity) {
			trig = TriggerPartialFill
		} else {
			trig = TriggerFill
		}
	}

	target, err := Transition(o.status, o.previous, trig)
	if err != nil {
		return err
	}

	if vid := event.venueOrderID(); vid != "" && o.venueOrderID != "" && o.venueOrderID != vid {
		return fmt.Errorf("%w: order %s venue order id already assigned as %s, event carries %s",
			domain.ErrProtocolViolation, o.clientOrderID, o.venueOrderID, vid)
	}

	// Checks passed: mutate.
	if vid := event.venueOrderID(); vid != "" && o.venueOrderID == "" {
		o.venueOrderID = vid
	}
	if target.IsPending() {
		o.previous = o.status
	}
	if transient, ok := TransientFor(trig); ok {
		o.statusHistory = append(o.statusHistory, transient)
	}
	o.status = target
	o.statusHistory = append(o.statusHistory, target)

	switch e := event.(type) {
	case Submitted:
		o.accountID = e.AccountID
	case Updated:
		if e.Quantity.IsPositive() {
			o.quantity = e.Quantity
		}
		if e.Price != nil {
			o.price = e.Price
		}
		if e.TriggerPrice != nil {
			o.triggerPrice = e.TriggerPrice
		}
	case Filled:
		o.applyFill(e)
	}

	o.events = append(o.events, event)
	return nil
}

func (o *Order) applyFill(fill Filled) {
	prevFilled := o.filledQty
	o.filledQty = o.filledQty.Add(fill.LastQty)

	// Volume-weighted average fill price.
	notional := o.avgPx.Mul(prevFilled).Add(fill.LastPx.Mul(fill.LastQty))
	o.avgPx = notional.Div(o.filledQty)

	if fill.PositionID != "" && o.positionID == "" {
		o.positionID = fill.PositionID
	}
	if o.accountID == "" {
		o.accountID = fill.AccountID
	}
	if !fill.Commission.IsZero() {
		c := fill.Commission.Currency()
		if existing, ok := o.commissions[c]; ok {
			if total, err := existing.Add(fill.Commission); err == nil {
				o.commissions[c] = total
			}
		} else {
			o.commissions[c] = fill.Commission
		}
	}
}

// ClientOrderID returns the immutable client order id
func (o *Order) ClientOrderID() domain.ClientOrderID { return o.clientOrderID }

// VenueOrderID returns the venue-assigned id; ok is false until the venue
// has acknowledged the order.
func (o *Order) VenueOrderID() (domain.VenueOrderID, bool) {
	return o.venueOrderID, o.venueOrderID != ""
}

// StrategyID returns the owning strategy
func (o *Order) StrategyID() domain.StrategyID { return o.strategyID }

// InstrumentID returns the traded instrument
func (o *Order) InstrumentID() domain.InstrumentID { return o.instrumentID }

// AccountID returns the account the venue booked the order against
func (o *Order) AccountID() domain.AccountID { return o.accountID }

// PositionID returns the venue-assigned position id; ok is false until a
// fill carries one.
func (o *Order) PositionID() (domain.PositionID, bool) {
	return o.positionID, o.positionID != ""
}

// Side returns the order side
func (o *Order) Side() domain.OrderSide { return o.side }

// Type returns the order type
func (o *Order) Type() domain.OrderType { return o.orderType }

// Quantity returns the current order quantity
func (o *Order) Quantity() decimal.Decimal { return o.quantity }

// TimeInForce returns the order's time in force
func (o *Order) TimeInForce() domain.TimeInForce { return o.timeInForce }

// Price returns the limit price; ok is false for order types without one
func (o *Order) Price() (decimal.Decimal, bool) {
	if o.price == nil {
		return decimal.Decimal{}, false
	}
	return *o.price, true
}

// TriggerPrice returns the stop trigger price; ok is false for order types
// without one.
func (o *Order) TriggerPrice() (decimal.Decimal, bool) {
	if o.triggerPrice == nil {
		return decimal.Decimal{}, false
	}
	return *o.triggerPrice, true
}

// IsPostOnly reports whether the order may only add liquidity
func (o *Order) IsPostOnly() bool { return o.postOnly }

// IsReduceOnly reports whether the order may only reduce a position
func (o *Order) IsReduceOnly() bool { return o.reduceOnly }

// Status returns the current lifecycle status. The order never rests on a
// transient status; those appear only in StatusHistory.
func (o *Order) Status() Status { return o.status }

// StatusHistory returns every status the order passed through, transients
// included.
func (o *Order) StatusHistory() []Status {
	out := make([]Status, len(o.statusHistory))
	copy(out, o.statusHistory)
	return out
}

// IsTerminal reports whether the order's lifecycle has ended
func (o *Order) IsTerminal() bool { return o.status.IsTerminal() }

// IsWorking reports whether the order is live at the venue
func (o *Order) IsWorking() bool { return o.status.IsWorking() }

// FilledQty returns the accumulated fill quantity
func (o *Order) FilledQty() decimal.Decimal { return o.filledQty }

// LeavesQty returns the quantity still open at the venue
func (o *Order) LeavesQty() decimal.Decimal {
	leaves := o.quantity.Sub(o.filledQty)
	if leaves.IsNegative() {
		return decimal.Zero
	}
	return leaves
}

// AvgPx returns the volume-weighted average fill price; ok is false before
// the first fill.
func (o *Order) AvgPx() (decimal.Decimal, bool) {
	if o.filledQty.IsZero() {
		return decimal.Decimal{}, false
	}
	return o.avgPx, true
}

// Commissions returns the accumulated commissions sorted by currency code
func (o *Order) Commissions() []domain.Money {
	out := make([]domain.Money, 0, len(o.commissions))
	for _, m := range o.commissions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Currency().Code < out[j].Currency().Code
	})
	return out
}

// Events returns a copy of the applied event log
func (o *Order) Events() []Event {
	out := make([]Event, len(o.events))
	copy(out, o.events)
	return out
}

// EventCount returns the number of applied events
func (o *Order) EventCount() int { return len(o.events) }

// LastEvent returns the most recently applied event
func (o *Order) LastEvent() Event { return o.events[len(o.events)-1] }

// InitEvent returns the initialization event the order was created from
func (o *Order) InitEvent() Initialized { return o.events[0].(Initialized) }

// String renders the order identity and current state
func (o *Order) String() string {
	return fmt.Sprintf("Order(id=%s, %s %s %s %s, status=%s, filled=%s)",
		o.clientOrderID, o.side, o.quantity, o.instrumentID, o.orderType, o.status, o.filledQty)
}
