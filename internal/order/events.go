package order

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
)

// Event is implemented by every order lifecycle event. The union is closed:
// the trigger method keeps third-party variants out of the state machine.
type Event interface {
	messaging.Event
	EventType() string
	OrderID() domain.ClientOrderID
	Record() map[string]any

	trigger() Trigger
	venueOrderID() domain.VenueOrderID
}

// Base carries the identity fields shared by all order events
type Base struct {
	messaging.EventBase
	StrategyID    domain.StrategyID
	InstrumentID  domain.InstrumentID
	ClientOrderID domain.ClientOrderID
}

// NewBase creates the shared identity fields of an order event
func NewBase(strategyID domain.StrategyID, instrumentID domain.InstrumentID, clientOrderID domain.ClientOrderID, tsEvent, tsInit int64) Base {
	return Base{
		EventBase:     messaging.NewEventBase(tsEvent, tsInit),
		StrategyID:    strategyID,
		InstrumentID:  instrumentID,
		ClientOrderID: clientOrderID,
	}
}

// OrderID returns the client order id the event belongs to
func (b Base) OrderID() domain.ClientOrderID { return b.ClientOrderID }

func (b Base) record(eventType string) map[string]any {
	return map[string]any{
		"type":            eventType,
		"event_id":        b.ID().String(),
		"strategy_id":     string(b.StrategyID),
		"instrument_id":   string(b.InstrumentID),
		"client_order_id": string(b.ClientOrderID),
		"ts_event":        b.TsEvent(),
		"ts_init":         b.TsInit(),
	}
}

func baseFromRecord(rec map[string]any) (Base, error) {
	eventID, ok := domain.RecordString(rec, "event_id")
	if !ok {
		return Base{}, fmt.Errorf("order event record missing event_id")
	}
	id, err := uuid.Parse(eventID)
	if err != nil {
		return Base{}, fmt.Errorf("order event record event_id: %w", err)
	}

	strategyID, _ := domain.RecordString(rec, "strategy_id")
	instrumentID, _ := domain.RecordString(rec, "instrument_id")
	clientOrderID, ok := domain.RecordString(rec, "client_order_id")
	if !ok {
		return Base{}, fmt.Errorf("order event record missing client_order_id")
	}

	return Base{
		EventBase:     messaging.EventBaseWithID(id, domain.RecordInt(rec, "ts_event"), domain.RecordInt(rec, "ts_init")),
		StrategyID:    domain.StrategyID(strategyID),
		InstrumentID:  domain.InstrumentID(instrumentID),
		ClientOrderID: domain.ClientOrderID(clientOrderID),
	}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// Initialized creates the order: side, type, quantity and the optional
// price fields are fixed here; the venue has not seen the order yet.
type Initialized struct {
	Base
	Side         domain.OrderSide
	OrderType    domain.OrderType
	Quantity     decimal.Decimal
	TimeInForce  domain.TimeInForce
	Price        *decimal.Decimal // limit orders and stop-limit orders
	TriggerPrice *decimal.Decimal // stop orders
	PostOnly     bool
	ReduceOnly   bool
}

// EventType returns the record discriminator
func (Initialized) EventType() string { return "OrderInitialized" }

// trigger is never consulted: orders are created from this event, Apply
// rejects it outright.
func (Initialized) trigger() Trigger { return 0 }

func (Initialized) venueOrderID() domain.VenueOrderID { return "" }

// Record returns the flat persisted shape of the event
func (e Initialized) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["side"] = e.Side.String()
	rec["order_type"] = e.OrderType.String()
	rec["quantity"] = e.Quantity.String()
	rec["time_in_force"] = e.TimeInForce.String()
	rec["price"] = nullableDecimal(e.Price)
	rec["trigger_price"] = nullableDecimal(e.TriggerPrice)
	rec["post_only"] = e.PostOnly
	rec["reduce_only"] = e.ReduceOnly
	return rec
}

func initializedFromRecord(rec map[string]any) (Initialized, error) {
	base, err := baseFromRecord(rec)
	if err != nil {
		return Initialized{}, err
	}
	e := Initialized{Base: base}

	sideName, _ := domain.RecordString(rec, "side")
	if e.Side, err = domain.OrderSideFromString(sideName); err != nil {
		return e, err
	}
	typeName, _ := domain.RecordString(rec, "order_type")
	if e.OrderType, err = domain.OrderTypeFromString(typeName); err != nil {
		return e, err
	}
	if e.Quantity, err = domain.RecordDecimal(rec, "quantity"); err != nil {
		return e, err
	}
	tifName, _ := domain.RecordString(rec, "time_in_force")
	if e.TimeInForce, err = domain.TimeInForceFromString(tifName); err != nil {
		return e, err
	}
	if e.Price, err = domain.RecordNullableDecimal(rec, "price"); err != nil {
		return e, err
	}
	if e.TriggerPrice, err = domain.RecordNullableDecimal(rec, "trigger_price"); err != nil {
		return e, err
	}
	e.PostOnly = domain.RecordBool(rec, "post_only")
	e.ReduceOnly = domain.RecordBool(rec, "reduce_only")
	return e, nil
}

// Denied reports the order was refused before reaching the venue, e.g. by
// a pre-trade risk check.
type Denied struct {
	Base
	Reason string
}

// EventType returns the record discriminator
func (Denied) EventType() string { return "OrderDenied" }

func (Denied) trigger() Trigger { return TriggerDenied }

func (Denied) venueOrderID() domain.VenueOrderID { return "" }

// Record returns the flat persisted shape of the event
func (e Denied) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["reason"] = e.Reason
	return rec
}

// Submitted reports the order was handed to the venue
type Submitted struct {
	Base
	AccountID domain.AccountID
}

// EventType returns the record discriminator
func (Submitted) EventType() string { return "OrderSubmitted" }

func (Submitted) trigger() Trigger { return TriggerSubmitted }

func (Submitted) venueOrderID() domain.VenueOrderID { return "" }

// Record returns the flat persisted shape of the event
func (e Submitted) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	return rec
}

// Rejected reports the venue refused the order
type Rejected struct {
	Base
	AccountID domain.AccountID
	Reason    string
}

// EventType returns the record discriminator
func (Rejected) EventType() string { return "OrderRejected" }

func (Rejected) trigger() Trigger { return TriggerRejected }

func (Rejected) venueOrderID() domain.VenueOrderID { return "" }

// Record returns the flat persisted shape of the event
func (e Rejected) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["reason"] = e.Reason
	return rec
}

// Accepted reports the venue acknowledged the order and assigned its
// venue order id.
type Accepted struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
}

// EventType returns the record discriminator
func (Accepted) EventType() string { return "OrderAccepted" }

func (Accepted) trigger() Trigger { return TriggerAccepted }

func (e Accepted) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e Accepted) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	return rec
}

// Triggered reports a stop order's trigger condition was met
type Triggered struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
}

// EventType returns the record discriminator
func (Triggered) EventType() string { return "OrderTriggered" }

func (Triggered) trigger() Trigger { return TriggerTriggered }

func (e Triggered) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e Triggered) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	return rec
}

// PendingUpdate reports a modify request is in flight at the venue
type PendingUpdate struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
}

// EventType returns the record discriminator
func (PendingUpdate) EventType() string { return "OrderPendingUpdate" }

func (PendingUpdate) trigger() Trigger { return TriggerPendingUpdate }

func (e PendingUpdate) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e PendingUpdate) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	return rec
}

// PendingCancel reports a cancel request is in flight at the venue
type PendingCancel struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
}

// EventType returns the record discriminator
func (PendingCancel) EventType() string { return "OrderPendingCancel" }

func (PendingCancel) trigger() Trigger { return TriggerPendingCancel }

func (e PendingCancel) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e PendingCancel) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	return rec
}

// Updated reports the venue applied a modification: quantity and price
// change, identity does not.
type Updated struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
	Quantity     decimal.Decimal
	Price        *decimal.Decimal
	TriggerPrice *decimal.Decimal
}

// EventType returns the record discriminator
func (Updated) EventType() string { return "OrderUpdated" }

func (Updated) trigger() Trigger { return TriggerUpdated }

func (e Updated) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e Updated) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	rec["quantity"] = e.Quantity.String()
	rec["price"] = nullableDecimal(e.Price)
	rec["trigger_price"] = nullableDecimal(e.TriggerPrice)
	return rec
}

func updatedFromRecord(rec map[string]any) (Updated, error) {
	base, err := baseFromRecord(rec)
	if err != nil {
		return Updated{}, err
	}
	e := Updated{Base: base}
	e.AccountID, e.VenueOrderID = accountAndVenue(rec)
	if e.Quantity, err = domain.RecordDecimal(rec, "quantity"); err != nil {
		return e, err
	}
	if e.Price, err = domain.RecordNullableDecimal(rec, "price"); err != nil {
		return e, err
	}
	if e.TriggerPrice, err = domain.RecordNullableDecimal(rec, "trigger_price"); err != nil {
		return e, err
	}
	return e, nil
}

// ModifyRejected reports the venue refused a modify request; the order
// remains as it was.
type ModifyRejected struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
	Reason       string
}

// EventType returns the record discriminator
func (ModifyRejected) EventType() string { return "OrderModifyRejected" }

func (ModifyRejected) trigger() Trigger { return TriggerModifyRejected }

func (e ModifyRejected) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e ModifyRejected) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	rec["reason"] = e.Reason
	return rec
}

// CancelRejected reports the venue refused a cancel request; the order
// remains as it was.
type CancelRejected struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
	Reason       string
}

// EventType returns the record discriminator
func (CancelRejected) EventType() string { return "OrderCancelRejected" }

func (CancelRejected) trigger() Trigger { return TriggerCancelRejected }

func (e CancelRejected) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e CancelRejected) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	rec["reason"] = e.Reason
	return rec
}

// Canceled reports the order was canceled at the venue
type Canceled struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
}

// EventType returns the record discriminator
func (Canceled) EventType() string { return "OrderCanceled" }

func (Canceled) trigger() Trigger { return TriggerCanceled }

func (e Canceled) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e Canceled) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	return rec
}

// Expired reports the order's time in force lapsed at the venue
type Expired struct {
	Base
	AccountID    domain.AccountID
	VenueOrderID domain.VenueOrderID
}

// EventType returns the record discriminator
func (Expired) EventType() string { return "OrderExpired" }

func (Expired) trigger() Trigger { return TriggerExpired }

func (e Expired) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e Expired) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	return rec
}

// Filled reports quantity traded at a price. Whether the order becomes
// partially or completely filled is decided by the order's accumulated
// quantity, not by the event.
type Filled struct {
	Base
	AccountID     domain.AccountID
	VenueOrderID  domain.VenueOrderID
	TradeID       domain.TradeID
	PositionID    domain.PositionID // empty when the venue assigns none
	Side          domain.OrderSide
	LastQty       decimal.Decimal
	LastPx        decimal.Decimal
	Currency      domain.Currency
	Commission    domain.Money
	LiquiditySide domain.LiquiditySide
}

// EventType returns the record discriminator
func (Filled) EventType() string { return "OrderFilled" }

func (Filled) trigger() Trigger { return TriggerFill }

func (e Filled) venueOrderID() domain.VenueOrderID { return e.VenueOrderID }

// Record returns the flat persisted shape of the event
func (e Filled) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["account_id"] = string(e.AccountID)
	rec["venue_order_id"] = nullable(string(e.VenueOrderID))
	rec["trade_id"] = string(e.TradeID)
	rec["position_id"] = nullable(string(e.PositionID))
	rec["side"] = e.Side.String()
	rec["last_qty"] = e.LastQty.String()
	rec["last_px"] = e.LastPx.String()
	rec["currency"] = e.Currency.Code
	rec["commission"] = e.Commission.String()
	rec["liquidity_side"] = e.LiquiditySide.String()
	return rec
}

func filledFromRecord(rec map[string]any) (Filled, error) {
	base, err := baseFromRecord(rec)
	if err != nil {
		return Filled{}, err
	}
	e := Filled{Base: base}
	e.AccountID, e.VenueOrderID = accountAndVenue(rec)

	tradeID, _ := domain.RecordString(rec, "trade_id")
	e.TradeID = domain.TradeID(tradeID)
	if positionID, ok := domain.RecordNullableString(rec, "position_id"); ok {
		e.PositionID = domain.PositionID(positionID)
	}

	sideName, _ := domain.RecordString(rec, "side")
	if e.Side, err = domain.OrderSideFromString(sideName); err != nil {
		return e, err
	}
	if e.LastQty, err = domain.RecordDecimal(rec, "last_qty"); err != nil {
		return e, err
	}
	if e.LastPx, err = domain.RecordDecimal(rec, "last_px"); err != nil {
		return e, err
	}
	if e.Currency, err = domain.RecordCurrency(rec, "currency"); err != nil {
		return e, err
	}
	commission, _ := domain.RecordString(rec, "commission")
	if e.Commission, err = domain.ParseMoney(commission); err != nil {
		return e, err
	}
	liquidityName, _ := domain.RecordString(rec, "liquidity_side")
	if e.LiquiditySide, err = domain.LiquiditySideFromString(liquidityName); err != nil {
		return e, err
	}
	return e, nil
}

func accountAndVenue(rec map[string]any) (domain.AccountID, domain.VenueOrderID) {
	accountID, _ := domain.RecordString(rec, "account_id")
	venueOrderID, _ := domain.RecordNullableString(rec, "venue_order_id")
	return domain.AccountID(accountID), domain.VenueOrderID(venueOrderID)
}

// EventFromRecord reconstructs an order event from its persisted record,
// dispatching on the type discriminator.
func EventFromRecord(rec map[string]any) (Event, error) {
	eventType, ok := domain.RecordString(rec, "type")
	if !ok {
		return nil, fmt.Errorf("order event record missing type discriminator")
	}

	base, err := baseFromRecord(rec)
	if err != nil {
		return nil, err
	}
	accountID, venueID := accountAndVenue(rec)
	reason, _ := domain.RecordString(rec, "reason")

	switch eventType {
	case "OrderInitialized":
		return initializedFromRecord(rec)
	case "OrderDenied":
		return Denied{Base: base, Reason: reason}, nil
	case "OrderSubmitted":
		return Submitted{Base: base, AccountID: accountID}, nil
	case "OrderRejected":
		return Rejected{Base: base, AccountID: accountID, Reason: reason}, nil
	case "OrderAccepted":
		return Accepted{Base: base, AccountID: accountID, VenueOrderID: venueID}, nil
	case "OrderTriggered":
		return Triggered{Base: base, AccountID: accountID, VenueOrderID: venueID}, nil
	case "OrderPendingUpdate":
		return PendingUpdate{Base: base, AccountID: accountID, VenueOrderID: venueID}, nil
	case "OrderPendingCancel":
		return PendingCancel{Base: base, AccountID: accountID, VenueOrderID: venueID}, nil
	case "OrderUpdated":
		return updatedFromRecord(rec)
	case "OrderModifyRejected":
		return ModifyRejected{Base: base, AccountID: accountID, VenueOrderID: venueID, Reason: reason}, nil
	case "OrderCancelRejected":
		return CancelRejected{Base: base, AccountID: accountID, VenueOrderID: venueID, Reason: reason}, nil
	case "OrderCanceled":
		return Canceled{Base: base, AccountID: accountID, VenueOrderID: venueID}, nil
	case "OrderExpired":
		return Expired{Base: base, AccountID: accountID, VenueOrderID: venueID}, nil
	case "OrderFilled":
		return filledFromRecord(rec)
	default:
		return nil, fmt.Errorf("unknown order event type %q", eventType)
	}
}
