package position

import (
	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
)

// Event is the interface satisfied by position state-change events
type Event interface {
	messaging.Event
	EventType() string
	PositionID() domain.PositionID
	Record() map[string]any
}

// Snapshot carries the position state shared by every position event
type Snapshot struct {
	messaging.EventBase

	PosID        domain.PositionID
	InstrumentID domain.InstrumentID
	StrategyID   domain.StrategyID
	AccountID    domain.AccountID
	Side         domain.PositionSide
	SignedQty    decimal.Decimal
	AvgPxOpen    decimal.Decimal
	LastQty      decimal.Decimal
	LastPx       decimal.Decimal
	OpenedNs     int64
}

func snapshotOf(p *Position, fill order.Filled, tsInit int64) Snapshot {
	return Snapshot{
		EventBase:    messaging.NewEventBase(fill.TsEvent(), tsInit),
		PosID:        p.ID(),
		InstrumentID: p.InstrumentID(),
		StrategyID:   p.StrategyID(),
		AccountID:    p.AccountID(),
		Side:         p.Side(),
		SignedQty:    p.SignedQty(),
		AvgPxOpen:    p.AvgPxOpen(),
		LastQty:      fill.LastQty,
		LastPx:       fill.LastPx,
		OpenedNs:     p.OpenedNs(),
	}
}

// PositionID returns the id of the position the event describes
func (s Snapshot) PositionID() domain.PositionID { return s.PosID }

func (s Snapshot) record(eventType string) map[string]any {
	return map[string]any{
		"type":          eventType,
		"event_id":      s.ID().String(),
		"position_id":   string(s.PosID),
		"instrument_id": string(s.InstrumentID),
		"strategy_id":   string(s.StrategyID),
		"account_id":    string(s.AccountID),
		"side":          s.Side.String(),
		"signed_qty":    s.SignedQty.String(),
		"avg_px_open":   s.AvgPxOpen.String(),
		"last_qty":      s.LastQty.String(),
		"last_px":       s.LastPx.String(),
		"opened_ns":     s.OpenedNs,
		"ts_event":      s.TsEvent(),
		"ts_init":       s.TsInit(),
	}
}

// Opened signals the first fill establishing net exposure
type Opened struct {
	Snapshot
}

// NewOpened snapshots a freshly opened position
func NewOpened(p *Position, fill order.Filled, tsInit int64) Opened {
	return Opened{Snapshot: snapshotOf(p, fill, tsInit)}
}

// EventType returns the persisted event discriminator
func (e Opened) EventType() string { return "PositionOpened" }

// Record returns the flat persisted shape of the event
func (e Opened) Record() map[string]any { return e.record(e.EventType()) }

// Changed signals a fill that altered exposure without closing it
type Changed struct {
	Snapshot

	RealizedPnL domain.Money
}

// NewChanged snapshots a position whose exposure changed
func NewChanged(p *Position, fill order.Filled, tsInit int64) Changed {
	return Changed{Snapshot: snapshotOf(p, fill, tsInit), RealizedPnL: p.RealizedPnL()}
}

// EventType returns the persisted event discriminator
func (e Changed) EventType() string { return "PositionChanged" }

// Record returns the flat persisted shape of the event
func (e Changed) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["realized_pnl"] = e.RealizedPnL.String()
	return rec
}

// Closed signals the fill that returned the position to flat
type Closed struct {
	Snapshot

	RealizedPnL domain.Money
	ClosedNs    int64
}

// NewClosed snapshots a position that just went flat
func NewClosed(p *Position, fill order.Filled, tsInit int64) Closed {
	return Closed{
		Snapshot:    snapshotOf(p, fill, tsInit),
		RealizedPnL: p.RealizedPnL(),
		ClosedNs:    p.ClosedNs(),
	}
}

// EventType returns the persisted event discriminator
func (e Closed) EventType() string { return "PositionClosed" }

// Record returns the flat persisted shape of the event
func (e Closed) Record() map[string]any {
	rec := e.record(e.EventType())
	rec["realized_pnl"] = e.RealizedPnL.String()
	rec["closed_ns"] = e.ClosedNs
	return rec
}
