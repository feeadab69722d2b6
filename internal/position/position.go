// Package position implements the position aggregate: net exposure per
// instrument derived from accumulated order fills sharing a position id.
// Positions are owned by the execution engine; strategies only query them.
package position

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
)

// Position aggregates the fills booked against one position id. Net
// quantity is signed: positive long, negative short. A position that
// returns to zero net quantity is closed and stays closed; re-entering
// the market opens a new position id.
type Position struct {
	id         domain.PositionID
	instrument domain.Instrument
	strategyID domain.StrategyID
	accountID  domain.AccountID

	entrySide domain.OrderSide
	side      domain.PositionSide
	netQty    decimal.Decimal
	peakQty   decimal.Decimal

	avgPxOpen  decimal.Decimal
	avgPxClose decimal.Decimal
	closedQty  decimal.Decimal

	pricePnL             decimal.Decimal // realized, before commissions
	settlementCommission decimal.Decimal
	commissions          map[domain.Currency]domain.Money

	fills    []order.Filled
	tradeIDs map[domain.TradeID]struct{}

	openedNs int64
	closedNs int64
	lastNs   int64
}

// New opens a position from its first fill
func New(instrument domain.Instrument, fill order.Filled) (*Position, error) {
	if fill.PositionID == "" {
		return nil, fmt.Errorf("%w: opening fill carries no position id", domain.ErrInvariantViolation)
	}
	if fill.Side == domain.OrderSideNone {
		return nil, fmt.Errorf("%w: opening fill carries no order side", domain.ErrInvariantViolation)
	}
	if instrument.ID != fill.InstrumentID {
		return nil, fmt.Errorf("%w: fill instrument %s does not match %s",
			domain.ErrStateMismatch, fill.InstrumentID, instrument.ID)
	}

	p := &Position{
		id:          fill.PositionID,
		instrument:  instrument,
		strategyID:  fill.StrategyID,
		accountID:   fill.AccountID,
		entrySide:   fill.Side,
		commissions: make(map[domain.Currency]domain.Money),
		tradeIDs:    make(map[domain.TradeID]struct{}),
		openedNs:    fill.TsEvent(),
	}
	if err := p.Apply(fill); err != nil {
		return nil, err
	}
	return p, nil
}

// FromFills rebuilds a position by replaying its fills in order
func FromFills(instrument domain.Instrument, fills []order.Filled) (*Position, error) {
	if len(fills) == 0 {
		return nil, fmt.Errorf("%w: empty fill log", domain.ErrInvariantViolation)
	}
	p, err := New(instrument, fills[0])
	if err != nil {
		return nil, err
	}
	for _, fill := range fills[1:] {
		if err := p.Apply(fill); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Apply books one fill against the position. All checks run before any
// mutation; a failed apply leaves the position unchanged.
func (p *Position) Apply(fill order.Filled) error {
	if fill.PositionID != p.id {
		return fmt.Errorf("%w: fill position id %s does not match position %s",
			domain.ErrStateMismatch, fill.PositionID, p.id)
	}
	if p.IsClosed() {
		return fmt.Errorf("%w: position %s is closed", domain.ErrInvalidStateTransition, p.id)
	}
	if _, seen := p.tradeIDs[fill.TradeID]; seen {
		return fmt.Errorf("%w: duplicate trade id %s on position %s",
			domain.ErrInvariantViolation, fill.TradeID, p.id)
	}
	if !fill.LastQty.IsPositive() {
		return fmt.Errorf("%w: fill quantity must be positive, got %s",
			domain.ErrInvariantViolation, fill.LastQty)
	}

	signedFill := fill.LastQty
	if fill.Side == domain.OrderSideSell {
		signedFill = signedFill.Neg()
	}
	netBefore := p.netQty
	netAfter := netBefore.Add(signedFill)

	switch {
	case netBefore.IsZero() || netBefore.Sign() == signedFill.Sign():
		// Opening or extending: fold the fill into the open average.
		openQty := netBefore.Abs()
		total := openQty.Add(fill.LastQty)
		p.avgPxOpen = p.avgPxOpen.Mul(openQty).Add(fill.LastPx.Mul(fill.LastQty)).Div(total)
	default:
		// Reducing, possibly through zero into the opposite side.
		closing := decimal.Min(fill.LastQty, netBefore.Abs())
		p.pricePnL = p.pricePnL.Add(p.directedPnL(p.side, p.avgPxOpen, fill.LastPx, closing))
		closedTotal := p.closedQty.Add(closing)
		p.avgPxClose = p.avgPxClose.Mul(p.closedQty).Add(fill.LastPx.Mul(closing)).Div(closedTotal)
		p.closedQty = closedTotal
		if netAfter.Sign() != 0 && netAfter.Sign() != netBefore.Sign() {
			// Flipped through flat: the remainder opens at the fill price.
			p.avgPxOpen = fill.LastPx
			p.entrySide = fill.Side
		}
	}

	p.netQty = netAfter
	switch netAfter.Sign() {
	case 1:
		p.side = domain.PositionSideLong
	case -1:
		p.side = domain.PositionSideShort
	default:
		p.side = domain.PositionSideFlat
		p.closedNs = fill.TsEvent()
	}
	if abs := netAfter.Abs(); abs.GreaterThan(p.peakQty) {
		p.peakQty = abs
	}

	p.tradeIDs[fill.TradeID] = struct{}{}
	p.fills = append(p.fills, fill)
	p.lastNs = fill.TsEvent()
	if !fill.Commission.IsZero() {
		p.bookCommission(fill.Commission)
	}
	return nil
}

func (p *Position) bookCommission(commission domain.Money) {
	c := commission.Currency()
	if existing, ok := p.commissions[c]; ok {
		if total, err := existing.Add(commission); err == nil {
			p.commissions[c] = total
		}
	} else {
		p.commissions[c] = commission
	}
	if c == p.instrument.SettlementCurrency {
		p.settlementCommission = p.settlementCommission.Add(commission.Amount())
	}
}

// directedPnL returns the price PnL of closing `quantity` from `open` to
// `close` for a position on `side`, in settlement-currency units.
func (p *Position) directedPnL(side domain.PositionSide, open, close, quantity decimal.Decimal) decimal.Decimal {
	var perUnit decimal.Decimal
	if p.instrument.IsInverse {
		if open.IsZero() || close.IsZero() {
			return decimal.Zero
		}
		one := decimal.NewFromInt(1)
		perUnit = one.Div(open).Sub(one.Div(close))
	} else {
		perUnit = close.Sub(open)
	}
	pnl := quantity.Mul(p.instrument.Multiplier).Mul(perUnit)
	if side == domain.PositionSideShort {
		pnl = pnl.Neg()
	}
	return pnl
}

// CalculatePnL returns the directed price PnL for closing quantity from
// avgPxOpen to avgPxClose at the position's current side.
func (p *Position) CalculatePnL(avgPxOpen, avgPxClose, quantity decimal.Decimal) domain.Money {
	return domain.NewMoney(p.directedPnL(p.side, avgPxOpen, avgPxClose, quantity), p.instrument.SettlementCurrency)
}

// ID returns the position id
func (p *Position) ID() domain.PositionID { return p.id }

// InstrumentID returns the traded instrument id
func (p *Position) InstrumentID() domain.InstrumentID { return p.instrument.ID }

// Instrument returns the instrument definition the position trades
func (p *Position) Instrument() domain.Instrument { return p.instrument }

// StrategyID returns the strategy that opened the position
func (p *Position) StrategyID() domain.StrategyID { return p.strategyID }

// AccountID returns the account the position is booked against
func (p *Position) AccountID() domain.AccountID { return p.accountID }

// Side returns the current market side
func (p *Position) Side() domain.PositionSide { return p.side }

// EntrySide returns the order side that opened the current exposure
func (p *Position) EntrySide() domain.OrderSide { return p.entrySide }

// SignedQty returns the net quantity, positive long and negative short
func (p *Position) SignedQty() decimal.Decimal { return p.netQty }

// Quantity returns the absolute open quantity
func (p *Position) Quantity() decimal.Decimal { return p.netQty.Abs() }

// PeakQty returns the largest absolute quantity the position reached
func (p *Position) PeakQty() decimal.Decimal { return p.peakQty }

// AvgPxOpen returns the volume-weighted average opening price
func (p *Position) AvgPxOpen() decimal.Decimal { return p.avgPxOpen }

// AvgPxClose returns the volume-weighted average closing price; ok is
// false before any reducing fill.
func (p *Position) AvgPxClose() (decimal.Decimal, bool) {
	if p.closedQty.IsZero() {
		return decimal.Decimal{}, false
	}
	return p.avgPxClose, true
}

// IsOpen reports whether the position has net exposure
func (p *Position) IsOpen() bool { return !p.netQty.IsZero() }

// IsClosed reports whether the position has returned to flat
func (p *Position) IsClosed() bool { return p.netQty.IsZero() }

// IsLong reports whether the position is net long
func (p *Position) IsLong() bool { return p.side == domain.PositionSideLong }

// IsShort reports whether the position is net short
func (p *Position) IsShort() bool { return p.side == domain.PositionSideShort }

// RealizedPnL returns the realized PnL net of settlement-currency
// commissions.
func (p *Position) RealizedPnL() domain.Money {
	return domain.NewMoney(p.pricePnL.Sub(p.settlementCommission), p.instrument.SettlementCurrency)
}

// UnrealizedPnL marks the open quantity against a last price
func (p *Position) UnrealizedPnL(lastPx decimal.Decimal) domain.Money {
	if p.IsClosed() {
		return domain.ZeroMoney(p.instrument.SettlementCurrency)
	}
	return domain.NewMoney(p.directedPnL(p.side, p.avgPxOpen, lastPx, p.Quantity()), p.instrument.SettlementCurrency)
}

// TotalPnL returns realized plus unrealized PnL at a last price
func (p *Position) TotalPnL(lastPx decimal.Decimal) domain.Money {
	realized := p.RealizedPnL()
	unrealized := p.UnrealizedPnL(lastPx)
	total, err := realized.Add(unrealized)
	if err != nil {
		return realized
	}
	return total
}

// Commissions returns the accumulated commissions across currencies
func (p *Position) Commissions() []domain.Money {
	out := make([]domain.Money, 0, len(p.commissions))
	for _, m := range p.commissions {
		out = append(out, m)
	}
	return out
}

// TradeIDs returns the trade ids booked against the position
func (p *Position) TradeIDs() []domain.TradeID {
	out := make([]domain.TradeID, 0, len(p.fills))
	for _, f := range p.fills {
		out = append(out, f.TradeID)
	}
	return out
}

// Fills returns a copy of the booked fill log
func (p *Position) Fills() []order.Filled {
	out := make([]order.Filled, len(p.fills))
	copy(out, p.fills)
	return out
}

// FillCount returns the number of booked fills
func (p *Position) FillCount() int { return len(p.fills) }

// OpenedNs returns when the position opened, in nanoseconds
func (p *Position) OpenedNs() int64 { return p.openedNs }

// ClosedNs returns when the position closed, zero while open
func (p *Position) ClosedNs() int64 { return p.closedNs }

// LastNs returns the event time of the most recently booked fill
func (p *Position) LastNs() int64 { return p.lastNs }

// DurationNs returns the open duration for closed positions, zero while
// the position is still open.
func (p *Position) DurationNs() int64 {
	if p.closedNs == 0 {
		return 0
	}
	return p.closedNs - p.openedNs
}

// Record returns the flat persisted shape of the position's current state
func (p *Position) Record() map[string]any {
	rec := map[string]any{
		"position_id":   string(p.id),
		"instrument_id": string(p.instrument.ID),
		"strategy_id":   string(p.strategyID),
		"account_id":    string(p.accountID),
		"side":          p.side.String(),
		"entry_side":    p.entrySide.String(),
		"signed_qty":    p.netQty.String(),
		"peak_qty":      p.peakQty.String(),
		"avg_px_open":   p.avgPxOpen.String(),
		"avg_px_close":  nil,
		"realized_pnl":  p.RealizedPnL().String(),
		"fill_count":    int64(len(p.fills)),
		"opened_ns":     p.openedNs,
		"closed_ns":     nil,
	}
	if avgClose, ok := p.AvgPxClose(); ok {
		rec["avg_px_close"] = avgClose.String()
	}
	if p.closedNs != 0 {
		rec["closed_ns"] = p.closedNs
	}
	return rec
}

// String renders the position identity and exposure
func (p *Position) String() string {
	return fmt.Sprintf("Position(id=%s, %s %s %s, avg_open=%s)",
		p.id, p.side, p.Quantity(), p.instrument.ID, p.avgPxOpen)
}
