package account

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

// MarginAccount holds leveraged positions: fills against an open position
// realize PnL in the settlement currency, and the account tracks initial
// and maintenance margin per instrument.
type MarginAccount struct {
	*Account

	defaultLeverage decimal.Decimal
	leverages       map[domain.InstrumentID]decimal.Decimal
	marginsInit     map[domain.InstrumentID]domain.Money
	marginsMaint    map[domain.InstrumentID]domain.Money
}

var (
	_ Calculator       = (*MarginAccount)(nil)
	_ MarginCalculator = (*MarginAccount)(nil)
	_ VenueAccount     = (*MarginAccount)(nil)
)

// NewMarginAccount creates a margin account from its creation event with
// leverage 1 until configured otherwise.
func NewMarginAccount(event State) (*MarginAccount, error) {
	if event.AccountType != domain.AccountTypeMargin {
		return nil, fmt.Errorf("%w: expected %s account event, got %s",
			domain.ErrStateMismatch, domain.AccountTypeMargin, event.AccountType)
	}
	base, err := New(event)
	if err != nil {
		return nil, err
	}
	return &MarginAccount{
		Account:         base,
		defaultLeverage: decimal.NewFromInt(1),
		leverages:       make(map[domain.InstrumentID]decimal.Decimal),
		marginsInit:     make(map[domain.InstrumentID]domain.Money),
		marginsMaint:    make(map[domain.InstrumentID]domain.Money),
	}, nil
}

// Base returns the underlying event-sourced aggregate
func (a *MarginAccount) Base() *Account { return a.Account }

// SetDefaultLeverage sets the leverage used for instruments without an
// explicit setting.
func (a *MarginAccount) SetDefaultLeverage(leverage decimal.Decimal) error {
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: leverage must be >= 1, got %s", domain.ErrInvariantViolation, leverage)
	}
	a.defaultLeverage = leverage
	return nil
}

// SetLeverage sets the leverage for one instrument
func (a *MarginAccount) SetLeverage(instrumentID domain.InstrumentID, leverage decimal.Decimal) error {
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: leverage must be >= 1, got %s", domain.ErrInvariantViolation, leverage)
	}
	a.leverages[instrumentID] = leverage
	return nil
}

// Leverage returns the leverage applied to an instrument
func (a *MarginAccount) Leverage(instrumentID domain.InstrumentID) decimal.Decimal {
	if l, ok := a.leverages[instrumentID]; ok {
		return l
	}
	return a.defaultLeverage
}

// CalculateMarginInit returns the initial margin to lock for an order of
// the given quantity at the given price.
func (a *MarginAccount) CalculateMarginInit(instrument domain.Instrument, quantity, price decimal.Decimal) domain.Money {
	notional := instrument.Notional(quantity, price)
	margin := notional.Amount().Div(a.Leverage(instrument.ID)).Mul(instrument.MarginInit)
	return domain.NewMoney(margin, notional.Currency())
}

// CalculateMarginMaint returns the maintenance margin for an open position
func (a *MarginAccount) CalculateMarginMaint(instrument domain.Instrument, quantity, price decimal.Decimal) domain.Money {
	notional := instrument.Notional(quantity, price)
	margin := notional.Amount().Div(a.Leverage(instrument.ID)).Mul(instrument.MarginMaint)
	return domain.NewMoney(margin, notional.Currency())
}

// UpdateMarginInit records the initial margin locked for an instrument
func (a *MarginAccount) UpdateMarginInit(instrumentID domain.InstrumentID, margin domain.Money) {
	a.marginsInit[instrumentID] = margin
}

// ClearMarginInit releases the initial margin recorded for an instrument
func (a *MarginAccount) ClearMarginInit(instrumentID domain.InstrumentID) {
	delete(a.marginsInit, instrumentID)
}

// MarginInit returns the initial margin recorded for an instrument
func (a *MarginAccount) MarginInit(instrumentID domain.InstrumentID) (domain.Money, bool) {
	m, ok := a.marginsInit[instrumentID]
	return m, ok
}

// UpdateMarginMaint records the maintenance margin held for an instrument
func (a *MarginAccount) UpdateMarginMaint(instrumentID domain.InstrumentID, margin domain.Money) {
	a.marginsMaint[instrumentID] = margin
}

// ClearMarginMaint releases the maintenance margin for an instrument
func (a *MarginAccount) ClearMarginMaint(instrumentID domain.InstrumentID) {
	delete(a.marginsMaint, instrumentID)
}

// MarginMaint returns the maintenance margin held for an instrument
func (a *MarginAccount) MarginMaint(instrumentID domain.InstrumentID) (domain.Money, bool) {
	m, ok := a.marginsMaint[instrumentID]
	return m, ok
}

// CalculateCommission prices a fill at the instrument's fee schedule
func (a *MarginAccount) CalculateCommission(instrument domain.Instrument, lastQty, lastPx decimal.Decimal, liquiditySide domain.LiquiditySide) (domain.Money, error) {
	return calculateCommission(instrument, lastQty, lastPx, liquiditySide)
}

// CalculatePnLs realizes PnL when a fill reduces an open position. Fills
// that open or extend a position move margin, not PnL, so they produce no
// legs here.
func (a *MarginAccount) CalculatePnLs(instrument domain.Instrument, fill order.Filled, pos *position.Position) ([]domain.Money, error) {
	if pos == nil || pos.EntrySide() == fill.Side {
		return nil, nil
	}

	qty := fill.LastQty
	if pos.Quantity().LessThan(qty) {
		qty = pos.Quantity()
	}
	pnl := pos.CalculatePnL(pos.AvgPxOpen(), fill.LastPx, qty)
	return []domain.Money{pnl}, nil
}
