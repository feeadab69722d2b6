package account

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

// CashAccount settles every trade in full: no leverage, no margin. Fills
// move asset and cash legs rather than realizing margin PnL.
type CashAccount struct {
	*Account
}

var (
	_ Calculator   = (*CashAccount)(nil)
	_ VenueAccount = (*CashAccount)(nil)
)

// NewCashAccount creates a cash account from its creation event
func NewCashAccount(event State) (*CashAccount, error) {
	if event.AccountType != domain.AccountTypeCash {
		return nil, fmt.Errorf("%w: expected %s account event, got %s",
			domain.ErrStateMismatch, domain.AccountTypeCash, event.AccountType)
	}
	base, err := New(event)
	if err != nil {
		return nil, err
	}
	return &CashAccount{Account: base}, nil
}

// Base returns the underlying event-sourced aggregate
func (a *CashAccount) Base() *Account { return a.Account }

// CalculateCommission prices a fill at the instrument's fee schedule
func (a *CashAccount) CalculateCommission(instrument domain.Instrument, lastQty, lastPx decimal.Decimal, liquiditySide domain.LiquiditySide) (domain.Money, error) {
	return calculateCommission(instrument, lastQty, lastPx, liquiditySide)
}

// CalculatePnLs returns the asset and cash legs of a fill. A buy receives
// the base asset and pays quote; a sell is the reverse. When the fill
// reduces an open position only the open quantity books towards the legs.
// The base-asset leg is reported only for multi-currency accounts, since a
// single-currency account tracks just its cash balance.
func (a *CashAccount) CalculatePnLs(instrument domain.Instrument, fill order.Filled, pos *position.Position) ([]domain.Money, error) {
	fillQty := fill.LastQty
	if pos != nil && pos.IsOpen() && pos.EntrySide() != fill.Side && pos.Quantity().LessThan(fillQty) {
		fillQty = pos.Quantity()
	}

	baseAmount := fillQty.Mul(instrument.Multiplier)
	quoteAmount := baseAmount.Mul(fill.LastPx)
	_, singleCurrency := a.BaseCurrency()

	var legs []domain.Money
	switch fill.Side {
	case domain.OrderSideBuy:
		if !instrument.BaseCurrency.IsZero() && !singleCurrency {
			legs = append(legs, domain.NewMoney(baseAmount, instrument.BaseCurrency))
		}
		legs = append(legs, domain.NewMoney(quoteAmount.Neg(), instrument.QuoteCurrency))
	case domain.OrderSideSell:
		if !instrument.BaseCurrency.IsZero() && !singleCurrency {
			legs = append(legs, domain.NewMoney(baseAmount.Neg(), instrument.BaseCurrency))
		}
		legs = append(legs, domain.NewMoney(quoteAmount, instrument.QuoteCurrency))
	default:
		return nil, fmt.Errorf("%w: fill carries no order side", domain.ErrInvariantViolation)
	}
	return legs, nil
}
