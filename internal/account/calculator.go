package account

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

// Calculator is the venue-specific calculation capability. The base
// aggregate deliberately does not implement it: only the concrete cash and
// margin variants do, so a missing override is a compile error rather than
// a runtime fault.
type Calculator interface {
	// CalculateCommission prices a fill at the instrument's maker or taker
	// fee, in the instrument's settlement currency.
	CalculateCommission(instrument domain.Instrument, lastQty, lastPx decimal.Decimal, liquiditySide domain.LiquiditySide) (domain.Money, error)

	// CalculatePnLs returns the balance-change legs a fill produces. Cash
	// accounts return asset and cash legs; margin accounts return realized
	// PnL against the open position, if any.
	CalculatePnLs(instrument domain.Instrument, fill order.Filled, pos *position.Position) ([]domain.Money, error)
}

// MarginCalculator is the additional capability of accounts that hold
// leveraged positions.
type MarginCalculator interface {
	UpdateMarginInit(instrumentID domain.InstrumentID, margin domain.Money)
	ClearMarginInit(instrumentID domain.InstrumentID)
	MarginInit(instrumentID domain.InstrumentID) (domain.Money, bool)
}

// VenueAccount is a concrete account variant: the event-sourced aggregate
// plus its calculation capability.
type VenueAccount interface {
	Base() *Account
	Calculator
}

// FromEvents replays an event log into the concrete variant declared by
// the creation event.
func FromEvents(events []State) (VenueAccount, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty account event log", domain.ErrInvariantViolation)
	}

	var (
		va  VenueAccount
		err error
	)
	switch events[0].AccountType {
	case domain.AccountTypeCash:
		va, err = NewCashAccount(events[0])
	case domain.AccountTypeMargin:
		va, err = NewMarginAccount(events[0])
	default:
		return nil, fmt.Errorf("%w: unknown account type %d", domain.ErrInvariantViolation, events[0].AccountType)
	}
	if err != nil {
		return nil, err
	}

	for _, event := range events[1:] {
		if err := va.Base().Apply(event); err != nil {
			return nil, err
		}
	}
	return va, nil
}

// calculateCommission is the fee formula shared by both account variants:
// notional at the fill price times the liquidity-side fee rate.
func calculateCommission(instrument domain.Instrument, lastQty, lastPx decimal.Decimal, liquiditySide domain.LiquiditySide) (domain.Money, error) {
	var rate decimal.Decimal
	switch liquiditySide {
	case domain.LiquiditySideMaker:
		rate = instrument.MakerFee
	case domain.LiquiditySideTaker:
		rate = instrument.TakerFee
	default:
		return domain.Money{}, fmt.Errorf("%w: liquidity side not specified for commission",
			domain.ErrInvariantViolation)
	}
	return instrument.Notional(lastQty, lastPx).MulDecimal(rate), nil
}
