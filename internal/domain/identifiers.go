package domain

import (
	"fmt"
	"strings"
)

// Typed identifiers for the entities the core tracks. Keeping them distinct
// types prevents an order id from ever being passed where a position id is
// expected.
type (
	// AccountID identifies an account, e.g. "SIM-001"
	AccountID string

	// ClientOrderID is assigned locally at order initialization and is
	// immutable for the order's life.
	ClientOrderID string

	// VenueOrderID is assigned by the venue once it accepts an order.
	// It is set exactly once per order.
	VenueOrderID string

	// TradeID identifies a single fill as reported by the venue
	TradeID string

	// PositionID groups fills into a position
	PositionID string

	// StrategyID identifies a strategy instance within a trader,
	// canonically "<Name>-<tag>".
	StrategyID string

	// Venue identifies a trading venue, e.g. "SIM", "BINANCE"
	Venue string

	// InstrumentID identifies an instrument on a venue, "<Symbol>.<Venue>"
	InstrumentID string
)

// NewInstrumentID builds an instrument id from its symbol and venue
func NewInstrumentID(symbol string, venue Venue) InstrumentID {
	return InstrumentID(symbol + "." + string(venue))
}

// Symbol returns the symbol part of the instrument id
func (id InstrumentID) Symbol() string {
	if i := strings.LastIndex(string(id), "."); i >= 0 {
		return string(id)[:i]
	}
	return string(id)
}

// Venue returns the venue part of the instrument id
func (id InstrumentID) Venue() Venue {
	if i := strings.LastIndex(string(id), "."); i >= 0 {
		return Venue(string(id)[i+1:])
	}
	return ""
}

// NewStrategyID builds a strategy id from the strategy name and operator tag
func NewStrategyID(name, tag string) StrategyID {
	if tag == "" {
		return StrategyID(name)
	}
	return StrategyID(name + "-" + tag)
}

// Validate reports an error for an empty or malformed instrument id
func (id InstrumentID) Validate() error {
	s := string(id)
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return fmt.Errorf("%w: instrument id %q must be <symbol>.<venue>", ErrInvariantViolation, s)
	}
	return nil
}
