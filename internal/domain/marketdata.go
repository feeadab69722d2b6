package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// BarAggregation is the unit a bar is built over
type BarAggregation uint8

const (
	BarAggregationSecond BarAggregation = iota + 1
	BarAggregationMinute
	BarAggregationHour
	BarAggregationDay
	BarAggregationTick
)

// String returns the canonical encoding for the aggregation
func (a BarAggregation) String() string {
	switch a {
	case BarAggregationSecond:
		return "SECOND"
	case BarAggregationMinute:
		return "MINUTE"
	case BarAggregationHour:
		return "HOUR"
	case BarAggregationDay:
		return "DAY"
	case BarAggregationTick:
		return "TICK"
	default:
		return "UNKNOWN"
	}
}

// BarAggregationFromString parses a canonical aggregation encoding
func BarAggregationFromString(s string) (BarAggregation, error) {
	switch s {
	case "SECOND":
		return BarAggregationSecond, nil
	case "MINUTE":
		return BarAggregationMinute, nil
	case "HOUR":
		return BarAggregationHour, nil
	case "DAY":
		return BarAggregationDay, nil
	case "TICK":
		return BarAggregationTick, nil
	default:
		return 0, fmt.Errorf("unknown bar aggregation %q", s)
	}
}

// BarType identifies a bar stream: instrument, step and aggregation,
// e.g. "BTCUSDT.SIM-5-MINUTE".
type BarType struct {
	InstrumentID InstrumentID
	Step         int
	Aggregation  BarAggregation
}

// String returns the canonical bar type encoding
func (bt BarType) String() string {
	return fmt.Sprintf("%s-%d-%s", bt.InstrumentID, bt.Step, bt.Aggregation)
}

// BarTypeFromString parses a canonical bar type encoding
func BarTypeFromString(s string) (BarType, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return BarType{}, fmt.Errorf("invalid bar type %q", s)
	}
	var step int
	if _, err := fmt.Sscanf(parts[1], "%d", &step); err != nil || step <= 0 {
		return BarType{}, fmt.Errorf("invalid bar type step in %q", s)
	}
	agg, err := BarAggregationFromString(parts[2])
	if err != nil {
		return BarType{}, fmt.Errorf("invalid bar type %q: %w", s, err)
	}
	bt := BarType{InstrumentID: InstrumentID(parts[0]), Step: step, Aggregation: agg}
	if err := bt.InstrumentID.Validate(); err != nil {
		return BarType{}, err
	}
	return bt, nil
}

// QuoteTick is a top-of-book update.
// TsEvent is when the venue produced the quote, TsInit when this process
// first saw it; the two differ for venue-delayed reports.
type QuoteTick struct {
	InstrumentID InstrumentID
	BidPrice     decimal.Decimal
	AskPrice     decimal.Decimal
	BidSize      decimal.Decimal
	AskSize      decimal.Decimal
	TsEvent      int64
	TsInit       int64
}

// Mid returns the midpoint price of the quote
func (q QuoteTick) Mid() decimal.Decimal {
	return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2))
}

// TradeTick is a single market trade print
type TradeTick struct {
	InstrumentID InstrumentID
	Price        decimal.Decimal
	Size         decimal.Decimal
	Aggressor    AggressorSide
	TradeID      TradeID
	TsEvent      int64
	TsInit       int64
}

// Bar is one aggregated OHLCV interval of its bar type
type Bar struct {
	Type    BarType
	Open    decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Close   decimal.Decimal
	Volume  decimal.Decimal
	TsEvent int64
	TsInit  int64
}

// BookAction is what an order book delta does to its price level
type BookAction uint8

const (
	BookActionAdd BookAction = iota + 1
	BookActionUpdate
	BookActionDelete
	// BookActionClear empties the book. A snapshot arrives as a Clear
	// followed by Adds carrying the same sequence number.
	BookActionClear
)

// String returns the canonical encoding for the action
func (a BookAction) String() string {
	switch a {
	case BookActionAdd:
		return "ADD"
	case BookActionUpdate:
		return "UPDATE"
	case BookActionDelete:
		return "DELETE"
	case BookActionClear:
		return "CLEAR"
	default:
		return "UNKNOWN"
	}
}

// BookActionFromString parses a canonical action encoding
func BookActionFromString(s string) (BookAction, error) {
	switch s {
	case "ADD":
		return BookActionAdd, nil
	case "UPDATE":
		return BookActionUpdate, nil
	case "DELETE":
		return BookActionDelete, nil
	case "CLEAR":
		return BookActionClear, nil
	default:
		return 0, fmt.Errorf("unknown book action %q", s)
	}
}

// OrderBookDelta is one change to one price level of an instrument's book.
// Price and Size are zero for Clear actions. Sequence is the venue's book
// sequence number; consumers detect gaps by watching it.
type OrderBookDelta struct {
	InstrumentID InstrumentID
	Action       BookAction
	Side         OrderSide
	Price        decimal.Decimal
	Size         decimal.Decimal
	Sequence     uint64
	TsEvent      int64
	TsInit       int64
}

// MarketStatus is the trading phase a venue reports for an instrument
type MarketStatus uint8

const (
	MarketStatusPreOpen MarketStatus = iota + 1
	MarketStatusOpen
	MarketStatusPause
	MarketStatusHalt
	MarketStatusClosed
)

// String returns the canonical encoding for the status
func (m MarketStatus) String() string {
	switch m {
	case MarketStatusPreOpen:
		return "PRE_OPEN"
	case MarketStatusOpen:
		return "OPEN"
	case MarketStatusPause:
		return "PAUSE"
	case MarketStatusHalt:
		return "HALT"
	case MarketStatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MarketStatusFromString parses a canonical status encoding
func MarketStatusFromString(s string) (MarketStatus, error) {
	switch s {
	case "PRE_OPEN":
		return MarketStatusPreOpen, nil
	case "OPEN":
		return MarketStatusOpen, nil
	case "PAUSE":
		return MarketStatusPause, nil
	case "HALT":
		return MarketStatusHalt, nil
	case "CLOSED":
		return MarketStatusClosed, nil
	default:
		return 0, fmt.Errorf("unknown market status %q", s)
	}
}

// InstrumentStatus is a trading phase change for an instrument
type InstrumentStatus struct {
	InstrumentID InstrumentID
	Status       MarketStatus
	TsEvent      int64
	TsInit       int64
}

// InstrumentCloseType says what a close price marks
type InstrumentCloseType uint8

const (
	// InstrumentCloseTypeEndOfSession is the venue's session settlement price
	InstrumentCloseTypeEndOfSession InstrumentCloseType = iota + 1
	// InstrumentCloseTypeExpired is the final price of an expired contract
	InstrumentCloseTypeExpired
)

// String returns the canonical encoding for the close type
func (c InstrumentCloseType) String() string {
	switch c {
	case InstrumentCloseTypeEndOfSession:
		return "END_OF_SESSION"
	case InstrumentCloseTypeExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// InstrumentCloseTypeFromString parses a canonical close type encoding
func InstrumentCloseTypeFromString(s string) (InstrumentCloseType, error) {
	switch s {
	case "END_OF_SESSION":
		return InstrumentCloseTypeEndOfSession, nil
	case "EXPIRED":
		return InstrumentCloseTypeExpired, nil
	default:
		return 0, fmt.Errorf("unknown instrument close type %q", s)
	}
}

// InstrumentClose is a venue-published closing price for an instrument
type InstrumentClose struct {
	InstrumentID InstrumentID
	ClosePrice   decimal.Decimal
	CloseType    InstrumentCloseType
	TsEvent      int64
	TsInit       int64
}
