package domain

import "fmt"

// OrderSide is the direction of an order
type OrderSide uint8

const (
	OrderSideNone OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// String returns the canonical record encoding for the side
func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "NONE"
	}
}

// Opposite returns the side that offsets this one
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideNone
	}
}

// OrderSideFromString parses a record encoding back into a side
func OrderSideFromString(s string) (OrderSide, error) {
	switch s {
	case "BUY":
		return OrderSideBuy, nil
	case "SELL":
		return OrderSideSell, nil
	case "NONE":
		return OrderSideNone, nil
	default:
		return OrderSideNone, fmt.Errorf("unknown order side %q", s)
	}
}

// OrderType is the execution style of an order
type OrderType uint8

const (
	OrderTypeMarket OrderType = iota + 1
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
)

// String returns the canonical record encoding for the order type
func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStopMarket:
		return "STOP_MARKET"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// OrderTypeFromString parses a record encoding back into an order type
func OrderTypeFromString(s string) (OrderType, error) {
	switch s {
	case "MARKET":
		return OrderTypeMarket, nil
	case "LIMIT":
		return OrderTypeLimit, nil
	case "STOP_MARKET":
		return OrderTypeStopMarket, nil
	case "STOP_LIMIT":
		return OrderTypeStopLimit, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

// TimeInForce controls how long an order stays working
type TimeInForce uint8

const (
	TimeInForceGTC TimeInForce = iota + 1
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceDay
)

// String returns the canonical record encoding for the time in force
func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	case TimeInForceDay:
		return "DAY"
	default:
		return "UNKNOWN"
	}
}

// TimeInForceFromString parses a record encoding back into a time in force
func TimeInForceFromString(s string) (TimeInForce, error) {
	switch s {
	case "GTC":
		return TimeInForceGTC, nil
	case "IOC":
		return TimeInForceIOC, nil
	case "FOK":
		return TimeInForceFOK, nil
	case "DAY":
		return TimeInForceDay, nil
	default:
		return 0, fmt.Errorf("unknown time in force %q", s)
	}
}

// LiquiditySide classifies a fill as having added or removed liquidity,
// which drives maker/taker fee selection.
type LiquiditySide uint8

const (
	LiquiditySideNone LiquiditySide = iota
	LiquiditySideMaker
	LiquiditySideTaker
)

// String returns the canonical record encoding for the liquidity side
func (s LiquiditySide) String() string {
	switch s {
	case LiquiditySideMaker:
		return "MAKER"
	case LiquiditySideTaker:
		return "TAKER"
	default:
		return "NONE"
	}
}

// LiquiditySideFromString parses a record encoding back into a liquidity side
func LiquiditySideFromString(s string) (LiquiditySide, error) {
	switch s {
	case "MAKER":
		return LiquiditySideMaker, nil
	case "TAKER":
		return LiquiditySideTaker, nil
	case "NONE":
		return LiquiditySideNone, nil
	default:
		return LiquiditySideNone, fmt.Errorf("unknown liquidity side %q", s)
	}
}

// AccountType distinguishes venue account variants
type AccountType uint8

const (
	AccountTypeCash AccountType = iota + 1
	AccountTypeMargin
)

// String returns the canonical record encoding for the account type
func (t AccountType) String() string {
	switch t {
	case AccountTypeCash:
		return "CASH"
	case AccountTypeMargin:
		return "MARGIN"
	default:
		return "UNKNOWN"
	}
}

// AccountTypeFromString parses a record encoding back into an account type
func AccountTypeFromString(s string) (AccountType, error) {
	switch s {
	case "CASH":
		return AccountTypeCash, nil
	case "MARGIN":
		return AccountTypeMargin, nil
	default:
		return 0, fmt.Errorf("unknown account type %q", s)
	}
}

// PositionSide is the market position of an aggregated position
type PositionSide uint8

const (
	PositionSideFlat PositionSide = iota
	PositionSideLong
	PositionSideShort
)

// String returns the canonical record encoding for the position side
func (s PositionSide) String() string {
	switch s {
	case PositionSideLong:
		return "LONG"
	case PositionSideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// PositionSideFromString parses the canonical record encoding
func PositionSideFromString(s string) (PositionSide, error) {
	switch s {
	case "FLAT":
		return PositionSideFlat, nil
	case "LONG":
		return PositionSideLong, nil
	case "SHORT":
		return PositionSideShort, nil
	default:
		return 0, fmt.Errorf("unknown position side %q", s)
	}
}

// AggressorSide records which side initiated a trade tick
type AggressorSide uint8

const (
	AggressorSideNone AggressorSide = iota
	AggressorSideBuyer
	AggressorSideSeller
)

// String returns the canonical record encoding for the aggressor side
func (s AggressorSide) String() string {
	switch s {
	case AggressorSideBuyer:
		return "BUYER"
	case AggressorSideSeller:
		return "SELLER"
	default:
		return "NONE"
	}
}

// AggressorSideFromString parses the canonical record encoding
func AggressorSideFromString(s string) (AggressorSide, error) {
	switch s {
	case "NONE":
		return AggressorSideNone, nil
	case "BUYER":
		return AggressorSideBuyer, nil
	case "SELLER":
		return AggressorSideSeller, nil
	default:
		return 0, fmt.Errorf("unknown aggressor side %q", s)
	}
}
