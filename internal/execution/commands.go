// Package execution implements the execution engine: the single owner of
// live orders, positions and accounts, routing trading commands to venue
// clients and applying the events venues report back.
package execution

import (
	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
)

// SubmitOrder sends one initialized order to its venue
type SubmitOrder struct {
	messaging.CommandBase
	Order *order.Order
}

// NewSubmitOrder creates a submit command for an initialized order
func NewSubmitOrder(ord *order.Order, tsInit int64) SubmitOrder {
	return SubmitOrder{CommandBase: messaging.NewCommandBase(tsInit), Order: ord}
}

// SubmitBracketOrder sends a bracket (entry + stop-loss + take-profit)
// to its venue as one unit.
type SubmitBracketOrder struct {
	messaging.CommandBase
	Bracket order.Bracket
}

// NewSubmitBracketOrder creates a submit command for a bracket
func NewSubmitBracketOrder(bracket order.Bracket, tsInit int64) SubmitBracketOrder {
	return SubmitBracketOrder{CommandBase: messaging.NewCommandBase(tsInit), Bracket: bracket}
}

// ModifyOrder requests new parameters for a working order. Nil fields
// keep their current values.
type ModifyOrder struct {
	messaging.CommandBase
	StrategyID    domain.StrategyID
	InstrumentID  domain.InstrumentID
	ClientOrderID domain.ClientOrderID
	Quantity      *decimal.Decimal
	Price         *decimal.Decimal
	TriggerPrice  *decimal.Decimal
}

// NewModifyOrder creates a modify command for a working order
func NewModifyOrder(strategyID domain.StrategyID, instrumentID domain.InstrumentID, clientOrderID domain.ClientOrderID, quantity, price, triggerPrice *decimal.Decimal, tsInit int64) ModifyOrder {
	return ModifyOrder{
		CommandBase:   messaging.NewCommandBase(tsInit),
		StrategyID:    strategyID,
		InstrumentID:  instrumentID,
		ClientOrderID: clientOrderID,
		Quantity:      quantity,
		Price:         price,
		TriggerPrice:  triggerPrice,
	}
}

// CancelOrder requests cancellation of one working order
type CancelOrder struct {
	messaging.CommandBase
	StrategyID    domain.StrategyID
	InstrumentID  domain.InstrumentID
	ClientOrderID domain.ClientOrderID
}

// NewCancelOrder creates a cancel command for a working order
func NewCancelOrder(strategyID domain.StrategyID, instrumentID domain.InstrumentID, clientOrderID domain.ClientOrderID, tsInit int64) CancelOrder {
	return CancelOrder{
		CommandBase:   messaging.NewCommandBase(tsInit),
		StrategyID:    strategyID,
		InstrumentID:  instrumentID,
		ClientOrderID: clientOrderID,
	}
}

// CancelAllOrders requests cancellation of every working order a strategy
// has on one instrument.
type CancelAllOrders struct {
	messaging.CommandBase
	StrategyID   domain.StrategyID
	InstrumentID domain.InstrumentID
}

// NewCancelAllOrders creates a cancel-all command for one instrument
func NewCancelAllOrders(strategyID domain.StrategyID, instrumentID domain.InstrumentID, tsInit int64) CancelAllOrders {
	return CancelAllOrders{
		CommandBase:  messaging.NewCommandBase(tsInit),
		StrategyID:   strategyID,
		InstrumentID: instrumentID,
	}
}
