package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/domain"
)

// Generator produces session-unique client order ids of the form
// O-<yyyymmdd-HHMMSS>-<strategy>-<count>. The count survives restarts via
// the strategy save/load contract.
type Generator struct {
	strategyID domain.StrategyID
	clk        clock.Clock
	count      int
}

// NewGenerator creates an id generator for one strategy
func NewGenerator(strategyID domain.StrategyID, clk clock.Clock) *Generator {
	return &Generator{strategyID: strategyID, clk: clk}
}

// Generate returns the next client order id
func (g *Generator) Generate() domain.ClientOrderID {
	g.count++
	ts := g.clk.Now().UTC().Format("20060102-150405")
	return domain.ClientOrderID(fmt.Sprintf("O-%s-%s-%d", ts, g.strategyID, g.count))
}

// Count returns the number of ids generated this session
func (g *Generator) Count() int { return g.count }

// Reset restarts the count at zero
func (g *Generator) Reset() { g.count = 0 }

// Reseed restores the count from persisted strategy state
func (g *Generator) Reseed(count int) { g.count = count }

// Factory builds orders with generated ids and clock-sourced timestamps.
// One factory serves one strategy; the id sequence is strategy-private.
type Factory struct {
	strategyID domain.StrategyID
	clk        clock.Clock
	generator  *Generator
}

// NewFactory creates an order factory for one strategy
func NewFactory(strategyID domain.StrategyID, clk clock.Clock) *Factory {
	return &Factory{
		strategyID: strategyID,
		clk:        clk,
		generator:  NewGenerator(strategyID, clk),
	}
}

// Generator exposes the id generator for save/load reseeding
func (f *Factory) Generator() *Generator { return f.generator }

func (f *Factory) initialized(instrumentID domain.InstrumentID, side domain.OrderSide, orderType domain.OrderType, quantity decimal.Decimal, tif domain.TimeInForce) Initialized {
	ts := f.clk.TimestampNs()
	return Initialized{
		Base:        NewBase(f.strategyID, instrumentID, f.generator.Generate(), ts, ts),
		Side:        side,
		OrderType:   orderType,
		Quantity:    quantity,
		TimeInForce: tif,
	}
}

// Market builds a market order
func (f *Factory) Market(instrumentID domain.InstrumentID, side domain.OrderSide, quantity decimal.Decimal, tif domain.TimeInForce) (*Order, error) {
	return New(f.initialized(instrumentID, side, domain.OrderTypeMarket, quantity, tif))
}

// MarketToClose builds a reduce-only market order used to flatten a
// position.
func (f *Factory) MarketToClose(instrumentID domain.InstrumentID, side domain.OrderSide, quantity decimal.Decimal) (*Order, error) {
	init := f.initialized(instrumentID, side, domain.OrderTypeMarket, quantity, domain.TimeInForceIOC)
	init.ReduceOnly = true
	return New(init)
}

// Limit builds a limit order
func (f *Factory) Limit(instrumentID domain.InstrumentID, side domain.OrderSide, quantity, price decimal.Decimal, tif domain.TimeInForce, postOnly bool) (*Order, error) {
	init := f.initialized(instrumentID, side, domain.OrderTypeLimit, quantity, tif)
	init.Price = &price
	init.PostOnly = postOnly
	return New(init)
}

// StopMarket builds a stop-market order
func (f *Factory) StopMarket(instrumentID domain.InstrumentID, side domain.OrderSide, quantity, triggerPrice decimal.Decimal, tif domain.TimeInForce, reduceOnly bool) (*Order, error) {
	init := f.initialized(instrumentID, side, domain.OrderTypeStopMarket, quantity, tif)
	init.TriggerPrice = &triggerPrice
	init.ReduceOnly = reduceOnly
	return New(init)
}

// StopLimit builds a stop-limit order
func (f *Factory) StopLimit(instrumentID domain.InstrumentID, side domain.OrderSide, quantity, price, triggerPrice decimal.Decimal, tif domain.TimeInForce, postOnly bool) (*Order, error) {
	init := f.initialized(instrumentID, side, domain.OrderTypeStopLimit, quantity, tif)
	init.Price = &price
	init.TriggerPrice = &triggerPrice
	init.PostOnly = postOnly
	return New(init)
}

// Bracket is a parent entry order with attached stop-loss and take-profit
// child orders.
type Bracket struct {
	Entry      *Order
	StopLoss   *Order
	TakeProfit *Order
}

// Bracket builds a market entry with reduce-only stop-loss and take-profit
// children on the opposite side.
func (f *Factory) Bracket(instrumentID domain.InstrumentID, side domain.OrderSide, quantity, stopTrigger, takeProfit decimal.Decimal, tif domain.TimeInForce) (Bracket, error) {
	entry, err := f.Market(instrumentID, side, quantity, tif)
	if err != nil {
		return Bracket{}, err
	}
	sl, err := f.StopMarket(instrumentID, side.Opposite(), quantity, stopTrigger, domain.TimeInForceGTC, true)
	if err != nil {
		return Bracket{}, err
	}
	tpInit := f.initialized(instrumentID, side.Opposite(), domain.OrderTypeLimit, quantity, domain.TimeInForceGTC)
	tpInit.Price = &takeProfit
	tpInit.ReduceOnly = true
	tp, err := New(tpInit)
	if err != nil {
		return Bracket{}, err
	}
	return Bracket{Entry: entry, StopLoss: sl, TakeProfit: tp}, nil
}
