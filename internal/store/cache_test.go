package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

const (
	testStrategyID   = domain.StrategyID("EMACross-001")
	testInstrumentID = domain.InstrumentID("BTCUSDT.SIM")
	testAccountID    = domain.AccountID("SIM-001")
)

func testClock() *clock.TestClock {
	return clock.NewTestClock(time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC).UnixNano())
}

func testInstrument(id domain.InstrumentID) domain.Instrument {
	return domain.Instrument{
		ID:                 id,
		Type:               domain.InstrumentTypeCryptoSwap,
		BaseCurrency:       domain.BTC,
		QuoteCurrency:      domain.USDT,
		SettlementCurrency: domain.USDT,
		PricePrecision:     2,
		SizePrecision:      6,
		Multiplier:         decimal.NewFromInt(1),
		MakerFee:           decimal.RequireFromString("0.001"),
		TakerFee:           decimal.RequireFromString("0.002"),
	}
}

func testAccount(t *testing.T) account.VenueAccount {
	t.Helper()
	total := domain.NewMoney(decimal.NewFromInt(100000), domain.USDT)
	bal, err := domain.NewAccountBalance(total, domain.ZeroMoney(domain.USDT), total)
	require.NoError(t, err)
	ev := account.NewState(testAccountID, domain.AccountTypeCash, domain.USDT,
		[]domain.AccountBalance{bal}, true, 100, 100)
	va, err := account.FromEvents([]account.State{ev})
	require.NoError(t, err)
	return va
}

func marketOrder(t *testing.T, factory *order.Factory, instrumentID domain.InstrumentID, side domain.OrderSide) *order.Order {
	t.Helper()
	ord, err := factory.Market(instrumentID, side, decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)
	return ord
}

func acceptOrder(t *testing.T, ord *order.Order, venueID domain.VenueOrderID) {
	t.Helper()
	base := order.NewBase(ord.StrategyID(), ord.InstrumentID(), ord.ClientOrderID(), 200, 200)
	require.NoError(t, ord.Apply(order.Submitted{Base: base, AccountID: testAccountID}))
	require.NoError(t, ord.Apply(order.Accepted{Base: base, AccountID: testAccountID, VenueOrderID: venueID}))
}

func fillOrder(t *testing.T, ord *order.Order, tradeID string, qty, px int64) order.Filled {
	t.Helper()
	fill := order.Filled{
		Base:          order.NewBase(ord.StrategyID(), ord.InstrumentID(), ord.ClientOrderID(), 300, 300),
		AccountID:     testAccountID,
		VenueOrderID:  domain.VenueOrderID("V-001"),
		TradeID:       domain.TradeID(tradeID),
		PositionID:    domain.PositionID("P-1"),
		Side:          ord.Side(),
		LastQty:       decimal.NewFromInt(qty),
		LastPx:        decimal.NewFromInt(px),
		Currency:      domain.USDT,
		Commission:    domain.ZeroMoney(domain.USDT),
		LiquiditySide: domain.LiquiditySideTaker,
	}
	require.NoError(t, ord.Apply(fill))
	return fill
}

func TestInstrumentIDsSorted(t *testing.T) {
	c := NewCache(zerolog.Nop())
	c.AddInstrument(testInstrument("ETHUSDT.SIM"))
	c.AddInstrument(testInstrument("BTCUSDT.SIM"))

	assert.Equal(t, []domain.InstrumentID{"BTCUSDT.SIM", "ETHUSDT.SIM"}, c.InstrumentIDs())

	got, ok := c.Instrument("ETHUSDT.SIM")
	require.True(t, ok)
	assert.Equal(t, domain.InstrumentID("ETHUSDT.SIM"), got.ID)
}

func TestDuplicateAccountRejected(t *testing.T) {
	c := NewCache(zerolog.Nop())
	require.NoError(t, c.AddAccount(testAccount(t)))

	err := c.AddAccount(testAccount(t))
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Equal(t, []domain.AccountID{testAccountID}, c.AccountIDs())
}

func TestDuplicateOrderRejected(t *testing.T) {
	c := NewCache(zerolog.Nop())
	factory := order.NewFactory(testStrategyID, testClock())
	ord := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)

	require.NoError(t, c.AddOrder(ord))
	assert.ErrorIs(t, c.AddOrder(ord), domain.ErrInvariantViolation)
	assert.Equal(t, 1, c.OrderCount())
}

func TestVenueOrderIDIndexResolvesOrder(t *testing.T) {
	c := NewCache(zerolog.Nop())
	factory := order.NewFactory(testStrategyID, testClock())
	ord := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	require.NoError(t, c.AddOrder(ord))

	c.IndexVenueOrderID("V-42", ord.ClientOrderID())

	got, ok := c.OrderForVenueID("V-42")
	require.True(t, ok)
	assert.Same(t, ord, got)

	_, ok = c.OrderForVenueID("V-missing")
	assert.False(t, ok)
}

func TestOrdersForStrategySortedByClientOrderID(t *testing.T) {
	c := NewCache(zerolog.Nop())
	factory := order.NewFactory(testStrategyID, testClock())
	first := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	second := marketOrder(t, factory, testInstrumentID, domain.OrderSideSell)
	require.NoError(t, c.AddOrder(second))
	require.NoError(t, c.AddOrder(first))

	got := c.OrdersForStrategy(testStrategyID)
	require.Len(t, got, 2)
	assert.True(t, got[0].ClientOrderID() < got[1].ClientOrderID())

	assert.Empty(t, c.OrdersForStrategy("Unknown-001"))
}

func TestWorkingOrdersFilterStatusAndInstrument(t *testing.T) {
	c := NewCache(zerolog.Nop())
	factory := order.NewFactory(testStrategyID, testClock())

	working := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	acceptOrder(t, working, "V-1")

	pending := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)

	otherInstrument := marketOrder(t, factory, "ETHUSDT.SIM", domain.OrderSideBuy)
	acceptOrder(t, otherInstrument, "V-2")

	for _, ord := range []*order.Order{working, pending, otherInstrument} {
		require.NoError(t, c.AddOrder(ord))
	}

	got := c.WorkingOrders(testStrategyID, testInstrumentID)
	require.Len(t, got, 1)
	assert.Same(t, working, got[0])
}

func TestOpenPositionIndexDropsClosedPositions(t *testing.T) {
	c := NewCache(zerolog.Nop())
	factory := order.NewFactory(testStrategyID, testClock())
	instrument := testInstrument(testInstrumentID)

	buy := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	acceptOrder(t, buy, "V-1")
	openFill := fillOrder(t, buy, "T-1", 1, 50000)

	pos, err := position.New(instrument, openFill)
	require.NoError(t, err)
	require.NoError(t, c.AddPosition(pos))

	got, ok := c.OpenPosition(testStrategyID, testInstrumentID)
	require.True(t, ok)
	assert.Same(t, pos, got)

	sell := marketOrder(t, factory, testInstrumentID, domain.OrderSideSell)
	acceptOrder(t, sell, "V-2")
	closeFill := fillOrder(t, sell, "T-2", 1, 51000)
	require.NoError(t, pos.Apply(closeFill))

	_, ok = c.OpenPosition(testStrategyID, testInstrumentID)
	assert.False(t, ok, "a closed position must drop out of the open index")

	// The position itself stays queryable by id.
	byID, ok := c.Position(pos.ID())
	require.True(t, ok)
	assert.True(t, byID.IsClosed())
}

func TestDuplicatePositionRejected(t *testing.T) {
	c := NewCache(zerolog.Nop())
	factory := order.NewFactory(testStrategyID, testClock())
	buy := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	acceptOrder(t, buy, "V-1")
	fill := fillOrder(t, buy, "T-1", 1, 50000)

	pos, err := position.New(testInstrument(testInstrumentID), fill)
	require.NoError(t, err)
	require.NoError(t, c.AddPosition(pos))
	assert.ErrorIs(t, c.AddPosition(pos), domain.ErrInvariantViolation)
	assert.Equal(t, 1, c.PositionCount())
}

func TestOpenPositionsForStrategyExcludesClosed(t *testing.T) {
	c := NewCache(zerolog.Nop())
	factory := order.NewFactory(testStrategyID, testClock())
	instrument := testInstrument(testInstrumentID)

	buy := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	acceptOrder(t, buy, "V-1")
	pos, err := position.New(instrument, fillOrder(t, buy, "T-1", 1, 50000))
	require.NoError(t, err)
	require.NoError(t, c.AddPosition(pos))

	require.Len(t, c.OpenPositionsForStrategy(testStrategyID), 1)

	sell := marketOrder(t, factory, testInstrumentID, domain.OrderSideSell)
	acceptOrder(t, sell, "V-2")
	require.NoError(t, pos.Apply(fillOrder(t, sell, "T-2", 1, 51000)))

	assert.Empty(t, c.OpenPositionsForStrategy(testStrategyID))
	assert.Len(t, c.PositionsForStrategy(testStrategyID), 1)
}

func TestResetDropsAllState(t *testing.T) {
	c := NewCache(zerolog.Nop())
	c.AddInstrument(testInstrument(testInstrumentID))
	require.NoError(t, c.AddAccount(testAccount(t)))
	factory := order.NewFactory(testStrategyID, testClock())
	require.NoError(t, c.AddOrder(marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)))

	c.Reset()

	assert.Empty(t, c.InstrumentIDs())
	assert.Empty(t, c.AccountIDs())
	assert.Equal(t, 0, c.OrderCount())
	assert.Equal(t, 0, c.PositionCount())
}
