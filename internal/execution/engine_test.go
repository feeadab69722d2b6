package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
	"github.com/meridianhq/meridian/internal/store"
)

const (
	testStrategyID   = domain.StrategyID("EMACross-001")
	testInstrumentID = domain.InstrumentID("BTCUSDT.SIM")
	testAccountID    = domain.AccountID("SIM-001")
)

type fakeExecClient struct {
	venue     domain.Venue
	accountID domain.AccountID
	connected bool

	submitErr error

	submits    []SubmitOrder
	brackets   []SubmitBracketOrder
	modifies   []ModifyOrder
	cancels    []CancelOrder
	cancelAlls []CancelAllOrders
}

var _ Client = (*fakeExecClient)(nil)

func (f *fakeExecClient) Venue() domain.Venue         { return f.venue }
func (f *fakeExecClient) AccountID() domain.AccountID { return f.accountID }

func (f *fakeExecClient) Connect(context.Context) error {
	f.connected = true
	return nil
}

func (f *fakeExecClient) Disconnect(context.Context) error {
	f.connected = false
	return nil
}

func (f *fakeExecClient) IsConnected() bool { return f.connected }
func (f *fakeExecClient) Reset() error      { return nil }
func (f *fakeExecClient) Dispose() error    { return nil }

func (f *fakeExecClient) SubmitOrder(cmd SubmitOrder) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits = append(f.submits, cmd)
	return nil
}

func (f *fakeExecClient) SubmitBracketOrder(cmd SubmitBracketOrder) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.brackets = append(f.brackets, cmd)
	return nil
}

func (f *fakeExecClient) ModifyOrder(cmd ModifyOrder) error {
	f.modifies = append(f.modifies, cmd)
	return nil
}

func (f *fakeExecClient) CancelOrder(cmd CancelOrder) error {
	f.cancels = append(f.cancels, cmd)
	return nil
}

func (f *fakeExecClient) CancelAllOrders(cmd CancelAllOrders) error {
	f.cancelAlls = append(f.cancelAlls, cmd)
	return nil
}

func testInstrument() domain.Instrument {
	return domain.Instrument{
		ID:                 testInstrumentID,
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

type testHarness struct {
	engine *Engine
	bus    *messaging.Bus
	client *fakeExecClient
	clk    *clock.TestClock
	cache  *store.Cache

	orderEvents    []order.Event
	positionEvents []position.Event
	accountEvents  []account.State
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{}

	h.bus = messaging.NewBus(256, zerolog.Nop())
	h.bus.Start()
	t.Cleanup(h.bus.Stop)

	startNs := time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC).UnixNano()
	h.clk = clock.NewTestClock(startNs)
	h.cache = store.NewCache(zerolog.Nop())
	h.engine = NewEngine(h.bus, h.clk, h.cache, zerolog.Nop())

	h.client = &fakeExecClient{venue: domain.Venue("SIM"), accountID: testAccountID}
	require.NoError(t, h.engine.RegisterClient(h.client))
	require.NoError(t, h.engine.Start(context.Background()))

	messaging.SubscribeTo(h.bus, messaging.TopicOrderEvents(testStrategyID), func(ev order.Event) {
		h.orderEvents = append(h.orderEvents, ev)
	})
	messaging.SubscribeTo(h.bus, messaging.TopicPositionEvents(testStrategyID), func(ev position.Event) {
		h.positionEvents = append(h.positionEvents, ev)
	})
	messaging.SubscribeTo(h.bus, messaging.TopicAccountEvents(testAccountID), func(ev account.State) {
		h.accountEvents = append(h.accountEvents, ev)
	})
	return h
}

func (h *testHarness) seedInstrument() {
	h.cache.AddInstrument(testInstrument())
}

func (h *testHarness) seedAccount(t *testing.T) account.VenueAccount {
	t.Helper()
	total := domain.NewMoney(decimal.NewFromInt(100000), domain.USDT)
	bal, err := domain.NewAccountBalance(total, domain.ZeroMoney(domain.USDT), total)
	require.NoError(t, err)
	ev := account.NewState(testAccountID, domain.AccountTypeCash, domain.USDT,
		[]domain.AccountBalance{bal}, true, 100, 100)
	va, err := account.FromEvents([]account.State{ev})
	require.NoError(t, err)
	require.NoError(t, h.cache.AddAccount(va))
	return va
}

func (h *testHarness) newOrder(t *testing.T) *order.Order {
	t.Helper()
	factory := order.NewFactory(testStrategyID, h.clk)
	ord, err := factory.Market(testInstrumentID, domain.OrderSideBuy, decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)
	return ord
}

func (h *testHarness) eventBase(ord *order.Order, tsEvent int64) order.Base {
	return order.NewBase(ord.StrategyID(), ord.InstrumentID(), ord.ClientOrderID(), tsEvent, tsEvent)
}

func (h *testHarness) fillFor(ord *order.Order, tradeID string, qty, px int64, tsEvent int64) order.Filled {
	return order.Filled{
		Base:          h.eventBase(ord, tsEvent),
		AccountID:     testAccountID,
		VenueOrderID:  domain.VenueOrderID("V-001"),
		TradeID:       domain.TradeID(tradeID),
		Side:          ord.Side(),
		LastQty:       decimal.NewFromInt(qty),
		LastPx:        decimal.NewFromInt(px),
		Currency:      domain.USDT,
		Commission:    domain.ZeroMoney(domain.USDT),
		LiquiditySide: domain.LiquiditySideTaker,
	}
}

func TestSubmitOrderRoutesToVenueClient(t *testing.T) {
	h := newHarness(t)
	ord := h.newOrder(t)

	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))

	require.Len(t, h.client.submits, 1)
	cached, ok := h.cache.Order(ord.ClientOrderID())
	require.True(t, ok)
	assert.Same(t, ord, cached)
}

func TestSubmitWithoutClientDeniesOrder(t *testing.T) {
	h := newHarness(t)
	factory := order.NewFactory(testStrategyID, h.clk)
	ord, err := factory.Market(domain.InstrumentID("ETHUSDT.BINANCE"), domain.OrderSideBuy,
		decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)

	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))
	h.bus.Flush()

	assert.Equal(t, order.StatusDenied, ord.Status())
	require.Len(t, h.orderEvents, 1)
	denied, ok := h.orderEvents[0].(order.Denied)
	require.True(t, ok)
	assert.True(t, strings.Contains(denied.Reason, "no execution client"))
}

func TestSubmitClientFailureDeniesOrder(t *testing.T) {
	h := newHarness(t)
	h.client.submitErr = assert.AnError
	ord := h.newOrder(t)

	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))
	h.bus.Flush()

	assert.Equal(t, order.StatusDenied, ord.Status())
	require.Len(t, h.orderEvents, 1)
	assert.Equal(t, "OrderDenied", h.orderEvents[0].EventType())
}

func TestDuplicateSubmitRefused(t *testing.T) {
	h := newHarness(t)
	ord := h.newOrder(t)

	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))
	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))

	assert.Len(t, h.client.submits, 1)
	assert.Equal(t, 1, h.cache.OrderCount())
}

func TestVenueEventsDriveOrderLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seedInstrument()
	h.seedAccount(t)
	ord := h.newOrder(t)
	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))

	h.engine.Process(order.Submitted{Base: h.eventBase(ord, 200), AccountID: testAccountID})
	h.engine.Process(order.Accepted{Base: h.eventBase(ord, 300), AccountID: testAccountID,
		VenueOrderID: domain.VenueOrderID("V-001")})
	h.bus.Flush()

	assert.Equal(t, order.StatusAccepted, ord.Status())
	byVenue, ok := h.cache.OrderForVenueID(domain.VenueOrderID("V-001"))
	require.True(t, ok)
	assert.Same(t, ord, byVenue)
	assert.Len(t, h.orderEvents, 2)
}

func TestOutOfOrderEventDroppedWithoutPublication(t *testing.T) {
	h := newHarness(t)
	ord := h.newOrder(t)
	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))

	// Accepted before Submitted is an illegal transition from Initialized.
	h.engine.Process(order.Accepted{Base: h.eventBase(ord, 200), AccountID: testAccountID,
		VenueOrderID: domain.VenueOrderID("V-001")})
	h.bus.Flush()

	assert.Equal(t, order.StatusInitialized, ord.Status())
	assert.Empty(t, h.orderEvents)
	_, indexed := h.cache.OrderForVenueID(domain.VenueOrderID("V-001"))
	assert.False(t, indexed, "rejected accept must not index a venue order id")
}

func TestFillOpensPositionAndCalculatesCommission(t *testing.T) {
	h := newHarness(t)
	h.seedInstrument()
	va := h.seedAccount(t)
	ord := h.newOrder(t)
	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))
	h.engine.Process(order.Submitted{Base: h.eventBase(ord, 200), AccountID: testAccountID})
	h.engine.Process(order.Accepted{Base: h.eventBase(ord, 300), AccountID: testAccountID,
		VenueOrderID: domain.VenueOrderID("V-001")})

	h.engine.Process(h.fillFor(ord, "T-1", 1, 50000, 400))
	h.bus.Flush()

	assert.Equal(t, order.StatusFilled, ord.Status())

	// Venue reported no commission: taker fee 0.2% of 50000.
	commission, ok, err := va.Base().Commission(domain.USDT)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100.00000000 USDT", commission.String())

	posID, hasPos := ord.PositionID()
	require.True(t, hasPos)
	assert.True(t, strings.HasPrefix(string(posID), "P-20260821-093000-EMACross-001-"))

	pos, ok := h.cache.Position(posID)
	require.True(t, ok)
	assert.True(t, pos.IsOpen())

	require.Len(t, h.positionEvents, 1)
	assert.Equal(t, "PositionOpened", h.positionEvents[0].EventType())

	// The fill itself reached the strategy stream last.
	last := h.orderEvents[len(h.orderEvents)-1]
	assert.Equal(t, "OrderFilled", last.EventType())
}

func TestOpposingFillReusesOpenPositionAndCloses(t *testing.T) {
	h := newHarness(t)
	h.seedInstrument()
	h.seedAccount(t)

	factory := order.NewFactory(testStrategyID, h.clk)
	buy, err := factory.Market(testInstrumentID, domain.OrderSideBuy, decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)
	sell, err := factory.Market(testInstrumentID, domain.OrderSideSell, decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)

	for _, ord := range []*order.Order{buy, sell} {
		h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))
		h.engine.Process(order.Submitted{Base: h.eventBase(ord, 200), AccountID: testAccountID})
	}

	h.engine.Process(h.fillFor(buy, "T-1", 1, 50000, 300))
	h.engine.Process(h.fillFor(sell, "T-2", 1, 51000, 400))
	h.bus.Flush()

	buyPos, _ := buy.PositionID()
	sellPos, _ := sell.PositionID()
	assert.Equal(t, buyPos, sellPos, "the opposing fill must book against the open position")

	pos, ok := h.cache.Position(buyPos)
	require.True(t, ok)
	assert.True(t, pos.IsClosed())
	assert.True(t, pos.RealizedPnL().Amount().GreaterThan(decimal.Zero))

	require.Len(t, h.positionEvents, 2)
	assert.Equal(t, "PositionOpened", h.positionEvents[0].EventType())
	assert.Equal(t, "PositionClosed", h.positionEvents[1].EventType())

	_, stillOpen := h.cache.OpenPosition(testStrategyID, testInstrumentID)
	assert.False(t, stillOpen)
}

func TestAccountStateCreatesThenApplies(t *testing.T) {
	h := newHarness(t)

	total := domain.NewMoney(decimal.NewFromInt(10000), domain.USD)
	bal, err := domain.NewAccountBalance(total, domain.ZeroMoney(domain.USD), total)
	require.NoError(t, err)
	first := account.NewState(testAccountID, domain.AccountTypeCash, domain.USD,
		[]domain.AccountBalance{bal}, true, 100, 100)

	h.engine.Process(first)
	h.bus.Flush()

	va, ok := h.cache.Account(testAccountID)
	require.True(t, ok)
	assert.Equal(t, 1, va.Base().EventCount())
	require.Len(t, h.accountEvents, 1)

	nextTotal := domain.NewMoney(decimal.NewFromInt(9950), domain.USD)
	locked := domain.NewMoney(decimal.NewFromInt(50), domain.USD)
	free := domain.NewMoney(decimal.NewFromInt(9900), domain.USD)
	nextBal, err := domain.NewAccountBalance(nextTotal, locked, free)
	require.NoError(t, err)
	second := account.NewState(testAccountID, domain.AccountTypeCash, domain.USD,
		[]domain.AccountBalance{nextBal}, true, 200, 200)

	h.engine.Process(second)
	h.bus.Flush()

	assert.Equal(t, 2, va.Base().EventCount())
	assert.Len(t, h.accountEvents, 2)

	got, ok, err := va.Base().BalanceTotal()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "9950.00 USD", got.String())
}

func TestBracketSubmitCachesAllLegs(t *testing.T) {
	h := newHarness(t)
	factory := order.NewFactory(testStrategyID, h.clk)
	bracket, err := factory.Bracket(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(49000), decimal.NewFromInt(52000),
		domain.TimeInForceGTC)
	require.NoError(t, err)

	h.engine.Execute(NewSubmitBracketOrder(bracket, h.clk.TimestampNs()))

	require.Len(t, h.client.brackets, 1)
	assert.Equal(t, 3, h.cache.OrderCount())
}

func TestBracketClientFailureDeniesAllLegs(t *testing.T) {
	h := newHarness(t)
	h.client.submitErr = assert.AnError
	factory := order.NewFactory(testStrategyID, h.clk)
	bracket, err := factory.Bracket(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(49000), decimal.NewFromInt(52000),
		domain.TimeInForceGTC)
	require.NoError(t, err)

	h.engine.Execute(NewSubmitBracketOrder(bracket, h.clk.TimestampNs()))
	h.bus.Flush()

	assert.Equal(t, order.StatusDenied, bracket.Entry.Status())
	assert.Equal(t, order.StatusDenied, bracket.StopLoss.Status())
	assert.Equal(t, order.StatusDenied, bracket.TakeProfit.Status())
	assert.Len(t, h.orderEvents, 3)
}

func TestCancelAndModifyRouteToClient(t *testing.T) {
	h := newHarness(t)
	ord := h.newOrder(t)
	h.engine.Execute(NewSubmitOrder(ord, h.clk.TimestampNs()))

	h.engine.Execute(NewCancelOrder(testStrategyID, testInstrumentID, ord.ClientOrderID(), h.clk.TimestampNs()))
	newQty := decimal.NewFromInt(2)
	h.engine.Execute(NewModifyOrder(testStrategyID, testInstrumentID, ord.ClientOrderID(),
		&newQty, nil, nil, h.clk.TimestampNs()))
	h.engine.Execute(NewCancelAllOrders(testStrategyID, testInstrumentID, h.clk.TimestampNs()))

	assert.Len(t, h.client.cancels, 1)
	assert.Len(t, h.client.modifies, 1)
	assert.Len(t, h.client.cancelAlls, 1)
}
