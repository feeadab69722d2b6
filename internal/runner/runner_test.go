package runner

import (
	"context"
	"path/filepath"
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
	"github.com/meridianhq/meridian/internal/strategy"
)

type idleTrader struct{}

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

func fillOrder(t *testing.T, ord *order.Order, ts int64) order.Filled {
	t.Helper()
	base := order.NewBase(ord.StrategyID(), ord.InstrumentID(), ord.ClientOrderID(), ts, ts)
	require.NoError(t, ord.Apply(order.Submitted{Base: base, AccountID: "SIM-001"}))
	require.NoError(t, ord.Apply(order.Accepted{Base: base, AccountID: "SIM-001", VenueOrderID: "V-1"}))
	fill := order.Filled{
		Base:          base,
		AccountID:     "SIM-001",
		VenueOrderID:  "V-1",
		TradeID:       "T-1",
		PositionID:    "P-1",
		Side:          ord.Side(),
		LastQty:       decimal.NewFromInt(1),
		LastPx:        decimal.NewFromInt(50000),
		Currency:      domain.USDT,
		Commission:    domain.ZeroMoney(domain.USDT),
		LiquiditySide: domain.LiquiditySideTaker,
	}
	require.NoError(t, ord.Apply(fill))
	return fill
}

type harness struct {
	runner *Runner
	bus    *messaging.Bus
	cache  *store.Cache
	store  *store.SQLiteStore
	clk    *clock.TestClock
	strat  *strategy.Strategy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}

	var err error
	h.store, err = store.NewSQLiteStore(store.SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "meridian.db"),
		Profile: store.ProfileStandard,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.store.Close() })

	h.bus = messaging.NewBus(256, zerolog.Nop())
	h.bus.Start()
	t.Cleanup(h.bus.Stop)

	h.clk = clock.NewTestClock(time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC).UnixNano())
	h.cache = store.NewCache(zerolog.Nop())

	h.strat, err = strategy.New(strategy.Config{Name: "EMACross", Tag: "001"},
		&idleTrader{}, h.clk, zerolog.Nop())
	require.NoError(t, err)

	h.runner = New(Config{}, h.bus, h.store, h.cache, nil, zerolog.Nop())
	h.runner.RegisterStrategy(h.strat)
	require.NoError(t, h.runner.Start())
	t.Cleanup(h.runner.Stop)
	return h
}

func (h *harness) snapshot(t *testing.T) {
	t.Helper()
	require.NoError(t, h.runner.Snapshot())
	h.bus.Flush()
}

func TestSnapshotPersistsCachedOrdersAndState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ord, err := h.strat.OrderFactory().Market("BTCUSDT.SIM", domain.OrderSideBuy,
		decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)
	require.NoError(t, h.cache.AddOrder(ord))

	h.snapshot(t)

	records, err := h.store.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(ord.ClientOrderID()), records[0]["client_order_id"])

	state, ok, err := h.store.LoadStrategyState(ctx, h.strat.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, state, "OrderIdCount")
}

func TestSnapshotIsIdempotentOnEventLogs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ord, err := h.strat.OrderFactory().Market("BTCUSDT.SIM", domain.OrderSideBuy,
		decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)
	require.NoError(t, h.cache.AddOrder(ord))

	h.snapshot(t)
	h.snapshot(t)

	events, err := h.store.LoadOrderEvents(ctx, ord.ClientOrderID())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSnapshotPersistsNewAccountEventsOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	total := domain.NewMoney(decimal.NewFromInt(100000), domain.USDT)
	balance, err := domain.NewAccountBalance(total, domain.ZeroMoney(domain.USDT), total)
	require.NoError(t, err)

	ts := h.clk.TimestampNs()
	va, err := account.NewCashAccount(account.NewState("SIM-001", domain.AccountTypeCash,
		domain.USDT, []domain.AccountBalance{balance}, true, ts, ts))
	require.NoError(t, err)
	require.NoError(t, h.cache.AddAccount(va))

	h.snapshot(t)
	h.snapshot(t)

	events, err := h.store.LoadAccountEvents(ctx, "SIM-001")
	require.NoError(t, err)
	assert.Len(t, events, 1, "unchanged account appends nothing on resnapshot")

	next := account.NewState("SIM-001", domain.AccountTypeCash, domain.USDT,
		[]domain.AccountBalance{balance}, true, ts+1, ts+1)
	require.NoError(t, va.Base().Apply(next))
	h.snapshot(t)

	events, err = h.store.LoadAccountEvents(ctx, "SIM-001")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSnapshotPersistsInstrumentsAndPositions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	instrument := testInstrument("BTCUSDT.SIM")
	h.cache.AddInstrument(instrument)

	ord, err := h.strat.OrderFactory().Market("BTCUSDT.SIM", domain.OrderSideBuy,
		decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)
	require.NoError(t, h.cache.AddOrder(ord))
	fill := fillOrder(t, ord, h.clk.TimestampNs())

	pos, err := position.New(instrument, fill)
	require.NoError(t, err)
	require.NoError(t, h.cache.AddPosition(pos))

	h.snapshot(t)

	instruments, err := h.store.LoadInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, instruments, 1)

	positions, err := h.store.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
}

func TestSnapshotAfterStopPersistsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ord, err := h.strat.OrderFactory().Market("BTCUSDT.SIM", domain.OrderSideBuy,
		decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)
	require.NoError(t, h.cache.AddOrder(ord))

	h.runner.Stop()
	h.snapshot(t)

	records, err := h.store.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	// restart so the cleanup Stop has something to stop
	require.NoError(t, h.runner.Start())
}
