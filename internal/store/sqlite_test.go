package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "meridian.db"),
		Profile: ProfileStandard,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveOrderRoundTripsEventLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	factory := order.NewFactory(testStrategyID, testClock())
	ord := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	acceptOrder(t, ord, "V-1")
	fillOrder(t, ord, "T-1", 1, 50000)

	require.NoError(t, s.SaveOrder(ctx, ord))

	events, err := s.LoadOrderEvents(ctx, ord.ClientOrderID())
	require.NoError(t, err)
	require.Len(t, events, 4)

	rebuilt, err := order.FromEvents(events)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, rebuilt.Status())
	assert.Equal(t, ord.ClientOrderID(), rebuilt.ClientOrderID())
	assert.True(t, rebuilt.FilledQty().Equal(decimal.NewFromInt(1)))
}

func TestSaveOrderAppendsOnlyNewEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	factory := order.NewFactory(testStrategyID, testClock())
	ord := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)

	require.NoError(t, s.SaveOrder(ctx, ord))
	require.NoError(t, s.SaveOrder(ctx, ord))

	acceptOrder(t, ord, "V-1")
	require.NoError(t, s.SaveOrder(ctx, ord))

	events, err := s.LoadOrderEvents(ctx, ord.ClientOrderID())
	require.NoError(t, err)
	assert.Len(t, events, 3, "repeated saves must not duplicate event rows")
}

func TestListOrdersReturnsSnapshotRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	factory := order.NewFactory(testStrategyID, testClock())
	ord := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	acceptOrder(t, ord, "V-1")
	require.NoError(t, s.SaveOrder(ctx, ord))

	recs, err := s.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, string(ord.ClientOrderID()), recs[0]["client_order_id"])
	assert.Equal(t, "ACCEPTED", recs[0]["status"])
	assert.Equal(t, "V-1", recs[0]["venue_order_id"])
	assert.Nil(t, recs[0]["price"], "market orders have no limit price")
}

func TestSavePositionUpsertsSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	factory := order.NewFactory(testStrategyID, testClock())
	instrument := testInstrument(testInstrumentID)

	buy := marketOrder(t, factory, testInstrumentID, domain.OrderSideBuy)
	acceptOrder(t, buy, "V-1")
	pos, err := position.New(instrument, fillOrder(t, buy, "T-1", 1, 50000))
	require.NoError(t, err)
	require.NoError(t, s.SavePosition(ctx, pos))

	sell := marketOrder(t, factory, testInstrumentID, domain.OrderSideSell)
	acceptOrder(t, sell, "V-2")
	require.NoError(t, pos.Apply(fillOrder(t, sell, "T-2", 1, 51000)))
	require.NoError(t, s.SavePosition(ctx, pos))

	recs, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1, "saving the same position twice must upsert one row")
	assert.Equal(t, string(pos.ID()), recs[0]["position_id"])
	assert.Equal(t, "FLAT", recs[0]["side"])
	assert.Equal(t, "51000", recs[0]["avg_px_close"])
}

func TestAccountEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := accountStateEvent(t, "10000", "0", "10000", 100)
	second := accountStateEvent(t, "9950", "50", "9900", 200)
	require.NoError(t, s.SaveAccountEvent(ctx, first))
	require.NoError(t, s.SaveAccountEvent(ctx, second))

	events, err := s.LoadAccountEvents(ctx, testAccountID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	va, err := account.FromEvents(events)
	require.NoError(t, err)
	total, ok, err := va.Base().BalanceTotal()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "9950.00000000 USDT", total.String())

	recs, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1, "the account snapshot must hold only the latest state")
	assert.Equal(t, string(testAccountID), recs[0]["account_id"])
}

func TestInstrumentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	instrument := testInstrument(testInstrumentID)
	instrument.PriceIncrement = decimal.RequireFromString("0.01")
	instrument.SizeIncrement = decimal.RequireFromString("0.000001")
	require.NoError(t, s.SaveInstrument(ctx, instrument))

	loaded, err := s.LoadInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, instrument.ID, loaded[0].ID)
	assert.Equal(t, "USDT", loaded[0].SettlementCurrency.Code)
	assert.True(t, loaded[0].TakerFee.Equal(instrument.TakerFee))

	// Saving again replaces the definition.
	instrument.TakerFee = decimal.RequireFromString("0.003")
	require.NoError(t, s.SaveInstrument(ctx, instrument))
	loaded, err = s.LoadInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].TakerFee.Equal(decimal.RequireFromString("0.003")))
}

func TestStrategyStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadStrategyState(ctx, testStrategyID)
	require.NoError(t, err)
	assert.False(t, ok, "a strategy that never saved has no state")

	state := map[string]any{
		"OrderIdCount":    int64(17),
		"PositionIdCount": int64(4),
		"LastSignal":      "LONG",
	}
	require.NoError(t, s.SaveStrategyState(ctx, testStrategyID, state))

	loaded, ok, err := s.LoadStrategyState(ctx, testStrategyID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(17), domain.RecordInt(loaded, "OrderIdCount"))
	assert.Equal(t, int64(4), domain.RecordInt(loaded, "PositionIdCount"))
	assert.Equal(t, "LONG", loaded["LastSignal"])
}

func TestHealthCheckAndMaintenance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.HealthCheck(ctx))
	require.NoError(t, s.WALCheckpoint(ctx))
	require.NoError(t, s.Vacuum(ctx))
}

func accountStateEvent(t *testing.T, total, locked, free string, ts int64) account.State {
	t.Helper()
	bal, err := domain.NewAccountBalance(
		domain.NewMoney(decimal.RequireFromString(total), domain.USDT),
		domain.NewMoney(decimal.RequireFromString(locked), domain.USDT),
		domain.NewMoney(decimal.RequireFromString(free), domain.USDT),
	)
	require.NoError(t, err)
	return account.NewState(testAccountID, domain.AccountTypeCash, domain.USDT,
		[]domain.AccountBalance{bal}, true, ts, ts)
}
