package paper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/execution"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
)

const (
	testStrategyID   = domain.StrategyID("EMACross-001")
	testInstrumentID = domain.InstrumentID("BTCUSDT.PAPER")
)

type harness struct {
	client  *Client
	bus     *messaging.Bus
	clk     *clock.TestClock
	factory *order.Factory

	reports []any
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}

	h.bus = messaging.NewBus(256, zerolog.Nop())
	h.bus.Start()
	t.Cleanup(h.bus.Stop)

	h.bus.Register(messaging.EndpointExecProcess, func(payload any) {
		h.reports = append(h.reports, payload)
	})

	startNs := time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC).UnixNano()
	h.clk = clock.NewTestClock(startNs)
	h.factory = order.NewFactory(testStrategyID, h.clk)

	h.client = New(Config{
		Venue:           domain.Venue("PAPER"),
		AccountID:       domain.AccountID("PAPER-001"),
		Currency:        domain.USDT,
		StartingBalance: decimal.NewFromInt(100000),
	}, h.bus, h.clk, zerolog.Nop())
	return h
}

func (h *harness) eventTypes(t *testing.T) []string {
	t.Helper()
	h.bus.Flush()
	types := make([]string, 0, len(h.reports))
	for _, report := range h.reports {
		switch ev := report.(type) {
		case order.Event:
			types = append(types, ev.EventType())
		case account.State:
			types = append(types, ev.EventType())
		default:
			t.Fatalf("unexpected report %T", report)
		}
	}
	return types
}

func TestConnectReportsStartingAccountState(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.client.Connect(context.Background()))
	require.Equal(t, []string{"AccountState"}, h.eventTypes(t))

	state, ok := h.reports[0].(account.State)
	require.True(t, ok)
	assert.Equal(t, domain.AccountID("PAPER-001"), state.AccountID)
	require.Len(t, state.Balances, 1)
	assert.Equal(t, "100000.00000000 USDT", state.Balances[0].Total.String())
	assert.True(t, h.client.IsConnected())
}

func TestMarketOrderFillsAtMarkedPrice(t *testing.T) {
	h := newHarness(t)
	h.client.MarkPrice(testInstrumentID, decimal.NewFromInt(50000))

	ord, err := h.factory.Market(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(2), domain.TimeInForceGTC)
	require.NoError(t, err)

	require.NoError(t, h.client.SubmitOrder(execution.NewSubmitOrder(ord, h.clk.TimestampNs())))
	require.Equal(t, []string{"OrderSubmitted", "OrderAccepted", "OrderFilled"}, h.eventTypes(t))

	fill, ok := h.reports[2].(order.Filled)
	require.True(t, ok)
	assert.Equal(t, "50000", fill.LastPx.String())
	assert.Equal(t, "2", fill.LastQty.String())
	assert.Equal(t, domain.VenueOrderID("PAPER-V-1"), fill.VenueOrderID)
	assert.Equal(t, domain.TradeID("PAPER-T-1"), fill.TradeID)
}

func TestMarketOrderWithoutMarkedPriceRejected(t *testing.T) {
	h := newHarness(t)

	ord, err := h.factory.Market(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(1), domain.TimeInForceGTC)
	require.NoError(t, err)

	require.NoError(t, h.client.SubmitOrder(execution.NewSubmitOrder(ord, h.clk.TimestampNs())))

	require.Equal(t, []string{"OrderSubmitted", "OrderRejected"}, h.eventTypes(t))
	rejected := h.reports[1].(order.Rejected)
	assert.Contains(t, rejected.Reason, "no market price")
}

func TestLimitOrderRestsAccepted(t *testing.T) {
	h := newHarness(t)

	ord, err := h.factory.Limit(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(49000), domain.TimeInForceGTC, false)
	require.NoError(t, err)

	require.NoError(t, h.client.SubmitOrder(execution.NewSubmitOrder(ord, h.clk.TimestampNs())))

	assert.Equal(t, []string{"OrderSubmitted", "OrderAccepted"}, h.eventTypes(t))
}

func TestCancelRestingOrder(t *testing.T) {
	h := newHarness(t)
	ord, err := h.factory.Limit(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(49000), domain.TimeInForceGTC, false)
	require.NoError(t, err)
	require.NoError(t, h.client.SubmitOrder(execution.NewSubmitOrder(ord, h.clk.TimestampNs())))

	require.NoError(t, h.client.CancelOrder(execution.NewCancelOrder(
		testStrategyID, testInstrumentID, ord.ClientOrderID(), h.clk.TimestampNs())))

	assert.Equal(t, []string{"OrderSubmitted", "OrderAccepted",
		"OrderPendingCancel", "OrderCanceled"}, h.eventTypes(t))

	// The order left the book: a second cancel has nothing to act on.
	assert.Error(t, h.client.CancelOrder(execution.NewCancelOrder(
		testStrategyID, testInstrumentID, ord.ClientOrderID(), h.clk.TimestampNs())))
}

func TestModifyRestingOrder(t *testing.T) {
	h := newHarness(t)
	ord, err := h.factory.Limit(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(49000), domain.TimeInForceGTC, false)
	require.NoError(t, err)
	require.NoError(t, h.client.SubmitOrder(execution.NewSubmitOrder(ord, h.clk.TimestampNs())))

	newPrice := decimal.NewFromInt(48500)
	require.NoError(t, h.client.ModifyOrder(execution.NewModifyOrder(
		testStrategyID, testInstrumentID, ord.ClientOrderID(),
		nil, &newPrice, nil, h.clk.TimestampNs())))

	require.Equal(t, []string{"OrderSubmitted", "OrderAccepted",
		"OrderPendingUpdate", "OrderUpdated"}, h.eventTypes(t))
	updated := h.reports[3].(order.Updated)
	require.NotNil(t, updated.Price)
	assert.Equal(t, "48500", updated.Price.String())
}

func TestCancelAllOnlyTouchesMatchingOrders(t *testing.T) {
	h := newHarness(t)
	otherInstrument := domain.InstrumentID("ETHUSDT.PAPER")

	btc, err := h.factory.Limit(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(49000), domain.TimeInForceGTC, false)
	require.NoError(t, err)
	eth, err := h.factory.Limit(otherInstrument, domain.OrderSideBuy,
		decimal.NewFromInt(10), decimal.NewFromInt(3000), domain.TimeInForceGTC, false)
	require.NoError(t, err)
	require.NoError(t, h.client.SubmitOrder(execution.NewSubmitOrder(btc, h.clk.TimestampNs())))
	require.NoError(t, h.client.SubmitOrder(execution.NewSubmitOrder(eth, h.clk.TimestampNs())))

	require.NoError(t, h.client.CancelAllOrders(execution.NewCancelAllOrders(
		testStrategyID, testInstrumentID, h.clk.TimestampNs())))
	h.bus.Flush()

	var canceled []domain.ClientOrderID
	for _, report := range h.reports {
		if ev, ok := report.(order.Canceled); ok {
			canceled = append(canceled, ev.ClientOrderID)
		}
	}
	assert.Equal(t, []domain.ClientOrderID{btc.ClientOrderID()}, canceled)

	// The ETH order still rests and can be canceled individually.
	assert.NoError(t, h.client.CancelOrder(execution.NewCancelOrder(
		testStrategyID, otherInstrument, eth.ClientOrderID(), h.clk.TimestampNs())))
}

func TestResetDropsSession(t *testing.T) {
	h := newHarness(t)
	h.client.MarkPrice(testInstrumentID, decimal.NewFromInt(50000))
	ord, err := h.factory.Limit(testInstrumentID, domain.OrderSideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(49000), domain.TimeInForceGTC, false)
	require.NoError(t, err)
	require.NoError(t, h.client.SubmitOrder(execution.NewSubmitOrder(ord, h.clk.TimestampNs())))

	require.NoError(t, h.client.Reset())

	assert.Error(t, h.client.CancelOrder(execution.NewCancelOrder(
		testStrategyID, testInstrumentID, ord.ClientOrderID(), h.clk.TimestampNs())))
}
