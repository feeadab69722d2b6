package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/domain"
)

const (
	testStrategyID    = domain.StrategyID("EMACross-001")
	testInstrumentID  = domain.InstrumentID("BTCUSDT.SIM")
	testClientOrderID = domain.ClientOrderID("O-20260821-093000-EMACross-001-1")
	testAccountID     = domain.AccountID("SIM-001")
	testVenueOrderID  = domain.VenueOrderID("V-001")
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func testBase() Base {
	return NewBase(testStrategyID, testInstrumentID, testClientOrderID, 2, 2)
}

func newMarketOrder(t *testing.T, qty string) *Order {
	t.Helper()
	init := Initialized{
		Base:        NewBase(testStrategyID, testInstrumentID, testClientOrderID, 1, 1),
		Side:        domain.OrderSideBuy,
		OrderType:   domain.OrderTypeMarket,
		Quantity:    dec(t, qty),
		TimeInForce: domain.TimeInForceGTC,
	}
	o, err := New(init)
	require.NoError(t, err)
	return o
}

func submittedEvent() Submitted {
	return Submitted{Base: testBase(), AccountID: testAccountID}
}

func acceptedEvent(venueID domain.VenueOrderID) Accepted {
	return Accepted{Base: testBase(), AccountID: testAccountID, VenueOrderID: venueID}
}

func filledEvent(t *testing.T, tradeID, qty, px string) Filled {
	t.Helper()
	return Filled{
		Base:          testBase(),
		AccountID:     testAccountID,
		VenueOrderID:  testVenueOrderID,
		TradeID:       domain.TradeID(tradeID),
		Side:          domain.OrderSideBuy,
		LastQty:       dec(t, qty),
		LastPx:        dec(t, px),
		Currency:      domain.USDT,
		Commission:    domain.MoneyFromFloat(2.5, domain.USDT),
		LiquiditySide: domain.LiquiditySideTaker,
	}
}

func TestOrderLifecycleToFilled(t *testing.T) {
	o := newMarketOrder(t, "1")

	require.NoError(t, o.Apply(submittedEvent()))
	assert.Equal(t, StatusSubmitted, o.Status())

	require.NoError(t, o.Apply(acceptedEvent(testVenueOrderID)))
	assert.Equal(t, StatusAccepted, o.Status())
	venueID, ok := o.VenueOrderID()
	require.True(t, ok)
	assert.Equal(t, testVenueOrderID, venueID)

	require.NoError(t, o.Apply(filledEvent(t, "T-1", "1", "50000")))
	assert.Equal(t, StatusFilled, o.Status())
	assert.True(t, o.IsTerminal())
	assert.True(t, o.FilledQty().Equal(dec(t, "1")))
	assert.True(t, o.LeavesQty().IsZero())

	avgPx, ok := o.AvgPx()
	require.True(t, ok)
	assert.True(t, avgPx.Equal(dec(t, "50000")))
	assert.Equal(t, 4, o.EventCount())
}

func TestOrderPartialFillsAccumulate(t *testing.T) {
	o := newMarketOrder(t, "100")
	require.NoError(t, o.Apply(submittedEvent()))
	require.NoError(t, o.Apply(acceptedEvent(testVenueOrderID)))

	require.NoError(t, o.Apply(filledEvent(t, "T-1", "40", "50000")))
	assert.Equal(t, StatusPartiallyFilled, o.Status())
	assert.False(t, o.IsTerminal())
	assert.True(t, o.LeavesQty().Equal(dec(t, "60")))

	require.NoError(t, o.Apply(filledEvent(t, "T-2", "60", "51000")))
	assert.Equal(t, StatusFilled, o.Status())

	avgPx, ok := o.AvgPx()
	require.True(t, ok)
	assert.True(t, avgPx.Equal(dec(t, "50600")), "got %s", avgPx)

	commissions := o.Commissions()
	require.Len(t, commissions, 1)
	assert.True(t, commissions[0].Equal(domain.MoneyFromFloat(5, domain.USDT)))
}

func TestOrderIllegalEventTwiceLeavesOrderUnchanged(t *testing.T) {
	o := newMarketOrder(t, "1")

	// Accepted is illegal from INITIALIZED: the order must be submitted first.
	err := o.Apply(acceptedEvent(testVenueOrderID))
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, StatusInitialized, o.Status())
	assert.Equal(t, 1, o.EventCount())
	_, hasVenueID := o.VenueOrderID()
	assert.False(t, hasVenueID)

	// The same illegal event fails identically the second time.
	err2 := o.Apply(acceptedEvent(testVenueOrderID))
	require.ErrorIs(t, err2, domain.ErrInvalidStateTransition)
	assert.Equal(t, err.Error(), err2.Error())
	assert.Equal(t, StatusInitialized, o.Status())
	assert.Equal(t, 1, o.EventCount())
}

func TestOrderTerminalRejectsFurtherEvents(t *testing.T) {
	o := newMarketOrder(t, "1")
	require.NoError(t, o.Apply(submittedEvent()))
	require.NoError(t, o.Apply(acceptedEvent(testVenueOrderID)))
	require.NoError(t, o.Apply(Canceled{Base: testBase(), AccountID: testAccountID, VenueOrderID: testVenueOrderID}))
	require.True(t, o.IsTerminal())

	err := o.Apply(filledEvent(t, "T-1", "1", "50000"))
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, StatusCanceled, o.Status())
	assert.True(t, o.FilledQty().IsZero())
}

func TestOrderDeniedBeforeSubmitIsTerminal(t *testing.T) {
	o := newMarketOrder(t, "1")
	require.NoError(t, o.Apply(Denied{Base: testBase(), Reason: "insufficient balance"}))

	assert.Equal(t, StatusDenied, o.Status())
	assert.True(t, o.IsTerminal())
	assert.ErrorIs(t, o.Apply(submittedEvent()), domain.ErrInvalidStateTransition)
}

func TestOrderVenueOrderIdAssignedExactlyOnce(t *testing.T) {
	o := newMarketOrder(t, "1")
	require.NoError(t, o.Apply(submittedEvent()))
	require.NoError(t, o.Apply(acceptedEvent("V-001")))

	// A differing venue id is a protocol violation and must not mutate.
	err := o.Apply(Canceled{Base: testBase(), AccountID: testAccountID, VenueOrderID: "V-002"})
	require.ErrorIs(t, err, domain.ErrProtocolViolation)
	assert.Equal(t, StatusAccepted, o.Status())

	// The same venue id passes.
	require.NoError(t, o.Apply(Canceled{Base: testBase(), AccountID: testAccountID, VenueOrderID: "V-001"}))
	assert.Equal(t, StatusCanceled, o.Status())
}

func TestOrderModifyRejectedRestoresRestingStatus(t *testing.T) {
	o := newMarketOrder(t, "1")
	require.NoError(t, o.Apply(submittedEvent()))
	require.NoError(t, o.Apply(acceptedEvent(testVenueOrderID)))
	require.NoError(t, o.Apply(PendingUpdate{Base: testBase(), AccountID: testAccountID, VenueOrderID: testVenueOrderID}))
	require.Equal(t, StatusPendingUpdate, o.Status())

	require.NoError(t, o.Apply(ModifyRejected{Base: testBase(), AccountID: testAccountID, VenueOrderID: testVenueOrderID, Reason: "price out of bounds"}))

	assert.Equal(t, StatusAccepted, o.Status(), "order must rest on the pre-pending status")
	assert.Contains(t, o.StatusHistory(), StatusUpdateRejected, "the transient status appears in history")
}

func TestOrderCancelRejectedRestoresRestingStatus(t *testing.T) {
	o := newMarketOrder(t, "100")
	require.NoError(t, o.Apply(submittedEvent()))
	require.NoError(t, o.Apply(acceptedEvent(testVenueOrderID)))
	require.NoError(t, o.Apply(filledEvent(t, "T-1", "40", "50000")))
	require.NoError(t, o.Apply(PendingCancel{Base: testBase(), AccountID: testAccountID, VenueOrderID: testVenueOrderID}))

	require.NoError(t, o.Apply(CancelRejected{Base: testBase(), AccountID: testAccountID, VenueOrderID: testVenueOrderID, Reason: "already filling"}))

	assert.Equal(t, StatusPartiallyFilled, o.Status())
	assert.Contains(t, o.StatusHistory(), StatusCancelRejected)
}

func TestOrderUpdatedAppliesAmendment(t *testing.T) {
	o := newMarketOrder(t, "100")
	require.NoError(t, o.Apply(submittedEvent()))
	require.NoError(t, o.Apply(acceptedEvent(testVenueOrderID)))
	require.NoError(t, o.Apply(PendingUpdate{Base: testBase(), AccountID: testAccountID, VenueOrderID: testVenueOrderID}))

	newPrice := dec(t, "49500")
	require.NoError(t, o.Apply(Updated{
		Base:         testBase(),
		AccountID:    testAccountID,
		VenueOrderID: testVenueOrderID,
		Quantity:     dec(t, "150"),
		Price:        &newPrice,
	}))

	assert.Equal(t, StatusAccepted, o.Status())
	assert.True(t, o.Quantity().Equal(dec(t, "150")))
	price, ok := o.Price()
	require.True(t, ok)
	assert.True(t, price.Equal(newPrice))
}

func TestOrderRejectsEventForDifferentOrder(t *testing.T) {
	o := newMarketOrder(t, "1")
	foreign := Submitted{
		Base:      NewBase(testStrategyID, testInstrumentID, "O-other", 2, 2),
		AccountID: testAccountID,
	}

	err := o.Apply(foreign)
	assert.ErrorIs(t, err, domain.ErrStateMismatch)
	assert.Equal(t, StatusInitialized, o.Status())
}

func TestOrderRejectsReinitialization(t *testing.T) {
	o := newMarketOrder(t, "1")
	err := o.Apply(o.InitEvent())
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestOrderRejectsNonPositiveFillQuantity(t *testing.T) {
	o := newMarketOrder(t, "1")
	require.NoError(t, o.Apply(submittedEvent()))

	bad := filledEvent(t, "T-1", "0", "50000")
	err := o.Apply(bad)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Equal(t, StatusSubmitted, o.Status())
}

func TestOrderOverFillResolvesToFilled(t *testing.T) {
	o := newMarketOrder(t, "10")
	require.NoError(t, o.Apply(submittedEvent()))
	require.NoError(t, o.Apply(acceptedEvent(testVenueOrderID)))

	// Venue reports slightly more than was ordered; the order completes.
	require.NoError(t, o.Apply(filledEvent(t, "T-1", "10.5", "50000")))
	assert.Equal(t, StatusFilled, o.Status())
	assert.True(t, o.LeavesQty().IsZero())
}

func TestOrderFromEventsReplaysLog(t *testing.T) {
	o := newMarketOrder(t, "100")
	require.NoError(t, o.Apply(submittedEvent()))
	require.NoError(t, o.Apply(acceptedEvent(testVenueOrderID)))
	require.NoError(t, o.Apply(filledEvent(t, "T-1", "40", "50000")))

	replayed, err := FromEvents(o.Events())
	require.NoError(t, err)

	assert.Equal(t, o.Status(), replayed.Status())
	assert.True(t, o.FilledQty().Equal(replayed.FilledQty()))
	assert.Equal(t, o.EventCount(), replayed.EventCount())
	venueID, _ := o.VenueOrderID()
	replayedVenueID, _ := replayed.VenueOrderID()
	assert.Equal(t, venueID, replayedVenueID)
}

func TestOrderFilledEventRecordRoundTrip(t *testing.T) {
	fill := filledEvent(t, "T-9", "0.25", "63250.5")
	fill.PositionID = "P-20260821-093000-EMACross-001-1"

	decoded, err := EventFromRecord(fill.Record())
	require.NoError(t, err)
	got, ok := decoded.(Filled)
	require.True(t, ok)

	assert.Equal(t, fill.ID(), got.ID())
	assert.Equal(t, fill.ClientOrderID, got.ClientOrderID)
	assert.Equal(t, fill.TradeID, got.TradeID)
	assert.Equal(t, fill.PositionID, got.PositionID)
	assert.True(t, fill.LastQty.Equal(got.LastQty))
	assert.True(t, fill.LastPx.Equal(got.LastPx))
	assert.True(t, fill.Commission.Equal(got.Commission))
	assert.Equal(t, fill.LiquiditySide, got.LiquiditySide)
}

func TestOrderInitializedRecordEncodesNullsExplicitly(t *testing.T) {
	o := newMarketOrder(t, "1")
	rec := o.InitEvent().Record()

	price, present := rec["price"]
	assert.True(t, present, "nullable fields are encoded, not omitted")
	assert.Nil(t, price)

	decoded, err := EventFromRecord(rec)
	require.NoError(t, err)
	init, ok := decoded.(Initialized)
	require.True(t, ok)
	assert.Nil(t, init.Price)
	assert.Equal(t, domain.OrderTypeMarket, init.OrderType)
}
