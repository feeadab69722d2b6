package strategy

import (
	"fmt"

	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

// HandleQuote consumes one quote tick. Registered indicators always update
// first; the OnQuote callback fires only when the strategy is Running and
// the data is not a replay.
func (s *Strategy) HandleQuote(quote domain.QuoteTick) error {
	for _, ind := range s.quoteIndicators[quote.InstrumentID] {
		ind.UpdatePrice(quote.Mid().InexactFloat64())
	}

	if s.replay || s.state != StateRunning {
		return nil
	}
	h, ok := s.trader.(QuoteHandler)
	if !ok {
		return nil
	}
	return s.runCallback("OnQuote", func() error { return h.OnQuote(quote) })
}

// HandleTrade consumes one trade tick
func (s *Strategy) HandleTrade(trade domain.TradeTick) error {
	for _, ind := range s.tradeIndicators[trade.InstrumentID] {
		ind.UpdatePrice(trade.Price.InexactFloat64())
	}

	if s.replay || s.state != StateRunning {
		return nil
	}
	h, ok := s.trader.(TradeHandler)
	if !ok {
		return nil
	}
	return s.runCallback("OnTrade", func() error { return h.OnTrade(trade) })
}

// HandleBar consumes one completed bar
func (s *Strategy) HandleBar(bar domain.Bar) error {
	for _, ind := range s.barIndicators[bar.Type] {
		ind.UpdateBar(bar)
	}

	if s.replay || s.state != StateRunning {
		return nil
	}
	h, ok := s.trader.(BarHandler)
	if !ok {
		return nil
	}
	return s.runCallback("OnBar", func() error { return h.OnBar(bar) })
}

// HandleBars replays a historical bar series through the registered
// indicators. The series must be ascending by event time and is checked
// up front: a mis-sorted series updates nothing. Replayed bars never reach
// the OnBar callback.
func (s *Strategy) HandleBars(bars []domain.Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].TsEvent < bars[i-1].TsEvent {
			return fmt.Errorf("%w: bars not ascending by ts_event at index %d (%d after %d)",
				domain.ErrInvariantViolation, i, bars[i].TsEvent, bars[i-1].TsEvent)
		}
	}

	for _, bar := range bars {
		for _, ind := range s.barIndicators[bar.Type] {
			ind.UpdateBar(bar)
		}
	}
	s.log.Debug().Int("bars", len(bars)).Msg("historical bars replayed")
	return nil
}

// HandleEvent consumes one order or position event addressed to this
// strategy. Bookkeeping runs before the OnEvent callback: a rejected
// stop-loss or take-profit may trigger flatten-on-reject, a closed position
// releases its flattening guard, and a completed order releases its
// protection registrations.
func (s *Strategy) HandleEvent(event messaging.Event) error {
	switch ev := event.(type) {
	case order.Rejected:
		s.log.Warn().
			Str("client_order_id", string(ev.ClientOrderID)).
			Str("reason", ev.Reason).
			Msg("order rejected")
		if s.cfg.FlattenOnReject && (s.IsStopLoss(ev.ClientOrderID) || s.IsTakeProfit(ev.ClientOrderID)) {
			s.flattenRejected(ev)
		}
	case position.Closed:
		if s.IsFlattening(ev.PositionID()) {
			delete(s.flattening, ev.PositionID())
			s.log.Debug().Str("position_id", string(ev.PositionID())).Msg("flatten completed")
		}
	}

	if oe, ok := event.(order.Event); ok {
		s.releaseCompleted(oe)
	}

	h, ok := s.trader.(EventHandler)
	if !ok {
		return nil
	}
	return s.runCallback("OnEvent", func() error { return h.OnEvent(event) })
}

// HandleTimeEvent consumes one timer event. The handler registered with the
// timer fires only while Running; a stopping strategy's in-flight timer
// events fall through silently.
func (s *Strategy) HandleTimeEvent(event clock.TimeEvent) error {
	fn, ok := s.timerHandlers[event.Name]
	if !ok || s.state != StateRunning {
		return nil
	}
	return s.runCallback("timer "+event.Name, func() error { return fn(event) })
}

// releaseCompleted drops the stop-loss and take-profit registrations of an
// order that can no longer fire: denied, rejected, canceled, expired, or
// fully filled. A partial fill keeps the protection alive.
func (s *Strategy) releaseCompleted(ev order.Event) {
	id := ev.OrderID()
	if !s.IsStopLoss(id) && !s.IsTakeProfit(id) {
		return
	}

	switch ev.(type) {
	case order.Denied, order.Rejected, order.Canceled, order.Expired:
	case order.Filled:
		if s.exec == nil {
			return
		}
		ord, ok := s.exec.Cache().Order(id)
		if !ok || !ord.IsTerminal() {
			return
		}
	default:
		return
	}

	delete(s.stopLossIDs, id)
	delete(s.takeProfitIDs, id)
	s.log.Debug().Str("client_order_id", string(id)).Msg("protection registration released")
}

// flattenRejected flattens the position a rejected protection order was
// guarding: the strategy's open position on the order's instrument.
func (s *Strategy) flattenRejected(ev order.Rejected) {
	if s.exec == nil {
		s.log.Error().Str("client_order_id", string(ev.ClientOrderID)).
			Msg("flatten on reject without execution engine")
		return
	}
	pos, ok := s.exec.Cache().OpenPosition(s.id, ev.InstrumentID)
	if !ok {
		s.log.Warn().Str("instrument_id", string(ev.InstrumentID)).
			Msg("rejected protection has no open position to flatten")
		return
	}
	s.log.Warn().
		Str("client_order_id", string(ev.ClientOrderID)).
		Str("position_id", string(pos.ID())).
		Msg("protection rejected, flattening position")
	if err := s.FlattenPosition(pos.ID()); err != nil {
		s.log.Error().Err(err).Str("position_id", string(pos.ID())).
			Msg("flatten on reject failed")
	}
}

// runCallback invokes one user callback under the exception policy:
// failures and panics are always logged, and surfaced to the caller only
// when ReraiseExceptions is configured.
func (s *Strategy) runCallback(name string, fn func() error) error {
	err := invoke(name, fn)
	if err == nil {
		return nil
	}
	s.log.Error().Err(err).Str("callback", name).Msg("user callback failed")
	if s.cfg.ReraiseExceptions {
		return err
	}
	return nil
}

// runHook invokes one lifecycle hook. Hook failures never re-raise: the
// lifecycle FSM recovers locally, so the error is returned for the
// transition logic to act on and goes no further.
func (s *Strategy) runHook(name string, fn func() error) error {
	return invoke(name, fn)
}

func (s *Strategy) hookOnStart() error {
	if h, ok := s.trader.(StartHandler); ok {
		return h.OnStart()
	}
	return nil
}

func (s *Strategy) hookOnStop() error {
	if h, ok := s.trader.(StopHandler); ok {
		return h.OnStop()
	}
	return nil
}

func (s *Strategy) hookOnResume() error {
	if h, ok := s.trader.(ResumeHandler); ok {
		return h.OnResume()
	}
	return nil
}

func (s *Strategy) hookOnReset() error {
	if h, ok := s.trader.(ResetHandler); ok {
		return h.OnReset()
	}
	return nil
}

func (s *Strategy) hookOnDispose() error {
	if h, ok := s.trader.(DisposeHandler); ok {
		return h.OnDispose()
	}
	return nil
}

// invoke runs fn, converting a panic into an error so user code can never
// unwind through the dispatch goroutine.
func invoke(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback %s panicked: %v", name, r)
		}
	}()
	return fn()
}
