package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/execution"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
)

// Command issuance is fire-and-forget: each method builds a command, logs
// it and queues it for the execution engine's dispatch turn. Acknowledgement
// arrives later as order events; an error here means the command never left
// the strategy.

// SubmitOrder sends one initialized order to its venue
func (s *Strategy) SubmitOrder(ord *order.Order) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	s.log.Info().
		Str("client_order_id", string(ord.ClientOrderID())).
		Str("instrument_id", string(ord.InstrumentID())).
		Str("side", ord.Side().String()).
		Str("quantity", ord.Quantity().String()).
		Msg("submitting order")
	return s.send(execution.NewSubmitOrder(ord, s.clk.TimestampNs()))
}

// SubmitBracketOrder sends a bracket to its venue and registers the
// stop-loss and take-profit legs as this strategy's protections.
func (s *Strategy) SubmitBracketOrder(bracket order.Bracket) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	s.RegisterStopLoss(bracket.StopLoss.ClientOrderID())
	s.RegisterTakeProfit(bracket.TakeProfit.ClientOrderID())
	s.log.Info().
		Str("entry_order_id", string(bracket.Entry.ClientOrderID())).
		Str("stop_loss_id", string(bracket.StopLoss.ClientOrderID())).
		Str("take_profit_id", string(bracket.TakeProfit.ClientOrderID())).
		Msg("submitting bracket")
	return s.send(execution.NewSubmitBracketOrder(bracket, s.clk.TimestampNs()))
}

// ModifyOrder requests new parameters for one of this strategy's orders.
// Nil fields keep their current values.
func (s *Strategy) ModifyOrder(id domain.ClientOrderID, quantity, price, triggerPrice *decimal.Decimal) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	ord, ok := s.exec.Cache().Order(id)
	if !ok {
		return fmt.Errorf("%w: order %s not found", domain.ErrInvariantViolation, id)
	}
	s.log.Info().Str("client_order_id", string(id)).Msg("modifying order")
	return s.send(execution.NewModifyOrder(s.id, ord.InstrumentID(), id, quantity, price, triggerPrice, s.clk.TimestampNs()))
}

// CancelOrder requests cancellation of one of this strategy's orders
func (s *Strategy) CancelOrder(id domain.ClientOrderID) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	ord, ok := s.exec.Cache().Order(id)
	if !ok {
		return fmt.Errorf("%w: order %s not found", domain.ErrInvariantViolation, id)
	}
	s.log.Info().Str("client_order_id", string(id)).Msg("canceling order")
	return s.send(execution.NewCancelOrder(s.id, ord.InstrumentID(), id, s.clk.TimestampNs()))
}

// CancelAllOrders requests cancellation of every order this strategy has
// live on one instrument.
func (s *Strategy) CancelAllOrders(instrumentID domain.InstrumentID) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	s.log.Info().Str("instrument_id", string(instrumentID)).Msg("canceling all orders")
	return s.send(execution.NewCancelAllOrders(s.id, instrumentID, s.clk.TimestampNs()))
}

// FlattenPosition submits a reduce-only market order closing the position.
// A position already being flattened is skipped with a warning; the guard
// releases when the PositionClosed event arrives.
func (s *Strategy) FlattenPosition(positionID domain.PositionID) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	if s.IsFlattening(positionID) {
		s.log.Warn().Str("position_id", string(positionID)).
			Msg("flatten already in flight, skipping")
		return nil
	}

	pos, ok := s.exec.Cache().Position(positionID)
	if !ok {
		return fmt.Errorf("%w: position %s not found", domain.ErrInvariantViolation, positionID)
	}
	if pos.IsClosed() {
		s.log.Warn().Str("position_id", string(positionID)).Msg("position already closed")
		return nil
	}

	side := domain.OrderSideSell
	if pos.IsShort() {
		side = domain.OrderSideBuy
	}
	ord, err := s.factory.MarketToClose(pos.InstrumentID(), side, pos.Quantity())
	if err != nil {
		return fmt.Errorf("building flatten order for %s: %w", positionID, err)
	}

	s.flattening[positionID] = struct{}{}
	s.log.Info().
		Str("position_id", string(positionID)).
		Str("client_order_id", string(ord.ClientOrderID())).
		Str("side", side.String()).
		Str("quantity", pos.Quantity().String()).
		Msg("flattening position")

	if err := s.send(execution.NewSubmitOrder(ord, s.clk.TimestampNs())); err != nil {
		delete(s.flattening, positionID)
		return err
	}
	return nil
}

// FlattenAllPositions flattens every open position this strategy holds
func (s *Strategy) FlattenAllPositions() error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	var firstErr error
	for _, pos := range s.exec.Cache().OpenPositionsForStrategy(s.id) {
		if err := s.FlattenPosition(pos.ID()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Strategy) send(cmd any) error {
	if err := s.bus.Send(messaging.EndpointExecExecute, cmd); err != nil {
		s.log.Error().Err(err).Str("command", fmt.Sprintf("%T", cmd)).Msg("command send failed")
		return err
	}
	return nil
}
