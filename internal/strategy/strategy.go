// Package strategy implements the trading strategy runtime: a lifecycle
// state machine that multiplexes market data to registered indicators and
// user callbacks, issues trading commands, and keeps the session bookkeeping
// (stop-loss/take-profit registrations, in-flight flattens) that the user
// logic should not have to carry itself.
package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/data"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/execution"
	"github.com/meridianhq/meridian/internal/indicators"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

// Trader is user-supplied decision logic driven by a Strategy runtime.
// Every hook is optional: implementations declare the ones they use through
// the capability interfaces below and the runtime discovers them by type
// assertion. A hook that is not implemented simply never fires.
type Trader any

// Lifecycle hooks. OnStart failing aborts the start and degrades to a stop;
// failures of the other lifecycle hooks are logged and the lifecycle
// completes anyway.
type (
	StartHandler interface{ OnStart() error }
	StopHandler  interface{ OnStop() error }

	ResumeHandler  interface{ OnResume() error }
	ResetHandler   interface{ OnReset() error }
	DisposeHandler interface{ OnDispose() error }
)

// Market data and event hooks. Errors follow the callback policy: always
// logged, returned to the caller only when ReraiseExceptions is set.
type (
	QuoteHandler interface {
		OnQuote(quote domain.QuoteTick) error
	}
	TradeHandler interface {
		OnTrade(trade domain.TradeTick) error
	}
	BarHandler interface {
		OnBar(bar domain.Bar) error
	}
	EventHandler interface {
		OnEvent(event messaging.Event) error
	}
)

// State hooks for persistence across restarts
type (
	StateSaver interface {
		OnSave() map[string]any
	}
	StateLoader interface {
		OnLoad(state map[string]any)
	}
)

// Config carries the strategy's identity and runtime policies
type Config struct {
	// Name is the strategy kind, Tag distinguishes instances of the same
	// kind; together they form the StrategyID, e.g. "EMACross-001".
	Name string
	Tag  string

	// FlattenOnStop submits closing orders for every open position on stop
	FlattenOnStop bool
	// CancelOrdersOnStop cancels every live order on stop
	CancelOrdersOnStop bool
	// FlattenOnReject flattens the protected position when a registered
	// stop-loss or take-profit order is rejected by the venue.
	FlattenOnReject bool
	// ReraiseExceptions returns user callback failures to the caller
	// instead of swallowing them after logging.
	ReraiseExceptions bool
}

// Strategy is the runtime for one trader. All state is strategy-private and
// owned by the bus dispatch goroutine once traffic flows; lifecycle methods
// belong to the owning process and are called around traffic, not during it.
type Strategy struct {
	id     domain.StrategyID
	cfg    Config
	log    zerolog.Logger
	trader Trader

	state State

	clk     clock.Clock
	factory *order.Factory

	bus    *messaging.Bus
	data   *data.Engine
	exec   *execution.Engine
	posGen *position.Generator

	quoteIndicators map[domain.InstrumentID][]indicators.PriceIndicator
	tradeIndicators map[domain.InstrumentID][]indicators.PriceIndicator
	barIndicators   map[domain.BarType][]indicators.BarIndicator

	stopLossIDs   map[domain.ClientOrderID]struct{}
	takeProfitIDs map[domain.ClientOrderID]struct{}
	flattening    map[domain.PositionID]struct{}

	timerHandlers map[string]func(clock.TimeEvent) error
	unsubs        []func()

	replay bool
}

// New creates a strategy runtime for the given trader. The strategy must be
// registered with its engines before it can start.
func New(cfg Config, trader Trader, clk clock.Clock, log zerolog.Logger) (*Strategy, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: strategy name must not be empty", domain.ErrInvariantViolation)
	}
	if trader == nil {
		return nil, fmt.Errorf("%w: strategy trader must not be nil", domain.ErrInvariantViolation)
	}
	if clk == nil {
		return nil, fmt.Errorf("%w: strategy clock must not be nil", domain.ErrInvariantViolation)
	}

	id := domain.NewStrategyID(cfg.Name, cfg.Tag)
	return &Strategy{
		id:      id,
		cfg:     cfg,
		log:     log.With().Str("component", "strategy").Str("strategy_id", string(id)).Logger(),
		trader:  trader,
		state:   StateInitialized,
		clk:     clk,
		factory: order.NewFactory(id, clk),

		quoteIndicators: make(map[domain.InstrumentID][]indicators.PriceIndicator),
		tradeIndicators: make(map[domain.InstrumentID][]indicators.PriceIndicator),
		barIndicators:   make(map[domain.BarType][]indicators.BarIndicator),

		stopLossIDs:   make(map[domain.ClientOrderID]struct{}),
		takeProfitIDs: make(map[domain.ClientOrderID]struct{}),
		flattening:    make(map[domain.PositionID]struct{}),

		timerHandlers: make(map[string]func(clock.TimeEvent) error),
	}, nil
}

// ID returns the strategy's identity
func (s *Strategy) ID() domain.StrategyID { return s.id }

// State returns the current lifecycle state
func (s *Strategy) State() State { return s.state }

// IsRunning reports whether user callbacks are live
func (s *Strategy) IsRunning() bool { return s.state == StateRunning }

// OrderFactory returns the strategy's order factory. The id sequence is
// strategy-private.
func (s *Strategy) OrderFactory() *order.Factory { return s.factory }

// Clock returns the shared clock the strategy was created with
func (s *Strategy) Clock() clock.Clock { return s.clk }

// SetReplay marks incoming data as a historical replay. Indicators keep
// updating during a replay; user callbacks do not fire.
func (s *Strategy) SetReplay(on bool) { s.replay = on }

// Register binds the strategy to the bus and both engine collaborators and
// subscribes it to its own order, position and timer event streams. Both
// engines must be registered before Start can succeed.
func (s *Strategy) Register(bus *messaging.Bus, dataEngine *data.Engine, execEngine *execution.Engine) error {
	if bus == nil || dataEngine == nil || execEngine == nil {
		return fmt.Errorf("%w: strategy %s registration requires bus, data engine and execution engine",
			domain.ErrMissingCollaborator, s.id)
	}
	if s.bus != nil {
		return fmt.Errorf("%w: strategy %s already registered", domain.ErrInvariantViolation, s.id)
	}

	s.bus = bus
	s.data = dataEngine
	s.exec = execEngine
	s.posGen = execEngine.PositionGenerator(s.id)

	s.unsubs = append(s.unsubs,
		messaging.SubscribeTo(bus, messaging.TopicOrderEvents(s.id), func(ev order.Event) {
			s.HandleEvent(ev)
		}),
		messaging.SubscribeTo(bus, messaging.TopicPositionEvents(s.id), func(ev position.Event) {
			s.HandleEvent(ev)
		}),
		messaging.SubscribeTo(bus, messaging.TopicTimeEvents(s.id), func(ev clock.TimeEvent) {
			s.HandleTimeEvent(ev)
		}),
	)

	s.log.Info().Msg("strategy registered")
	return nil
}

// Start moves the strategy to Running. The transition completes only after
// the collaborators are registered and the OnStart hook succeeds; any
// failure degrades to a stop. An invalid start trigger also forces a stop
// rather than surfacing an inconsistent state.
func (s *Strategy) Start() error {
	if err := s.transition(TriggerStart); err != nil {
		s.log.Error().Err(err).Msg("invalid start trigger, forcing stop")
		s.Stop()
		return err
	}

	if s.bus == nil || s.data == nil || s.exec == nil {
		err := fmt.Errorf("%w: strategy %s started before engine registration",
			domain.ErrMissingCollaborator, s.id)
		s.log.Error().Err(err).Msg("start failed")
		s.Stop()
		return err
	}

	if err := s.runHook("OnStart", s.hookOnStart); err != nil {
		s.log.Error().Err(err).Msg("start hook failed, stopping")
		s.Stop()
		return err
	}

	if err := s.transition(TriggerStartCompleted); err != nil {
		return err
	}
	s.log.Info().Msg("strategy running")
	return nil
}

// Stop moves the strategy to Stopped: flattens open positions and cancels
// live orders per configuration, cancels every timer, then runs the OnStop
// hook. An invalid stop trigger is logged and the call is a no-op.
func (s *Strategy) Stop() error {
	if err := s.transition(TriggerStop); err != nil {
		s.log.Warn().Err(err).Msg("invalid stop trigger ignored")
		return nil
	}

	if s.cfg.FlattenOnStop && s.exec != nil {
		if err := s.FlattenAllPositions(); err != nil {
			s.log.Error().Err(err).Msg("flatten on stop failed")
		}
	}
	if s.cfg.CancelOrdersOnStop && s.exec != nil {
		s.cancelLiveOrders()
	}

	s.clk.CancelTimers()
	s.timerHandlers = make(map[string]func(clock.TimeEvent) error)

	hookErr := s.runHook("OnStop", s.hookOnStop)
	if hookErr != nil {
		s.log.Error().Err(hookErr).Msg("stop hook failed")
	}

	if err := s.transition(TriggerStopCompleted); err != nil {
		return err
	}
	s.log.Info().Msg("strategy stopped")
	return hookErr
}

// Resume moves a stopped strategy back to Running. An invalid resume
// trigger forces a stop, the same degradation as an invalid start.
func (s *Strategy) Resume() error {
	if err := s.transition(TriggerResume); err != nil {
		s.log.Error().Err(err).Msg("invalid resume trigger, forcing stop")
		s.Stop()
		return err
	}

	if err := s.runHook("OnResume", s.hookOnResume); err != nil {
		s.log.Error().Err(err).Msg("resume hook failed, stopping")
		s.Stop()
		return err
	}

	if err := s.transition(TriggerResumeCompleted); err != nil {
		return err
	}
	s.log.Info().Msg("strategy running")
	return nil
}

// Reset clears every piece of mutable session state: indicator
// registrations, stop-loss/take-profit registrations, the in-flight
// flattening set, and both id generator counts. An invalid reset trigger is
// logged and the call is a no-op.
func (s *Strategy) Reset() error {
	if err := s.transition(TriggerReset); err != nil {
		s.log.Warn().Err(err).Msg("invalid reset trigger ignored")
		return nil
	}

	s.quoteIndicators = make(map[domain.InstrumentID][]indicators.PriceIndicator)
	s.tradeIndicators = make(map[domain.InstrumentID][]indicators.PriceIndicator)
	s.barIndicators = make(map[domain.BarType][]indicators.BarIndicator)
	s.stopLossIDs = make(map[domain.ClientOrderID]struct{})
	s.takeProfitIDs = make(map[domain.ClientOrderID]struct{})
	s.flattening = make(map[domain.PositionID]struct{})

	s.factory.Generator().Reset()
	if s.posGen != nil {
		s.posGen.Reset()
	}

	if err := s.runHook("OnReset", s.hookOnReset); err != nil {
		s.log.Error().Err(err).Msg("reset hook failed")
	}

	if err := s.transition(TriggerResetCompleted); err != nil {
		return err
	}
	s.log.Info().Msg("strategy reset")
	return nil
}

// Dispose releases the strategy's bus subscriptions and runs the OnDispose
// hook. Disposed is terminal. An invalid dispose trigger is logged and the
// call is a no-op.
func (s *Strategy) Dispose() error {
	if err := s.transition(TriggerDispose); err != nil {
		s.log.Warn().Err(err).Msg("invalid dispose trigger ignored")
		return nil
	}

	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	if err := s.runHook("OnDispose", s.hookOnDispose); err != nil {
		s.log.Error().Err(err).Msg("dispose hook failed")
	}

	if err := s.transition(TriggerDisposeCompleted); err != nil {
		return err
	}
	s.log.Info().Msg("strategy disposed")
	return nil
}

func (s *Strategy) transition(trigger Trigger) error {
	next, err := Transition(s.state, trigger)
	if err != nil {
		return err
	}
	prev := s.state
	s.state = next
	s.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("state changed")
	return nil
}

// cancelLiveOrders issues one cancel-all per instrument that still has an
// order live at the venue. Submitted counts: the venue may yet accept it.
func (s *Strategy) cancelLiveOrders() {
	seen := make(map[domain.InstrumentID]struct{})
	for _, ord := range s.exec.Cache().OrdersForStrategy(s.id) {
		if st := ord.Status(); !st.IsWorking() && st != order.StatusSubmitted {
			continue
		}
		if _, done := seen[ord.InstrumentID()]; done {
			continue
		}
		seen[ord.InstrumentID()] = struct{}{}
		if err := s.CancelAllOrders(ord.InstrumentID()); err != nil {
			s.log.Error().Err(err).Str("instrument_id", string(ord.InstrumentID())).
				Msg("cancel on stop failed")
		}
	}
}

// RegisterIndicatorForQuoteTicks feeds the indicator every quote mid price
// for the instrument. Registering the same indicator twice is a no-op.
func (s *Strategy) RegisterIndicatorForQuoteTicks(id domain.InstrumentID, ind indicators.PriceIndicator) {
	s.quoteIndicators[id] = appendIndicator(s.quoteIndicators[id], ind)
}

// RegisterIndicatorForTradeTicks feeds the indicator every trade price for
// the instrument.
func (s *Strategy) RegisterIndicatorForTradeTicks(id domain.InstrumentID, ind indicators.PriceIndicator) {
	s.tradeIndicators[id] = appendIndicator(s.tradeIndicators[id], ind)
}

// RegisterIndicatorForBars feeds the indicator every completed bar of the
// bar type.
func (s *Strategy) RegisterIndicatorForBars(barType domain.BarType, ind indicators.BarIndicator) {
	s.barIndicators[barType] = appendIndicator(s.barIndicators[barType], ind)
}

func appendIndicator[T indicators.Indicator](list []T, ind T) []T {
	for _, existing := range list {
		if indicators.Indicator(existing) == indicators.Indicator(ind) {
			return list
		}
	}
	return append(list, ind)
}

// IndicatorsInitialized reports whether every registered indicator has
// consumed enough data to be meaningful. Strategies gate signal logic on it.
func (s *Strategy) IndicatorsInitialized() bool {
	for _, list := range s.quoteIndicators {
		for _, ind := range list {
			if !ind.IsInitialized() {
				return false
			}
		}
	}
	for _, list := range s.tradeIndicators {
		for _, ind := range list {
			if !ind.IsInitialized() {
				return false
			}
		}
	}
	for _, list := range s.barIndicators {
		for _, ind := range list {
			if !ind.IsInitialized() {
				return false
			}
		}
	}
	return true
}

// RegisterStopLoss tags a live order as a stop-loss protecting the
// strategy's position on its instrument. A rejected stop-loss can then
// trigger flatten-on-reject; completion releases the registration.
func (s *Strategy) RegisterStopLoss(id domain.ClientOrderID) {
	s.stopLossIDs[id] = struct{}{}
}

// RegisterTakeProfit tags a live order as a take-profit
func (s *Strategy) RegisterTakeProfit(id domain.ClientOrderID) {
	s.takeProfitIDs[id] = struct{}{}
}

// IsStopLoss reports whether the order is currently registered as a stop-loss
func (s *Strategy) IsStopLoss(id domain.ClientOrderID) bool {
	_, ok := s.stopLossIDs[id]
	return ok
}

// IsTakeProfit reports whether the order is currently registered as a
// take-profit.
func (s *Strategy) IsTakeProfit(id domain.ClientOrderID) bool {
	_, ok := s.takeProfitIDs[id]
	return ok
}

// IsFlattening reports whether a closing order for the position is in flight
func (s *Strategy) IsFlattening(id domain.PositionID) bool {
	_, ok := s.flattening[id]
	return ok
}

// SubscribeQuoteTicks routes the instrument's quote stream to this
// strategy: the venue subscription through the data engine, the bus
// subscription to HandleQuote.
func (s *Strategy) SubscribeQuoteTicks(id domain.InstrumentID) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	s.unsubs = append(s.unsubs,
		messaging.SubscribeTo(s.bus, messaging.TopicQuoteTicks(id), func(q domain.QuoteTick) {
			s.HandleQuote(q)
		}))
	return s.data.SubscribeQuoteTicks(id)
}

// SubscribeTradeTicks routes the instrument's trade stream to this strategy
func (s *Strategy) SubscribeTradeTicks(id domain.InstrumentID) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	s.unsubs = append(s.unsubs,
		messaging.SubscribeTo(s.bus, messaging.TopicTradeTicks(id), func(t domain.TradeTick) {
			s.HandleTrade(t)
		}))
	return s.data.SubscribeTradeTicks(id)
}

// SubscribeBars routes the bar stream to this strategy
func (s *Strategy) SubscribeBars(barType domain.BarType) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	s.unsubs = append(s.unsubs,
		messaging.SubscribeTo(s.bus, messaging.TopicBars(barType), func(b domain.Bar) {
			s.HandleBar(b)
		}))
	return s.data.SubscribeBars(barType)
}

// SetTimer registers a repeating timer whose events are routed through the
// bus back to this strategy's dispatch turn. The handler follows the
// callback policy and fires only while Running.
func (s *Strategy) SetTimer(name string, interval time.Duration, fn func(clock.TimeEvent) error) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	if err := s.clk.SetTimer(name, interval, s.publishTimeEvent); err != nil {
		return err
	}
	s.timerHandlers[name] = fn
	return nil
}

// SetTimeAlert registers a one-shot timer firing at alertTime
func (s *Strategy) SetTimeAlert(name string, alertTime time.Time, fn func(clock.TimeEvent) error) error {
	if err := s.requireRegistration(); err != nil {
		return err
	}
	if err := s.clk.SetTimeAlert(name, alertTime, s.publishTimeEvent); err != nil {
		return err
	}
	s.timerHandlers[name] = fn
	return nil
}

// CancelTimer stops one named timer and drops its handler
func (s *Strategy) CancelTimer(name string) bool {
	delete(s.timerHandlers, name)
	return s.clk.CancelTimer(name)
}

func (s *Strategy) publishTimeEvent(ev clock.TimeEvent) {
	if err := s.bus.Publish(messaging.TopicTimeEvents(s.id), ev); err != nil {
		s.log.Error().Err(err).Str("timer", ev.Name).Msg("time event publish failed")
	}
}

func (s *Strategy) requireRegistration() error {
	if s.bus == nil || s.data == nil || s.exec == nil {
		return fmt.Errorf("%w: strategy %s is not registered with its engines",
			domain.ErrMissingCollaborator, s.id)
	}
	return nil
}
