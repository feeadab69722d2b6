package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/clients/paper"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/indicators"
	"github.com/meridianhq/meridian/internal/strategy"
)

// emaCrossTrader is the built-in dev-mode strategy: a fast/slow EMA
// crossover on one instrument, executed against the paper venue. It marks
// each bar close as the paper price so market orders fill.
type emaCrossTrader struct {
	strategy *strategy.Strategy
	venue    *paper.Client
	log      zerolog.Logger

	barType  domain.BarType
	quantity decimal.Decimal

	fast *indicators.EMA
	slow *indicators.EMA

	long bool
}

func newEMACrossTrader(barType domain.BarType, quantity decimal.Decimal,
	fastPeriod, slowPeriod int, venue *paper.Client, log zerolog.Logger) (*emaCrossTrader, error) {
	if fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("fast period %d must be shorter than slow period %d", fastPeriod, slowPeriod)
	}
	fast, err := indicators.NewEMA(fastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := indicators.NewEMA(slowPeriod)
	if err != nil {
		return nil, err
	}
	return &emaCrossTrader{
		venue:    venue,
		log:      log.With().Str("component", "emacross").Logger(),
		barType:  barType,
		quantity: quantity,
		fast:     fast,
		slow:     slow,
	}, nil
}

// Bind attaches the hosting strategy. Call after strategy.New, before Start.
func (tr *emaCrossTrader) Bind(s *strategy.Strategy) { tr.strategy = s }

func (tr *emaCrossTrader) OnStart() error {
	tr.strategy.RegisterIndicatorForBars(tr.barType, tr.fast)
	tr.strategy.RegisterIndicatorForBars(tr.barType, tr.slow)
	return tr.strategy.SubscribeBars(tr.barType)
}

func (tr *emaCrossTrader) OnBar(bar domain.Bar) error {
	tr.venue.MarkPrice(bar.Type.InstrumentID, bar.Close)

	if !tr.strategy.IndicatorsInitialized() {
		return nil
	}
	fast, _ := tr.fast.Value()
	slow, _ := tr.slow.Value()

	switch {
	case fast > slow && !tr.long:
		ord, err := tr.strategy.OrderFactory().Market(tr.barType.InstrumentID,
			domain.OrderSideBuy, tr.quantity, domain.TimeInForceGTC)
		if err != nil {
			return err
		}
		if err := tr.strategy.SubmitOrder(ord); err != nil {
			return err
		}
		tr.long = true
		tr.log.Info().Float64("fast", fast).Float64("slow", slow).Msg("crossed up, entering long")

	case fast < slow && tr.long:
		if err := tr.strategy.FlattenAllPositions(); err != nil {
			return err
		}
		tr.long = false
		tr.log.Info().Float64("fast", fast).Float64("slow", slow).Msg("crossed down, flattening")
	}
	return nil
}

func (tr *emaCrossTrader) OnSave() map[string]any {
	return map[string]any{"Long": tr.long}
}

func (tr *emaCrossTrader) OnLoad(state map[string]any) {
	if v, ok := state["Long"].(bool); ok {
		tr.long = v
	}
}
