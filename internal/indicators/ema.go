package indicators

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/meridianhq/meridian/internal/domain"
)

// windowFactor sizes indicator windows as a multiple of the period so the
// batch calculations converge to the continuing series.
const windowFactor = 4

// EMA is a streaming exponential moving average over closes or raw prices.
//
// EMA_today = (Price_today x multiplier) + (EMA_yesterday x (1 - multiplier))
// where multiplier = 2 / (period + 1). Before the period fills the value
// falls back to the simple mean of what has been seen.
type EMA struct {
	period int
	prices *window
	count  int
	value  float64
	hasVal bool
}

var (
	_ BarIndicator   = (*EMA)(nil)
	_ PriceIndicator = (*EMA)(nil)
)

// NewEMA creates an exponential moving average with the given period
func NewEMA(period int) (*EMA, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: EMA period must be positive, got %d", domain.ErrInvariantViolation, period)
	}
	return &EMA{period: period, prices: newWindow(period * windowFactor)}, nil
}

// Name identifies the indicator and its period
func (e *EMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }

// IsInitialized reports whether a full period has been consumed
func (e *EMA) IsInitialized() bool { return e.count >= e.period }

// Count returns how many prices have been consumed
func (e *EMA) Count() int { return e.count }

// UpdateBar consumes a completed bar's close
func (e *EMA) UpdateBar(bar domain.Bar) { e.UpdatePrice(bar.Close.InexactFloat64()) }

// UpdatePrice consumes one price
func (e *EMA) UpdatePrice(price float64) {
	e.prices.push(price)
	e.count++

	if e.prices.len() < e.period {
		e.value = mean(e.prices.values)
		e.hasVal = true
		return
	}
	series := talib.Ema(e.prices.values, e.period)
	if last := series[len(series)-1]; !isNaN(last) {
		e.value = last
		e.hasVal = true
	}
}

// Value returns the current average; ok is false before the first update
func (e *EMA) Value() (float64, bool) { return e.value, e.hasVal }

// Reset drops all consumed state
func (e *EMA) Reset() {
	e.prices.reset()
	e.count = 0
	e.value = 0
	e.hasVal = false
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func isNaN(f float64) bool { return f != f }
