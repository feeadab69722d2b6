package indicators

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/meridianhq/meridian/internal/domain"
)

// ATR is a streaming average true range over completed bars, Wilder
// smoothed. True range needs the previous close, so the indicator
// initializes one bar after a full period.
type ATR struct {
	period int
	highs  *window
	lows   *window
	closes *window
	count  int
	value  float64
	hasVal bool
}

var _ BarIndicator = (*ATR)(nil)

// NewATR creates an average true range with the given period
func NewATR(period int) (*ATR, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: ATR period must be positive, got %d", domain.ErrInvariantViolation, period)
	}
	limit := period * windowFactor
	return &ATR{
		period: period,
		highs:  newWindow(limit),
		lows:   newWindow(limit),
		closes: newWindow(limit),
	}, nil
}

// Name identifies the indicator and its period
func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }

// IsInitialized reports whether period+1 bars have been consumed
func (a *ATR) IsInitialized() bool { return a.count > a.period }

// Count returns how many bars have been consumed
func (a *ATR) Count() int { return a.count }

// UpdateBar consumes one completed bar
func (a *ATR) UpdateBar(bar domain.Bar) {
	a.highs.push(bar.High.InexactFloat64())
	a.lows.push(bar.Low.InexactFloat64())
	a.closes.push(bar.Close.InexactFloat64())
	a.count++

	if a.closes.len() <= a.period {
		return
	}
	series := talib.Atr(a.highs.values, a.lows.values, a.closes.values, a.period)
	if last := series[len(series)-1]; !isNaN(last) {
		a.value = last
		a.hasVal = true
	}
}

// Value returns the current range; ok is false until initialized
func (a *ATR) Value() (float64, bool) { return a.value, a.hasVal }

// Reset drops all consumed state
func (a *ATR) Reset() {
	a.highs.reset()
	a.lows.reset()
	a.closes.reset()
	a.count = 0
	a.value = 0
	a.hasVal = false
}
