package indicators

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/meridianhq/meridian/internal/domain"
)

// ZScore measures how many sample standard deviations the latest price
// sits from the mean of its lookback window. Mean-reversion strategies
// use it to spot stretched prices.
type ZScore struct {
	lookback int
	prices   *window
	count    int
	value    float64
	hasVal   bool
}

var (
	_ BarIndicator   = (*ZScore)(nil)
	_ PriceIndicator = (*ZScore)(nil)
)

// NewZScore creates a z-score over the given lookback window
func NewZScore(lookback int) (*ZScore, error) {
	if lookback < 2 {
		return nil, fmt.Errorf("%w: z-score lookback must be at least 2, got %d", domain.ErrInvariantViolation, lookback)
	}
	return &ZScore{lookback: lookback, prices: newWindow(lookback)}, nil
}

// Name identifies the indicator and its lookback
func (z *ZScore) Name() string { return fmt.Sprintf("ZScore(%d)", z.lookback) }

// IsInitialized reports whether the lookback window is full
func (z *ZScore) IsInitialized() bool { return z.count >= z.lookback }

// Count returns how many prices have been consumed
func (z *ZScore) Count() int { return z.count }

// UpdateBar consumes a completed bar's close
func (z *ZScore) UpdateBar(bar domain.Bar) { z.UpdatePrice(bar.Close.InexactFloat64()) }

// UpdatePrice consumes one price
func (z *ZScore) UpdatePrice(price float64) {
	z.prices.push(price)
	z.count++

	if z.prices.len() < z.lookback {
		return
	}
	mu := stat.Mean(z.prices.values, nil)
	sigma := stat.StdDev(z.prices.values, nil)
	if sigma == 0 || isNaN(sigma) {
		z.value = 0
		z.hasVal = true
		return
	}
	z.value = (price - mu) / sigma
	z.hasVal = true
}

// Value returns the current z-score; ok is false until initialized
func (z *ZScore) Value() (float64, bool) { return z.value, z.hasVal }

// Reset drops all consumed state
func (z *ZScore) Reset() {
	z.prices.reset()
	z.count = 0
	z.value = 0
	z.hasVal = false
}
