// Package indicators provides streaming technical indicators for strategy
// use. Each indicator consumes market data one update at a time and reports
// whether it has seen enough history to produce meaningful values.
package indicators

import "github.com/meridianhq/meridian/internal/domain"

// Indicator is the common surface of every streaming indicator
type Indicator interface {
	// Name identifies the indicator and its parameters, e.g. "EMA(20)".
	Name() string
	// IsInitialized reports whether enough data has been consumed for the
	// value to be meaningful. Strategies gate their signal logic on this.
	IsInitialized() bool
	// Count returns how many updates the indicator has consumed.
	Count() int
	// Reset drops all consumed state.
	Reset()
}

// BarIndicator consumes completed bars
type BarIndicator interface {
	Indicator
	UpdateBar(bar domain.Bar)
}

// PriceIndicator consumes raw prices, typically trade prints or quote mids
type PriceIndicator interface {
	Indicator
	UpdatePrice(price float64)
}

// window is a bounded sliding window of float64 samples. Old samples fall
// off the front once the capacity is reached.
type window struct {
	values []float64
	limit  int
}

func newWindow(limit int) *window {
	return &window{values: make([]float64, 0, limit), limit: limit}
}

func (w *window) push(v float64) {
	if len(w.values) == w.limit {
		copy(w.values, w.values[1:])
		w.values[len(w.values)-1] = v
		return
	}
	w.values = append(w.values, v)
}

func (w *window) len() int { return len(w.values) }

func (w *window) reset() { w.values = w.values[:0] }
