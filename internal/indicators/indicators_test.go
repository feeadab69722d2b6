package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/domain"
)

func bar(t *testing.T, high, low, close string, tsEvent int64) domain.Bar {
	t.Helper()
	h, err := decimal.NewFromString(high)
	require.NoError(t, err)
	l, err := decimal.NewFromString(low)
	require.NoError(t, err)
	c, err := decimal.NewFromString(close)
	require.NoError(t, err)
	return domain.Bar{
		Type: domain.BarType{
			InstrumentID: domain.InstrumentID("BTCUSDT.SIM"),
			Step:         1,
			Aggregation:  domain.BarAggregationMinute,
		},
		Open:    l,
		High:    h,
		Low:     l,
		Close:   c,
		Volume:  decimal.NewFromInt(100),
		TsEvent: tsEvent,
		TsInit:  tsEvent,
	}
}

func TestEMAFallsBackToMeanBeforePeriodFills(t *testing.T) {
	ema, err := NewEMA(3)
	require.NoError(t, err)

	ema.UpdatePrice(1)
	ema.UpdatePrice(2)

	assert.False(t, ema.IsInitialized())
	v, ok := ema.Value()
	require.True(t, ok)
	assert.InDelta(t, 1.5, v, 1e-9)
}

func TestEMAConvergesOnKnownSeries(t *testing.T) {
	ema, err := NewEMA(3)
	require.NoError(t, err)

	// Seeded with SMA(1,2,3)=2, then k=0.5: 4 -> 3, 5 -> 4.
	for _, p := range []float64{1, 2, 3, 4, 5} {
		ema.UpdatePrice(p)
	}

	assert.True(t, ema.IsInitialized())
	assert.Equal(t, 5, ema.Count())
	v, ok := ema.Value()
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-9)
}

func TestEMAConsumesBarCloses(t *testing.T) {
	ema, err := NewEMA(2)
	require.NoError(t, err)

	ema.UpdateBar(bar(t, "11", "9", "10", 100))
	ema.UpdateBar(bar(t, "13", "11", "12", 200))

	assert.True(t, ema.IsInitialized())
	v, ok := ema.Value()
	require.True(t, ok)
	assert.InDelta(t, 11.0, v, 1e-9)
}

func TestEMARejectsNonPositivePeriod(t *testing.T) {
	_, err := NewEMA(0)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestEMAResetDropsState(t *testing.T) {
	ema, err := NewEMA(2)
	require.NoError(t, err)
	ema.UpdatePrice(10)
	ema.UpdatePrice(20)
	require.True(t, ema.IsInitialized())

	ema.Reset()

	assert.False(t, ema.IsInitialized())
	assert.Equal(t, 0, ema.Count())
	_, ok := ema.Value()
	assert.False(t, ok)
}

func TestATRWilderSmoothing(t *testing.T) {
	atr, err := NewATR(2)
	require.NoError(t, err)

	atr.UpdateBar(bar(t, "12", "10", "11", 100))
	atr.UpdateBar(bar(t, "13", "11", "12", 200))
	assert.False(t, atr.IsInitialized(), "true range needs a previous close")

	atr.UpdateBar(bar(t, "14", "12", "13", 300))
	require.True(t, atr.IsInitialized())
	v, ok := atr.Value()
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9)

	// TR = max(16-12, |16-13|, |12-13|) = 4; Wilder: (2*1 + 4) / 2 = 3.
	atr.UpdateBar(bar(t, "16", "12", "15", 400))
	v, ok = atr.Value()
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-9)
}

func TestATRRejectsNonPositivePeriod(t *testing.T) {
	_, err := NewATR(-1)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestZScoreMeasuresStretchFromWindowMean(t *testing.T) {
	z, err := NewZScore(5)
	require.NoError(t, err)

	for _, p := range []float64{1, 2, 3, 4} {
		z.UpdatePrice(p)
	}
	assert.False(t, z.IsInitialized())
	_, ok := z.Value()
	assert.False(t, ok)

	z.UpdatePrice(5)
	require.True(t, z.IsInitialized())
	v, ok := z.Value()
	require.True(t, ok)
	// Mean 3, sample stddev sqrt(2.5): (5-3)/1.5811...
	assert.InDelta(t, 1.2649, v, 1e-4)
}

func TestZScoreZeroWhenWindowIsFlat(t *testing.T) {
	z, err := NewZScore(3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		z.UpdatePrice(42)
	}

	v, ok := z.Value()
	require.True(t, ok)
	assert.Zero(t, v)
}

func TestZScoreRejectsTinyLookback(t *testing.T) {
	_, err := NewZScore(1)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestWindowSlidesOldSamplesOff(t *testing.T) {
	w := newWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.push(v)
	}

	assert.Equal(t, []float64{3, 4, 5}, w.values)
	assert.Equal(t, 3, w.len())
}
