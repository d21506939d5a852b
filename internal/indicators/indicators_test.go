package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"orderflow-core/internal/bar"
)

func TestSMA(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		period int
		want   float64
	}{
		{"short", []float64{1, 2}, 3, 0},
		{"exact", []float64{1, 2, 3}, 3, 2},
		{"tail", []float64{100, 1, 2, 3}, 3, 2},
		{"zero period", []float64{1}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SMA(tt.values, tt.period), 1e-12)
		})
	}
}

func TestRSI(t *testing.T) {
	assert.Equal(t, 100.0, RSI([]float64{1, 2, 3, 4}, 3))
	assert.InDelta(t, 50, RSI([]float64{1, 2, 1}, 2), 1e-12)
	assert.Equal(t, 0.0, RSI([]float64{1, 2}, 2))
}

func TestATR(t *testing.T) {
	highs := []float64{10, 12, 11}
	lows := []float64{9, 10, 8}
	closes := []float64{9.5, 11, 9}
	// true ranges: max(2, 2.5, 0.5)=2.5 and max(3, 0, 3)=3
	assert.InDelta(t, 2.75, ATR(highs, lows, closes, 2), 1e-12)
	assert.Equal(t, 0.0, ATR(highs, lows, closes, 3))
}

func bars(closes ...float64) []*bar.Bar {
	out := make([]*bar.Bar, len(closes))
	for i, c := range closes {
		out[i] = &bar.Bar{ID: uint64(i), Open: c, High: c + 1, Low: c - 1, Close: c, VolumeDelta: c * 10}
	}
	return out
}

func TestEngineWindows(t *testing.T) {
	e := NewEngine(
		NewMovingAverage("sma3c", 3, Close, 0),
		NewWindowSum("cvd3", 3, VolumeDelta, 0),
		NewWindowSum("cpd3", 3, PriceDelta, 0.1),
	)
	// not more than period bars yet
	v := e.Update(bars(1, 2, 3))
	assert.Equal(t, 0.0, v["sma3c"])

	v = e.Update(bars(1, 2, 3, 4))
	assert.InDelta(t, 3, v["sma3c"], 1e-12)
	assert.InDelta(t, 90, v["cvd3"], 1e-12)
	// price deltas are zero so the divisor fallback applies
	assert.InDelta(t, 0.1, v["cpd3"], 1e-12)
}

func TestDefaultEngineNames(t *testing.T) {
	e := Default()
	vals := e.Values()
	for _, name := range []string{"sma125c", "sma400v", "atr14", "rsi14", "cvd3", "cpd100"} {
		assert.Contains(t, vals, name)
	}
	assert.Equal(t, 0.1, e.Value("sma125v"))
}
