package indicators

import (
	"fmt"

	"orderflow-core/internal/bar"
)

// Indicator is recomputed from the closed-bar history on every close.
type Indicator interface {
	Name() string
	Update(history []*bar.Bar)
	Value() float64
}

// Field extracts one series value from a bar.
type Field func(*bar.Bar) float64

func Close(b *bar.Bar) float64       { return b.Close }
func VolumeDelta(b *bar.Bar) float64 { return b.VolumeDelta }
func PriceDelta(b *bar.Bar) float64  { return b.PriceDelta }

func series(history []*bar.Bar, n int, f Field) []float64 {
	if n > len(history) {
		n = len(history)
	}
	out := make([]float64, n)
	for i, b := range history[len(history)-n:] {
		out[i] = f(b)
	}
	return out
}

// MovingAverage is an SMA over a bar field. The value holds until more than
// Period bars exist.
type MovingAverage struct {
	name   string
	period int
	field  Field
	value  float64
}

func NewMovingAverage(name string, period int, f Field, initial float64) *MovingAverage {
	return &MovingAverage{name: name, period: period, field: f, value: initial}
}

func (m *MovingAverage) Name() string   { return m.name }
func (m *MovingAverage) Value() float64 { return m.value }

func (m *MovingAverage) Update(history []*bar.Bar) {
	if len(history) > m.period {
		m.value = SMA(series(history, m.period, m.field), m.period)
	}
}

// WindowSum sums a bar field over the last Period bars. A zero sum is
// replaced by Zero so the value can be used as a divisor.
type WindowSum struct {
	name   string
	period int
	field  Field
	zero   float64
	value  float64
}

func NewWindowSum(name string, period int, f Field, zero float64) *WindowSum {
	return &WindowSum{name: name, period: period, field: f, zero: zero}
}

func (w *WindowSum) Name() string   { return w.name }
func (w *WindowSum) Value() float64 { return w.value }

func (w *WindowSum) Update(history []*bar.Bar) {
	if len(history) <= w.period {
		return
	}
	w.value = Sum(series(history, w.period, w.field), w.period)
	if w.value == 0 {
		w.value = w.zero
	}
}

// AverageTrueRange is ATR over closed bars.
type AverageTrueRange struct {
	period int
	value  float64
}

func NewAverageTrueRange(period int) *AverageTrueRange {
	return &AverageTrueRange{period: period}
}

func (a *AverageTrueRange) Name() string   { return fmt.Sprintf("atr%d", a.period) }
func (a *AverageTrueRange) Value() float64 { return a.value }

func (a *AverageTrueRange) Update(history []*bar.Bar) {
	if len(history) <= a.period {
		return
	}
	n := a.period + 1
	highs := series(history, n, func(b *bar.Bar) float64 { return b.High })
	lows := series(history, n, func(b *bar.Bar) float64 { return b.Low })
	closes := series(history, n, Close)
	a.value = ATR(highs, lows, closes, a.period)
}

// RelativeStrength is RSI over closes.
type RelativeStrength struct {
	period int
	value  float64
}

func NewRelativeStrength(period int) *RelativeStrength {
	return &RelativeStrength{period: period}
}

func (r *RelativeStrength) Name() string   { return fmt.Sprintf("rsi%d", r.period) }
func (r *RelativeStrength) Value() float64 { return r.value }

func (r *RelativeStrength) Update(history []*bar.Bar) {
	if len(history) <= r.period {
		return
	}
	r.value = RSI(series(history, r.period+1, Close), r.period)
}
