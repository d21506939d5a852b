package indicators

import (
	"strconv"

	"orderflow-core/internal/bar"
)

// Engine updates a fixed set of indicators on every bar close.
type Engine struct {
	items  []Indicator
	values map[string]float64
}

// NewEngine builds an engine over inds. Names must be unique.
func NewEngine(inds ...Indicator) *Engine {
	e := &Engine{items: inds, values: make(map[string]float64, len(inds))}
	for _, ind := range inds {
		e.values[ind.Name()] = ind.Value()
	}
	return e
}

// Default builds the indicator set used by the analytics driver: SMA(125)
// and SMA(400) of close and volume delta, ATR(14), RSI(14) and cumulative
// volume/price delta windows of 3, 5, 10, 20 and 100 bars.
func Default() *Engine {
	inds := []Indicator{
		NewMovingAverage("sma125c", 125, Close, 0),
		NewMovingAverage("sma125v", 125, VolumeDelta, 0.1),
		NewMovingAverage("sma400c", 400, Close, 0),
		NewMovingAverage("sma400v", 400, VolumeDelta, 0.1),
		NewAverageTrueRange(14),
		NewRelativeStrength(14),
	}
	for _, p := range []int{3, 5, 10, 20, 100} {
		inds = append(inds,
			NewWindowSum("cvd"+strconv.Itoa(p), p, VolumeDelta, 0),
			NewWindowSum("cpd"+strconv.Itoa(p), p, PriceDelta, 0.1),
		)
	}
	return NewEngine(inds...)
}

// Update recomputes every indicator and returns the latest values.
func (e *Engine) Update(history []*bar.Bar) map[string]float64 {
	for _, ind := range e.items {
		ind.Update(history)
		e.values[ind.Name()] = ind.Value()
	}
	return e.values
}

// Value returns the latest value of the named indicator.
func (e *Engine) Value(name string) float64 { return e.values[name] }

// Values returns a copy of all latest values.
func (e *Engine) Values() map[string]float64 {
	out := make(map[string]float64, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}
