package analytics

import (
	"math"

	"orderflow-core/internal/bar"
)

// Extremum is a bar whose high or low stretched more than two deviations
// from its open on the far side of the volatility SMA.
type Extremum struct {
	Delta float64 `json:"delta"`
	Value float64 `json:"value"`
	Index uint64  `json:"index"`
	Time  int64   `json:"time"`
}

// HighLow records extremes against a Volatility tracker.
type HighLow struct {
	vol   *Volatility
	limit int
	highs []Extremum
	lows  []Extremum
}

func NewHighLow(vol *Volatility, limit int) *HighLow {
	return &HighLow{vol: vol, limit: limit}
}

// Update must run after the volatility tracker saw b.
func (h *HighLow) Update(b *bar.Bar) {
	sma, sd := h.vol.SMA(), h.vol.StdDev()
	if b.High > sma && b.High-b.Open > 2*sd {
		h.highs = h.push(h.highs, Extremum{Delta: math.Abs(b.High - sma), Value: b.High, Index: b.ID, Time: b.Time})
	}
	if b.Low < sma && b.Open-b.Low > 2*sd {
		h.lows = h.push(h.lows, Extremum{Delta: math.Abs(b.Low - sma), Value: b.Low, Index: b.ID, Time: b.Time})
	}
}

func (h *HighLow) push(list []Extremum, e Extremum) []Extremum {
	list = append(list, e)
	if h.limit > 0 && len(list) > h.limit {
		list = list[len(list)-h.limit:]
	}
	return list
}

// LatestHigh returns the most recent high extremum.
func (h *HighLow) LatestHigh() (Extremum, bool) {
	if len(h.highs) == 0 {
		return Extremum{}, false
	}
	return h.highs[len(h.highs)-1], true
}

// LatestLow returns the most recent low extremum.
func (h *HighLow) LatestLow() (Extremum, bool) {
	if len(h.lows) == 0 {
		return Extremum{}, false
	}
	return h.lows[len(h.lows)-1], true
}

func (h *HighLow) Highs() []Extremum { return append([]Extremum(nil), h.highs...) }
func (h *HighLow) Lows() []Extremum  { return append([]Extremum(nil), h.lows...) }
