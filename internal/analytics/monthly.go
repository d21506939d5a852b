package analytics

import (
	"sort"

	"orderflow-core/internal/bar"
)

const (
	monthMs      = int64(30 * 24 * 60 * 60 * 1000)
	topShare     = 0.1
	anomalyShare = 0.1
)

// Thresholds are the anomaly levels derived from the previous month's top
// bars.
type Thresholds struct {
	Volume        float64 `json:"volumeAnomaly"`
	PositiveDelta float64 `json:"positiveDeltaAnomaly"`
	NegativeDelta float64 `json:"negativeDeltaAnomaly"`
	TopN          int     `json:"topN"`
	Ready         bool    `json:"ready"`
}

// MonthlyTopCandles collects a month of bars and, at each month boundary,
// derives thresholds from the top 10% by volume and volume delta.
type MonthlyTopCandles struct {
	monthStart int64
	started    bool
	volumes    []float64
	deltas     []float64
	thresholds Thresholds
}

func NewMonthlyTopCandles() *MonthlyTopCandles { return &MonthlyTopCandles{} }

func (m *MonthlyTopCandles) Thresholds() Thresholds { return m.thresholds }

// Update folds b. It reports whether thresholds were recomputed.
func (m *MonthlyTopCandles) Update(b *bar.Bar) bool {
	if !m.started {
		m.monthStart = b.Time
		m.started = true
	}
	rolled := false
	if b.Time-m.monthStart >= monthMs {
		rolled = m.recompute()
		m.volumes = m.volumes[:0]
		m.deltas = m.deltas[:0]
		m.monthStart = b.Time
	}
	m.volumes = append(m.volumes, b.Volume)
	m.deltas = append(m.deltas, b.VolumeDelta)
	return rolled
}

// recompute leaves the thresholds untouched when the month holds fewer than
// ten bars.
func (m *MonthlyTopCandles) recompute() bool {
	topN := int(float64(len(m.volumes)) * topShare)
	if topN < 1 {
		return false
	}
	vols := append([]float64(nil), m.volumes...)
	sort.Sort(sort.Reverse(sort.Float64Slice(vols)))
	deltas := append([]float64(nil), m.deltas...)
	sort.Sort(sort.Reverse(sort.Float64Slice(deltas)))

	m.thresholds = Thresholds{
		Volume:        vols[topN-1] * anomalyShare,
		PositiveDelta: deltas[topN-1] * anomalyShare,
		NegativeDelta: deltas[len(deltas)-topN] * anomalyShare,
		TopN:          topN,
		Ready:         true,
	}
	return true
}
