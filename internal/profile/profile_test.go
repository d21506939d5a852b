package profile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-core/internal/tick"
)

func levelsFrom(prices []float64, volumes []float64) []Level {
	out := make([]Level, len(prices))
	for i := range prices {
		out[i] = Level{Price: prices[i], Volume: volumes[i]}
	}
	SortDescending(out)
	return out
}

func TestComputeValueAreaCoverage(t *testing.T) {
	tests := []struct {
		name    string
		volumes []float64
	}{
		{name: "bell", volumes: []float64{1, 3, 8, 15, 22, 15, 8, 3, 1}},
		{name: "skewed", volumes: []float64{30, 20, 10, 5, 5, 2, 1, 1, 1}},
		{name: "bimodal", volumes: []float64{10, 2, 1, 2, 12, 2, 1, 2, 9}},
		{name: "flat", volumes: []float64{5, 5, 5, 5, 5, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := make([]float64, len(tt.volumes))
			for i := range prices {
				prices[i] = 100 + float64(i)
			}
			levels := levelsFrom(prices, tt.volumes)
			va := ComputeValueArea(levels, DefaultValueAreaPct, 0)

			require.False(t, va.Degenerate)
			assert.GreaterOrEqual(t, va.Volume/va.Total, DefaultValueAreaPct)
			assert.LessOrEqual(t, va.VAHIndex, va.VPOCIndex)
			assert.GreaterOrEqual(t, va.VALIndex, va.VPOCIndex)

			sum := 0.0
			for _, l := range levels[va.VAHIndex : va.VALIndex+1] {
				sum += l.Volume
			}
			assert.InDelta(t, va.Volume, sum, 1e-9)
		})
	}
}

func TestComputeValueAreaKnownBands(t *testing.T) {
	// prices 104..100 descending: volumes 1, 4, 10, 4, 1 (total 20, target 13.654)
	levels := levelsFrom([]float64{100, 101, 102, 103, 104}, []float64{1, 4, 10, 4, 1})
	va := ComputeValueArea(levels, DefaultValueAreaPct, 0)

	assert.Equal(t, 102.0, levels[va.VPOCIndex].Price)
	// equal neighbours: the higher price is consumed first, which already
	// covers the target
	assert.Equal(t, 103.0, levels[va.VAHIndex].Price)
	assert.Equal(t, 102.0, levels[va.VALIndex].Price)
	assert.InDelta(t, 14, va.Volume, 1e-12)
}

func TestComputeValueAreaTieTakesHigherPrice(t *testing.T) {
	// volumes listed by ascending price from 100
	tests := []struct {
		name     string
		volumes  []float64
		pct      float64
		vah, val float64
	}{
		{name: "tie", volumes: []float64{2, 5, 10, 5, 2}, pct: 0.5, vah: 103, val: 102},
		{name: "lower larger", volumes: []float64{2, 6, 10, 5, 2}, pct: 0.5, vah: 102, val: 101},
		{name: "second tie", volumes: []float64{3, 5, 10, 5, 3}, pct: 0.88, vah: 104, val: 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := make([]float64, len(tt.volumes))
			for i := range prices {
				prices[i] = 100 + float64(i)
			}
			levels := levelsFrom(prices, tt.volumes)
			va := ComputeValueArea(levels, tt.pct, 0)

			assert.Equal(t, 102.0, levels[va.VPOCIndex].Price)
			assert.Equal(t, tt.vah, levels[va.VAHIndex].Price)
			assert.Equal(t, tt.val, levels[va.VALIndex].Price)
		})
	}
}

func TestComputeValueAreaDegenerate(t *testing.T) {
	levels := levelsFrom([]float64{100, 101, 102}, []float64{1, 1, 10})
	va := ComputeValueArea(levels, DefaultValueAreaPct, 2)

	assert.True(t, va.Degenerate)
	assert.Equal(t, va.VPOCIndex, va.VAHIndex)
	assert.Equal(t, va.VPOCIndex, va.VALIndex)
}

func TestNormality(t *testing.T) {
	t.Run("too few levels", func(t *testing.T) {
		assert.Zero(t, Normality([]Level{{Price: 1, Volume: 1}}, 1))
	})
	t.Run("no variation", func(t *testing.T) {
		assert.Equal(t, 1.0, Normality([]Level{{Price: 1, Volume: 1}, {Price: 1, Volume: 2}}, 1))
	})
	t.Run("gaussian beats skewed", func(t *testing.T) {
		var gauss, skew []Level
		for i := -10; i <= 10; i++ {
			p := 100 + float64(i)*0.1
			gauss = append(gauss, Level{Price: p, Volume: 1000 * math.Exp(-float64(i*i)/18)})
			skew = append(skew, Level{Price: p, Volume: 1000 * math.Exp(-float64(i+10)/3)})
		}
		SortDescending(gauss)
		SortDescending(skew)

		g := Normality(gauss, 100)
		s := Normality(skew, 99)
		assert.Greater(t, g, 0.7)
		assert.Less(t, s, g)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, g, 1.0)
	})
}

func TestEngineRollsOverOnDayBoundary(t *testing.T) {
	const day = DefaultClearInterval
	start := int64(1_700_006_400_000) // 2023-11-15T00:00:00Z
	e := NewEngine()

	var snaps []Snapshot
	e.OnSnapshot(func(s Snapshot) { snaps = append(snaps, s) })

	volumes := []float64{1, 3, 8, 15, 8, 3, 1}
	for i, v := range volumes {
		e.ProcessTick(tick.Tick{ID: uint64(i + 1), Price: 50 + float64(i)*0.01, Qty: v, Time: start + 3_600_000 + int64(i)})
	}
	assert.Empty(t, snaps)

	live, ok := e.Live()
	require.True(t, ok)
	assert.InDelta(t, 50.03, live.VPOC, 1e-9)
	assert.Equal(t, start, live.StartedAt)

	require.True(t, e.ProcessTick(tick.Tick{ID: 99, Price: 50.03, Qty: 1, Time: start + day + 1}))
	require.Len(t, snaps, 1)
	s := snaps[0]
	assert.Equal(t, start, s.StartedAt)
	assert.Equal(t, start+day+1, s.EndedAt)
	assert.Equal(t, 50.03, s.ClosedAtPrice)
	assert.InDelta(t, 40, s.TotalVolume, 1e-9)
	assert.GreaterOrEqual(t, s.ValueAreaVolume/s.TotalVolume, DefaultValueAreaPct)
	assert.Greater(t, s.Normality, 0.0)
	assert.Less(t, s.VAL, s.VAH)

	last, ok := e.Last()
	require.True(t, ok)
	assert.Equal(t, s.EndedAt, last.EndedAt)

	_, ok = e.Live()
	assert.False(t, ok)

	e.ProcessTick(tick.Tick{ID: 100, Price: 50.06, Qty: 5, Time: start + day + 10})
	merged, ok := e.MergedRecent()
	require.True(t, ok)
	assert.InDelta(t, 45, merged.TotalVolume, 1e-9)
}

func TestEngineHistoryBounded(t *testing.T) {
	e := NewEngine(WithClearInterval(10), WithHistorySize(2))
	for i := int64(0); i < 10; i++ {
		e.ProcessTick(tick.Tick{ID: uint64(i + 1), Price: 10, Qty: 1, Time: 86_400_000 + i*11})
	}
	assert.Len(t, e.History(), 2)
}
