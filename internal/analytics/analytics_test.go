package analytics

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-core/internal/bar"
	"orderflow-core/internal/profile"
	"orderflow-core/internal/tick"
)

func TestVolatility(t *testing.T) {
	v := NewVolatility(2)
	steps := []struct {
		high, low float64
		sma, sd   float64
	}{
		{11, 9, 10, 1e-5},
		{13, 11, 11, math.Sqrt(0.5)},
		{15, 13, 13, math.Sqrt(0.5)},
	}
	for i, s := range steps {
		v.Update(&bar.Bar{High: s.high, Low: s.low})
		assert.InDelta(t, s.sma, v.SMA(), 1e-12, "step %d", i)
		assert.InDelta(t, s.sd, v.StdDev(), 1e-6, "step %d", i)
	}
}

func TestHighLow(t *testing.T) {
	vol := NewVolatility(3)
	hl := NewHighLow(vol, 0)
	for i := 0; i < 3; i++ {
		b := &bar.Bar{ID: uint64(i), Open: 100, High: 100.1, Low: 99.9, Close: 100}
		vol.Update(b)
		hl.Update(b)
	}
	_, ok := hl.LatestHigh()
	require.False(t, ok)

	spike := &bar.Bar{ID: 9, Time: 42, Open: 100, High: 110, Low: 99.9, Close: 109}
	vol.Update(spike)
	hl.Update(spike)
	ext, ok := hl.LatestHigh()
	require.True(t, ok)
	assert.Equal(t, uint64(9), ext.Index)
	assert.Equal(t, 110.0, ext.Value)
	assert.Equal(t, int64(42), ext.Time)
	_, ok = hl.LatestLow()
	assert.False(t, ok)
}

func TestMonthlyThresholds(t *testing.T) {
	m := NewMonthlyTopCandles()
	hour := int64(60 * 60 * 1000)
	for i := 0; i < 20; i++ {
		rolled := m.Update(&bar.Bar{Time: int64(i) * hour, Volume: float64(i + 1), VolumeDelta: float64(i - 10)})
		require.False(t, rolled)
	}
	assert.False(t, m.Thresholds().Ready)

	require.True(t, m.Update(&bar.Bar{Time: monthMs, Volume: 1}))
	th := m.Thresholds()
	assert.True(t, th.Ready)
	assert.Equal(t, 2, th.TopN)
	assert.InDelta(t, 1.9, th.Volume, 1e-12)
	assert.InDelta(t, 0.8, th.PositiveDelta, 1e-12)
	assert.InDelta(t, -0.9, th.NegativeDelta, 1e-12)
}

func TestMonthlyTooFewBars(t *testing.T) {
	m := NewMonthlyTopCandles()
	m.Update(&bar.Bar{Time: 0, Volume: 5})
	assert.False(t, m.Update(&bar.Bar{Time: monthMs, Volume: 5}))
	assert.False(t, m.Thresholds().Ready)
}

func TestAbsorb(t *testing.T) {
	b := &bar.Bar{Clusters: bar.Clusters{
		99:  {Price: 99, Volume: 10, VolumeDelta: -5, Position: bar.PositionLowerWick},
		100: {Price: 100, Volume: 50, VolumeDelta: 40, Position: bar.PositionBody},
		101: {Price: 101, Volume: 10, VolumeDelta: 5, Position: bar.PositionUpperWick},
	}}
	th := Thresholds{Volume: 1, PositiveDelta: 0.8, NegativeDelta: -0.9, Ready: true}
	Absorb(b, th)

	assert.InDelta(t, -math.Log(15), b.Clusters[99].AbsorptionScore, 1e-12)
	assert.Zero(t, b.Clusters[100].AbsorptionScore)
	assert.InDelta(t, math.Log(15), b.Clusters[101].AbsorptionScore, 1e-12)
	assert.InDelta(t, math.Log(15), b.Absorption, 1e-12)

	fresh := &bar.Bar{Clusters: bar.Clusters{
		101: {Price: 101, Volume: 10, VolumeDelta: 5, Position: bar.PositionUpperWick},
	}}
	Absorb(fresh, Thresholds{})
	assert.Zero(t, fresh.Absorption)
}

func TestAbsorbRequiresVolumeOnBothWicks(t *testing.T) {
	tests := []struct {
		name    string
		cluster *bar.Cluster
	}{
		{name: "lower wick", cluster: &bar.Cluster{Price: 99, Volume: 1.5, VolumeDelta: -1.5, Position: bar.PositionLowerWick}},
		{name: "upper wick", cluster: &bar.Cluster{Price: 101, Volume: 1.5, VolumeDelta: 1.5, Position: bar.PositionUpperWick}},
	}
	th := Thresholds{Volume: 2, PositiveDelta: 0.8, NegativeDelta: -0.9, Ready: true}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &bar.Bar{Clusters: bar.Clusters{tt.cluster.Price: tt.cluster}}
			Absorb(b, th)

			assert.Zero(t, tt.cluster.AbsorptionScore)
			assert.Zero(t, b.Absorption)
		})
	}
}

func TestStrongLevels(t *testing.T) {
	s := NewStrongLevels(DefaultLevelEpsilon)
	s.Add(101, 1)
	s.Add(100, 2)
	s.Add(100, 3)
	s.Add(102, 4)

	lvl, ok := s.StrongestBetween(99, 103)
	require.True(t, ok)
	assert.Equal(t, 100.0, lvl.Price)
	assert.Len(t, lvl.Tests, 2)

	lvl, ok = s.StrongestBetween(100.5, 103)
	require.True(t, ok)
	assert.Equal(t, 101.0, lvl.Price)

	_, ok = s.StrongestBetween(200, 300)
	assert.False(t, ok)

	prevPrev := &bar.Bar{Low: 101.005, High: 103}
	prev := &bar.Bar{Low: 101.02, High: 104, Time: 77}
	s.Check(prev, prevPrev)
	levels := s.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, []float64{100, 101, 102}, []float64{levels[0].Price, levels[1].Price, levels[2].Price})
	assert.Equal(t, []int64{1, 77}, levels[1].Tests)
}

func TestStrongLevelsHighRejection(t *testing.T) {
	s := NewStrongLevels(DefaultLevelEpsilon)
	s.Add(50, 1)
	s.Check(&bar.Bar{Low: 48, High: 49.98, Time: 9}, &bar.Bar{Low: 48, High: 49.995})
	lvl, ok := s.StrongestBetween(50, 50)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 9}, lvl.Tests)
}

func TestDriverBarClose(t *testing.T) {
	d := NewDriver(DefaultConfig(), zerolog.Nop())
	var history []*bar.Bar
	for i := 0; i < 85; i++ {
		c := 100 + float64(i)
		if i == 75 {
			c = 50
		}
		b := &bar.Bar{
			ID: uint64(i), Time: int64(i) * 1000,
			Open: c, High: c + 1, Low: c - 1, Close: c,
			Volume: 10, VolumeDelta: 5, PriceDelta: 1, TickCount: i,
		}
		history = append(history, b)
		d.OnBarClose(b, history)
	}

	pl, ok := d.PrevLow()
	require.True(t, ok)
	assert.Equal(t, uint64(75), pl.ID)

	st := d.State()
	assert.Equal(t, 185.0, st.LocalHigh)
	assert.Equal(t, 49.0, st.LocalLow)
	assert.InDelta(t, 74.5, st.AvgTickCount, 1e-12)
	assert.True(t, st.BullishDivergence)
	assert.InDelta(t, 25, st.LatestVolumeDeltaSum, 1e-12)
	assert.InDelta(t, 1, st.CVDToPriceDiffRatio, 1e-12)
	assert.InDelta(t, 15, st.Indicators["cvd3"], 1e-12)
	assert.InDelta(t, 3, st.Indicators["cpd3"], 1e-12)
	assert.Greater(t, d.Indicator("atr14"), 0.0)
	assert.True(t, st.WarmUp)
}

func TestDriverWarmupAndSnapshot(t *testing.T) {
	d := NewDriver(Config{WarmupTicks: 2}, zerolog.Nop())
	for i := 0; i < 2; i++ {
		d.OnTick(tick.Tick{ID: uint64(i)})
		assert.True(t, d.IsWarmUp())
	}
	d.OnTick(tick.Tick{ID: 3})
	assert.False(t, d.IsWarmUp())

	d.OnSnapshot(profile.Snapshot{VPOC: 42.5, EndedAt: 9})
	lvl, ok := d.Levels().StrongestBetween(42, 43)
	require.True(t, ok)
	assert.Equal(t, 42.5, lvl.Price)
	assert.Equal(t, []int64{9}, lvl.Tests)
}
