package priceaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-core/internal/profile"
	"orderflow-core/internal/tick"
)

func normalProfile() profile.Snapshot {
	return profile.Snapshot{VAH: 110, VAL: 100, VPOC: 105, Normality: 0.9, ClosedAtPrice: 105, EndedAt: 1}
}

func TestOnProfile(t *testing.T) {
	tests := []struct {
		name string
		snap profile.Snapshot
		want State
	}{
		{"normal inside", normalProfile(), InsideVA},
		{"not normal", profile.Snapshot{VAH: 110, VAL: 100, Normality: 0.5, ClosedAtPrice: 105}, Skip},
		{"closed on edge", profile.Snapshot{VAH: 110, VAL: 100, Normality: 0.9, ClosedAtPrice: 110}, Skip},
		{"closed outside", profile.Snapshot{VAH: 110, VAL: 100, Normality: 0.9, ClosedAtPrice: 95}, Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(0)
			m.OnProfile(tt.snap)
			assert.Equal(t, tt.want, m.State())
			assert.Equal(t, 0, m.LastIndex(tt.want))
		})
	}
}

func TestUpsideSequence(t *testing.T) {
	m := NewMachine(0)
	var seen []State
	m.OnEvent(func(e Event) { seen = append(seen, e.Name) })
	m.OnProfile(normalProfile())

	steps := []struct {
		price float64
		want  State
	}{
		{105, InsideVA},
		{110.05, CameToVah},
		{111.5, AboveVA},
		{113, CriticallyAboveVA},
		{108, InsideVA},
	}
	for i, s := range steps {
		m.OnTick(tick.Tick{ID: uint64(i + 1), Price: s.price, Time: int64(i + 2)})
		require.Equal(t, s.want, m.State(), "price %v", s.price)
	}
	assert.Equal(t, []State{InsideVA, CameToVah, AboveVA, CriticallyAboveVA, InsideVA}, seen)
	assert.Len(t, m.Log(), 5)
	assert.Equal(t, 4, m.LastIndex(InsideVA))
	assert.Equal(t, -1, m.LastIndex(BelowVA))
}

func TestDownsideSequence(t *testing.T) {
	m := NewMachine(0)
	m.OnProfile(normalProfile())
	for i, p := range []float64{99.95, 98.5, 97} {
		m.OnTick(tick.Tick{ID: uint64(i + 1), Price: p})
	}
	assert.Equal(t, CriticallyBelowVA, m.State())
	m.OnTick(tick.Tick{ID: 4, Price: 102})
	assert.Equal(t, InsideVA, m.State())
}

func TestSkipIgnoresTicks(t *testing.T) {
	m := NewMachine(0)
	m.OnProfile(profile.Snapshot{VAH: 110, VAL: 100, Normality: 0.1, ClosedAtPrice: 105})
	m.OnTick(tick.Tick{ID: 1, Price: 110})
	m.OnTick(tick.Tick{ID: 2, Price: 150})
	assert.Equal(t, Skip, m.State())
	assert.Len(t, m.Log(), 1)
}

func TestNoProfileNoEvents(t *testing.T) {
	m := NewMachine(0)
	m.OnTick(tick.Tick{ID: 1, Price: 1})
	assert.Equal(t, None, m.State())
	_, ok := m.Profile()
	assert.False(t, ok)
}

func TestLogBounded(t *testing.T) {
	m := NewMachine(3)
	for i := 0; i < 5; i++ {
		m.OnProfile(normalProfile())
	}
	assert.Len(t, m.Log(), 3)
	assert.Equal(t, 2, m.LastIndex(InsideVA))
}
