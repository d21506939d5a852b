package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-core/internal/events"
	"orderflow-core/internal/ledger"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSink) Send(m string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestLossStreakRule(t *testing.T) {
	tests := []struct {
		name   string
		rule   LossStreakRule
		streak ledger.Streak
		want   bool
	}{
		{"disabled", LossStreakRule{}, ledger.Streak{Type: ledger.Loss, Length: 9}, false},
		{"wins never fire", LossStreakRule{MaxLosses: 2}, ledger.Streak{Type: ledger.Win, Length: 5}, false},
		{"short run", LossStreakRule{MaxLosses: 3}, ledger.Streak{Type: ledger.Loss, Length: 2}, false},
		{"at threshold", LossStreakRule{MaxLosses: 3}, ledger.Streak{Type: ledger.Loss, Length: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.rule.Check(tt.streak)
			assert.Equal(t, tt.want, got)
			if got {
				assert.Contains(t, reason, "consecutive losses")
			}
		})
	}
}

func TestMonitorAlertsOnLossStreak(t *testing.T) {
	bus := events.NewBus()
	sink := &recordingSink{}
	m := &Monitor{Bus: bus, Sink: sink, Rule: LossStreakRule{MaxLosses: 2}, Logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventStreakClosed, ledger.Streak{Type: ledger.Win, Length: 4})
	bus.Publish(events.EventStreakClosed, ledger.Streak{Type: ledger.Loss, Length: 2})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 7} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 7.0, s.Max)
	assert.InDelta(t, 11.0/3, s.Avg, 1e-9)
}

func TestPipelineMetricsSnapshot(t *testing.T) {
	m := NewPipelineMetrics()
	at := time.UnixMilli(1700000000000)
	m.IncrementTicks(at)
	m.IncrementTicks(at)
	m.IncrementBars()
	m.IncrementProfiles()
	m.IncrementBets()
	NewTimer(m.TickLatency).Stop()

	s := m.GetSnapshot()
	assert.Equal(t, uint64(2), s.Ticks)
	assert.Equal(t, uint64(1), s.Bars)
	assert.Equal(t, uint64(1), s.Profiles)
	assert.Equal(t, uint64(1), s.Bets)
	assert.Equal(t, at, s.LastTick)
	assert.Equal(t, 1, s.TickLatency.Count)
}

func TestCollectorsRegistered(t *testing.T) {
	TicksTotal.WithLabelValues("BTCUSDT").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["orderflow_ticks_total"])
}
