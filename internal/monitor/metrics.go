package monitor

import (
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_ticks_total", Help: "Ticks fed through the pipeline"},
		[]string{"symbol"},
	)
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_bars_closed_total", Help: "Bars closed by the aggregator"},
		[]string{"symbol"},
	)
	ProfilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_profiles_total", Help: "Volume profile snapshots completed"},
		[]string{"symbol"},
	)
	PriceActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_price_actions_total", Help: "Price-action transitions"},
		[]string{"symbol", "state"},
	)
	BetEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_bet_events_total", Help: "Ledger events by kind"},
		[]string{"symbol", "kind"},
	)
	IngestPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_ingest_pages_total", Help: "History pages written to the tick log"},
		[]string{"symbol"},
	)
	IngestResyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_ingest_resyncs_total", Help: "Download restarts after an id gap"},
		[]string{"symbol"},
	)
	BackfillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_backfills_total", Help: "Live gap backfills"},
		[]string{"symbol"},
	)
	TickLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderflow_tick_process_seconds",
		Help:    "Time spent processing one tick",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(
		TicksTotal, BarsTotal, ProfilesTotal, PriceActionsTotal, BetEventsTotal,
		IngestPagesTotal, IngestResyncsTotal, BackfillsTotal, TickLatency,
	)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// PipelineMetrics keeps in-process counters for the health endpoint.
type PipelineMetrics struct {
	TickLatency *LatencyHistogram

	ticks    uint64
	bars     uint64
	profiles uint64
	bets     uint64
	errors   uint64

	mu       sync.RWMutex
	lastTick time.Time
}

// LatencyHistogram tracks latency samples over a sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewPipelineMetrics creates a metrics instance.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{TickLatency: NewLatencyHistogram(1000)}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in microseconds.
func (h *LatencyHistogram) Record(us float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, us)
	h.dirty = true
}

// RecordDuration converts d to microseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e3)
}

// Stats returns min, max, avg and percentiles, recomputed only after new samples.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics in microseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *PipelineMetrics) IncrementTicks(at time.Time) {
	atomic.AddUint64(&m.ticks, 1)
	m.mu.Lock()
	m.lastTick = at
	m.mu.Unlock()
}

func (m *PipelineMetrics) IncrementBars()     { atomic.AddUint64(&m.bars, 1) }
func (m *PipelineMetrics) IncrementProfiles() { atomic.AddUint64(&m.profiles, 1) }
func (m *PipelineMetrics) IncrementBets()     { atomic.AddUint64(&m.bets, 1) }
func (m *PipelineMetrics) IncrementErrors()   { atomic.AddUint64(&m.errors, 1) }

// MetricsSnapshot is a point-in-time view of the pipeline counters.
type MetricsSnapshot struct {
	TickLatency    LatencyStats `json:"tick_latency_us"`
	Ticks          uint64       `json:"ticks"`
	Bars           uint64       `json:"bars"`
	Profiles       uint64       `json:"profiles"`
	Bets           uint64       `json:"bets"`
	Errors         uint64       `json:"errors"`
	LastTick       time.Time    `json:"last_tick"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *PipelineMetrics) GetSnapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	last := m.lastTick
	m.mu.RUnlock()

	return MetricsSnapshot{
		TickLatency:    m.TickLatency.Stats(),
		Ticks:          atomic.LoadUint64(&m.ticks),
		Bars:           atomic.LoadUint64(&m.bars),
		Profiles:       atomic.LoadUint64(&m.profiles),
		Bets:           atomic.LoadUint64(&m.bets),
		Errors:         atomic.LoadUint64(&m.errors),
		LastTick:       last,
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		Timestamp:      time.Now(),
	}
}

// Timer measures one operation into both the window and the prometheus histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to h.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	TickLatency.Observe(elapsed.Seconds())
	return elapsed
}
