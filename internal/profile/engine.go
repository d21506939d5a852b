// Package profile maintains the rolling volume profile and its value area.
package profile

import (
	"orderflow-core/internal/bar"
	"orderflow-core/internal/tick"
)

const (
	// DefaultClearInterval is one day in ms.
	DefaultClearInterval int64 = 24 * 60 * 60 * 1000
	// DefaultRoundingStep is the price bucket width.
	DefaultRoundingStep = 0.01
	// DefaultHistorySize bounds the snapshot cache.
	DefaultHistorySize = 30

	msPerDay int64 = 86_400_000
)

// Snapshot is an immutable completed profile.
type Snapshot struct {
	VPOC            float64 `json:"vpoc"`
	VAH             float64 `json:"vah"`
	VAL             float64 `json:"val"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	TotalVolume     float64 `json:"totalVolume"`
	ValueAreaVolume float64 `json:"valueAreaVolume"`
	StartedAt       int64   `json:"startedAt"`
	EndedAt         int64   `json:"endedAt"`
	ClosedAtPrice   float64 `json:"closedAtPrice"`
	Normality       float64 `json:"normality"`
	Degenerate      bool    `json:"degenerate"`

	Levels    []Level `json:"profile"`
	VPOCIndex int     `json:"vpocIndex"`
	VAHIndex  int     `json:"vahIndex"`
	VALIndex  int     `json:"valIndex"`
}

// ValueAreaLevels returns the levels between VAH and VAL inclusive.
func (s Snapshot) ValueAreaLevels() []Level {
	if len(s.Levels) == 0 {
		return nil
	}
	return s.Levels[s.VAHIndex : s.VALIndex+1]
}

// SnapshotFunc observes completed profiles.
type SnapshotFunc func(Snapshot)

// Option configures an Engine.
type Option func(*Engine)

// WithClearInterval sets the rollover period in ms.
func WithClearInterval(ms int64) Option {
	return func(e *Engine) {
		if ms > 0 {
			e.interval = ms
		}
	}
}

// WithRoundingStep sets the bucket width.
func WithRoundingStep(step float64) Option {
	return func(e *Engine) {
		if step > 0 {
			e.step = step
		}
	}
}

// WithValueAreaPct sets the share of volume the value area must hold.
func WithValueAreaPct(pct float64) Option {
	return func(e *Engine) {
		if pct > 0 && pct <= 1 {
			e.pct = pct
		}
	}
}

// WithMinLevels sets the per-side level floor below which the value area
// collapses onto the point of control.
func WithMinLevels(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.minLevels = n
		}
	}
}

// WithHistorySize bounds the snapshot cache; 0 keeps every snapshot.
func WithHistorySize(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.historySize = n
		}
	}
}

type bucketMap struct {
	volumes map[float64]float64
	total   float64
}

func newBucketMap() *bucketMap { return &bucketMap{volumes: make(map[float64]float64)} }

func (m *bucketMap) add(price, qty float64) {
	m.volumes[price] += qty
	m.total += qty
}

func (m *bucketMap) clone() *bucketMap {
	c := &bucketMap{volumes: make(map[float64]float64, len(m.volumes)), total: m.total}
	for k, v := range m.volumes {
		c.volumes[k] = v
	}
	return c
}

func (m *bucketMap) levels() []Level {
	out := make([]Level, 0, len(m.volumes))
	for p, v := range m.volumes {
		out = append(out, Level{Price: p, Volume: v})
	}
	SortDescending(out)
	return out
}

// Engine accumulates per-price volume over a clearance interval aligned to
// the UTC day start of the first tick. Not safe for concurrent use.
type Engine struct {
	interval    int64
	step        float64
	pct         float64
	minLevels   int
	historySize int

	live      *bucketMap
	merged    *bucketMap
	lastClear int64
	started   bool

	history   []Snapshot
	observers []SnapshotFunc
}

// NewEngine creates an empty profile engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		interval:    DefaultClearInterval,
		step:        DefaultRoundingStep,
		pct:         DefaultValueAreaPct,
		historySize: DefaultHistorySize,
		live:        newBucketMap(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnSnapshot registers an observer run synchronously, in registration order,
// each time a profile completes.
func (e *Engine) OnSnapshot(fn SnapshotFunc) {
	if fn != nil {
		e.observers = append(e.observers, fn)
	}
}

// ProcessTick adds the tick's quantity and rolls the profile over once the
// clearance interval has elapsed. It reports whether a snapshot was emitted.
func (e *Engine) ProcessTick(t tick.Tick) bool {
	level := bar.RoundDown(t.Price, e.step)
	e.live.add(level, t.Qty)
	if e.merged != nil {
		e.merged.add(level, t.Qty)
	}
	if !e.started {
		e.lastClear = t.Time / msPerDay * msPerDay
		e.started = true
	}
	if t.Time-e.lastClear <= e.interval {
		return false
	}

	snap := e.build(e.live)
	snap.StartedAt = e.lastClear
	snap.EndedAt = t.Time
	snap.ClosedAtPrice = t.Price

	e.merged = e.live.clone()
	e.history = append(e.history, snap)
	if e.historySize > 0 && len(e.history) > e.historySize {
		e.history = append(e.history[:0:0], e.history[len(e.history)-e.historySize:]...)
	}
	e.live = newBucketMap()
	e.lastClear = t.Time

	for _, fn := range e.observers {
		fn(snap)
	}
	return true
}

func (e *Engine) build(m *bucketMap) Snapshot {
	levels := m.levels()
	if len(levels) == 0 {
		return Snapshot{}
	}
	va := ComputeValueArea(levels, e.pct, e.minLevels)
	s := Snapshot{
		VPOC:            levels[va.VPOCIndex].Price,
		VAH:             levels[va.VAHIndex].Price,
		VAL:             levels[va.VALIndex].Price,
		Max:             levels[0].Price,
		Min:             levels[len(levels)-1].Price,
		TotalVolume:     m.total,
		ValueAreaVolume: va.Volume,
		Degenerate:      va.Degenerate,
		Levels:          levels,
		VPOCIndex:       va.VPOCIndex,
		VAHIndex:        va.VAHIndex,
		VALIndex:        va.VALIndex,
	}
	s.Normality = Normality(s.ValueAreaLevels(), s.VPOC)
	return s
}

// Live returns the in-progress profile; ok is false before the first tick.
func (e *Engine) Live() (Snapshot, bool) {
	if len(e.live.volumes) == 0 {
		return Snapshot{}, false
	}
	s := e.build(e.live)
	s.StartedAt = e.lastClear
	return s, true
}

// MergedRecent returns the last completed profile merged with every tick
// since; ok is false until the first rollover.
func (e *Engine) MergedRecent() (Snapshot, bool) {
	if e.merged == nil {
		return Snapshot{}, false
	}
	return e.build(e.merged), true
}

// Last returns the most recent completed snapshot.
func (e *Engine) Last() (Snapshot, bool) {
	if len(e.history) == 0 {
		return Snapshot{}, false
	}
	return e.history[len(e.history)-1], true
}

// History returns completed snapshots, oldest first.
func (e *Engine) History() []Snapshot {
	out := make([]Snapshot, len(e.history))
	copy(out, e.history)
	return out
}
