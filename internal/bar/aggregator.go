package bar

import (
	"errors"
	"fmt"
	"math"

	"orderflow-core/internal/anomaly"
	"orderflow-core/internal/tick"
)

// RefitInterval is how much bar time must pass before the anomaly scorers are
// refit on the retained history.
const RefitInterval int64 = 7 * 24 * 60 * 60 * 1000

// ErrInvalidTick rejects ticks that would corrupt bar accounting.
var ErrInvalidTick = errors.New("invalid tick")

// CloseFunc observes a bar at close. history holds every retained closed bar,
// oldest first, with closed as its last element. Neither may be retained past
// the call except through the Aggregator accessors.
type CloseFunc func(closed *Bar, history []*Bar)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClusterStep sets the cluster price bucket width.
func WithClusterStep(step float64) Option {
	return func(a *Aggregator) {
		if step > 0 {
			a.step = step
		}
	}
}

// WithHistoryLimit bounds the number of closed bars kept in memory; 0 keeps all.
func WithHistoryLimit(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.historyLimit = n
		}
	}
}

// WithRefitInterval overrides the scorer refit period (ms of bar time).
func WithRefitInterval(ms int64) Option {
	return func(a *Aggregator) {
		if ms > 0 {
			a.refitInterval = ms
		}
	}
}

// Aggregator owns the open bar and the closed-bar history. It is not safe for
// concurrent use; callers feed it from a single goroutine.
type Aggregator struct {
	delim         Delimiter
	step          float64
	refitInterval int64
	historyLimit  int

	scorers   anomaly.Set
	lastRefit int64

	current   *Bar
	closed    []*Bar
	nextID    uint64
	observers []CloseFunc
}

// NewAggregator creates an aggregator with an empty open bar.
func NewAggregator(d Delimiter, opts ...Option) *Aggregator {
	a := &Aggregator{
		delim:         d,
		step:          DefaultClusterStep,
		refitInterval: RefitInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.nextID = 1
	a.current = newBar(a.nextID, 0)
	return a
}

// OnClose registers an observer. Observers run synchronously, in registration
// order, before Supply returns.
func (a *Aggregator) OnClose(fn CloseFunc) {
	if fn != nil {
		a.observers = append(a.observers, fn)
	}
}

// Delimiter returns the active partitioning rule.
func (a *Aggregator) Delimiter() Delimiter { return a.delim }

// Current returns the open bar.
func (a *Aggregator) Current() *Bar { return a.current }

// Previous returns the most recently closed bar, or nil.
func (a *Aggregator) Previous() *Bar {
	if len(a.closed) == 0 {
		return nil
	}
	return a.closed[len(a.closed)-1]
}

// Bars returns the retained closed bars, oldest first.
func (a *Aggregator) Bars() []*Bar { return a.closed }

// Scorers returns the currently fitted anomaly scorers.
func (a *Aggregator) Scorers() anomaly.Set { return a.scorers }

// Supply applies one tick, closing the open bar when the rule says so. An
// overflow portion is resupplied to the fresh bar.
func (a *Aggregator) Supply(t tick.Tick) error {
	if t.Qty < 0 || math.IsNaN(t.Qty) || math.IsNaN(t.Price) || t.Price <= 0 {
		return fmt.Errorf("%w: id=%d price=%v qty=%v", ErrInvalidTick, t.ID, t.Price, t.Qty)
	}

	split := a.delim.Split(a.current, a.Previous(), t)
	if split.Fit == nil && split.Overflow != nil && a.current.Empty() {
		// A rule can never defer into an empty bar; take the tick whole.
		split = Split{Fit: &t}
	}
	if split.Fit != nil {
		a.current.apply(*split.Fit, a.step, &a.scorers)
	}
	if split.Overflow == nil && !split.Close {
		return nil
	}

	a.closeCurrent()
	if split.Overflow != nil {
		return a.Supply(*split.Overflow)
	}
	return nil
}

// Flush closes the open bar if it holds any ticks.
func (a *Aggregator) Flush() {
	if !a.current.Empty() {
		a.closeCurrent()
	}
}

func (a *Aggregator) closeCurrent() {
	b := a.current
	b.finalize()
	a.closed = append(a.closed, b)
	if a.historyLimit > 0 && len(a.closed) > a.historyLimit {
		drop := len(a.closed) - a.historyLimit
		a.closed = append(a.closed[:0:0], a.closed[drop:]...)
	}

	for _, fn := range a.observers {
		fn(b, a.closed)
	}

	if b.Time-a.lastRefit > a.refitInterval {
		a.Refit()
		a.lastRefit = b.Time
	}

	a.nextID++
	a.current = newBar(a.nextID, b.CVD)
}

// Refit recomputes the anomaly scorers from every retained closed bar: cluster
// volumes for the volume scorer and |volumeDelta| of divergent bars for the
// delta scorers.
func (a *Aggregator) Refit() {
	var volumes, negative, positive []float64
	for _, b := range a.closed {
		for _, c := range b.Clusters.Sorted() {
			volumes = append(volumes, c.Volume)
		}
		switch {
		case b.PriceDelta > 0 && b.VolumeDelta < 0:
			negative = append(negative, math.Abs(b.VolumeDelta))
		case b.PriceDelta < 0 && b.VolumeDelta > 0:
			positive = append(positive, math.Abs(b.VolumeDelta))
		}
	}
	a.scorers = anomaly.Set{
		Volume:     anomaly.Fit(volumes),
		PositiveVD: anomaly.Fit(positive),
		NegativeVD: anomaly.Fit(negative),
	}
}
