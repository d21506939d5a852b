package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"orderflow-core/internal/analytics"
	"orderflow-core/internal/bar"
	"orderflow-core/internal/events"
	"orderflow-core/internal/export"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/monitor"
	"orderflow-core/internal/priceaction"
	"orderflow-core/internal/profile"
	"orderflow-core/internal/strategy"
	"orderflow-core/internal/tick"
)

// broadcastBars is the candle tail published on every bar close.
const broadcastBars = 300

// Pipeline feeds ticks through every component in a fixed order. Process is
// single-writer; the view accessors may run concurrently with it.
type Pipeline struct {
	cfg     Config
	logger  zerolog.Logger
	bus     *events.Bus
	metrics *monitor.PipelineMetrics

	mu         sync.RWMutex
	agg        *bar.Aggregator
	profiles   *profile.Engine
	driver     *analytics.Driver
	machine    *priceaction.Machine
	ledger     *ledger.Ledger
	executed   *ledger.ExecutedLedger
	stats      *ledger.Statistics
	strategies []strategy.Strategy

	ticks       uint64
	lastTick    *tick.Tick
	indications []export.Indication
	streakCount int
	onStreak    []func(ledger.Streak)

	ticksTotal    prometheus.Counter
	barsTotal     prometheus.Counter
	profilesTotal prometheus.Counter
}

// NewPipeline builds the component graph. Observers are registered in the
// order the components depend on each other: analytics before metrics and
// broadcast, statistics before indications.
func NewPipeline(cfg Config, deps Deps, logger zerolog.Logger) (*Pipeline, error) {
	if cfg.Delimiter == nil {
		return nil, fmt.Errorf("%w: nil", bar.ErrBadDelimiter)
	}
	if deps.Metrics == nil {
		deps.Metrics = monitor.NewPipelineMetrics()
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  logger.With().Str("component", "pipeline").Str("symbol", cfg.Symbol).Logger(),
		bus:     deps.Bus,
		metrics: deps.Metrics,

		agg: bar.NewAggregator(cfg.Delimiter,
			bar.WithClusterStep(cfg.ClusterStep),
			bar.WithHistoryLimit(cfg.BarHistory),
		),
		profiles: profile.NewEngine(
			profile.WithClearInterval(cfg.ProfileInterval),
			profile.WithRoundingStep(cfg.ClusterStep),
			profile.WithValueAreaPct(cfg.ValueAreaPct),
			profile.WithHistorySize(cfg.ProfileHistory),
		),
		driver:  analytics.NewDriver(cfg.Analytics, logger),
		machine: priceaction.NewMachine(cfg.EventHistory),
		ledger:  ledger.New(cfg.InitialBalance, cfg.MinBet),

		ticksTotal:    monitor.TicksTotal.WithLabelValues(cfg.Symbol),
		barsTotal:     monitor.BarsTotal.WithLabelValues(cfg.Symbol),
		profilesTotal: monitor.ProfilesTotal.WithLabelValues(cfg.Symbol),
	}

	p.agg.OnClose(p.driver.OnBarClose)
	p.agg.OnClose(p.onBarClose)

	p.profiles.OnSnapshot(p.driver.OnSnapshot)
	p.profiles.OnSnapshot(p.machine.OnProfile)
	p.profiles.OnSnapshot(p.onSnapshot)

	p.machine.OnEvent(func(ev priceaction.Event) {
		monitor.PriceActionsTotal.WithLabelValues(cfg.Symbol, string(ev.Name)).Inc()
	})

	p.stats = ledger.NewStatistics(p.ledger)
	p.ledger.OnEvent(p.onLedgerEvent)

	var placer strategy.Placer = p.ledger
	if deps.Executor != nil {
		p.executed = ledger.NewExecutedLedger(p.ledger, deps.Executor, logger)
		placer = p.executed
	}
	p.strategies = []strategy.Strategy{
		strategy.NewDeltaDivergence(cfg.Symbol, cfg.Strategy, p.driver, p.profiles, placer, deps.Scorer, logger),
	}
	return p, nil
}

// Process applies one tick. Invalid ticks are logged and skipped; a strategy
// execution failure is returned.
func (p *Pipeline) Process(ctx context.Context, t tick.Tick) error {
	timer := monitor.NewTimer(p.metrics.TickLatency)
	p.mu.Lock()
	defer p.mu.Unlock()
	defer timer.Stop()

	if err := p.agg.Supply(t); err != nil {
		if errors.Is(err, bar.ErrInvalidTick) {
			p.metrics.IncrementErrors()
			p.logger.Warn().Err(err).Msg("⚠️ skipping tick")
			return nil
		}
		return err
	}
	p.profiles.ProcessTick(t)
	p.driver.OnTick(t)
	p.machine.OnTick(t)

	in := strategy.Input{Tick: t, Current: p.agg.Current(), Previous: p.agg.Previous()}
	for _, s := range p.strategies {
		if err := s.OnTick(ctx, in); err != nil {
			p.metrics.IncrementErrors()
			return fmt.Errorf("strategy %s: %w", s.Name(), err)
		}
	}
	p.ledger.ProcessTick(t)

	p.ticks++
	last := t
	p.lastTick = &last
	p.ticksTotal.Inc()
	p.metrics.IncrementTicks(time.Now())
	return nil
}

// Flush closes the open bar if it holds ticks.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agg.Flush()
}

// SyncBalance replaces the ledger balance with the executor's. It is a no-op
// without an executor.
func (p *Pipeline) SyncBalance(ctx context.Context) error {
	if p.executed == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executed.SyncBalance(ctx)
}

// Hooks run synchronously inside Process, after the pipeline's own
// observers. They must not call back into the pipeline's accessors.

func (p *Pipeline) OnBarClose(fn bar.CloseFunc)           { p.agg.OnClose(fn) }
func (p *Pipeline) OnSnapshot(fn profile.SnapshotFunc)    { p.profiles.OnSnapshot(fn) }
func (p *Pipeline) OnPriceEvent(fn priceaction.EventFunc) { p.machine.OnEvent(fn) }
func (p *Pipeline) OnLedgerEvent(fn ledger.EventFunc)     { p.ledger.OnEvent(fn) }
func (p *Pipeline) OnStreak(fn func(ledger.Streak))       { p.onStreak = append(p.onStreak, fn) }

// Ledger exposes the ledger for wiring notifiers before processing starts.
func (p *Pipeline) Ledger() *ledger.Ledger { return p.ledger }

func (p *Pipeline) Metrics() *monitor.PipelineMetrics { return p.metrics }

func (p *Pipeline) onBarClose(closed *bar.Bar, _ []*bar.Bar) {
	p.barsTotal.Inc()
	p.metrics.IncrementBars()
	p.logger.Debug().
		Uint64("bar", closed.ID).
		Float64("close", closed.Close).
		Float64("volume", closed.Volume).
		Float64("delta", closed.VolumeDelta).
		Msg("bar closed")
	p.publishLocked()
}

func (p *Pipeline) onSnapshot(s profile.Snapshot) {
	p.profilesTotal.Inc()
	p.metrics.IncrementProfiles()
	p.logger.Info().
		Float64("vpoc", s.VPOC).
		Float64("vah", s.VAH).
		Float64("val", s.VAL).
		Float64("normality", s.Normality).
		Msg("📊 volume profile completed")
}

func (p *Pipeline) onLedgerEvent(ev ledger.Event) {
	monitor.BetEventsTotal.WithLabelValues(p.cfg.Symbol, string(ev.Kind)).Inc()

	switch ev.Kind {
	case ledger.EventBetNew:
		p.metrics.IncrementBets()
		p.indications = append(p.indications, export.Indication{
			Type:  string(ev.Bet.Side),
			Tick:  ev.Bet.Tick,
			BetID: ev.Bet.ID,
		})
	case ledger.EventTakeProfit, ledger.EventStopLoss:
		suffix := "StopLoss"
		if ev.Kind == ledger.EventTakeProfit {
			suffix = "TakeProfit"
		}
		at := ev.Bet.Tick
		if ev.Bet.ExitTick != nil {
			at = *ev.Bet.ExitTick
		}
		p.indications = append(p.indications, export.Indication{
			Type:  string(ev.Bet.Side) + suffix,
			Tick:  at,
			BetID: ev.Bet.ID,
		})
		p.checkStreak()
	}
}

// checkStreak reports a run the moment the tracker completes it.
func (p *Pipeline) checkStreak() {
	completed := p.ledger.Streaks().Completed()
	if len(completed) == p.streakCount {
		return
	}
	p.streakCount = len(completed)
	s := completed[len(completed)-1]
	if p.bus != nil {
		p.bus.Publish(events.EventStreakClosed, s)
	}
	for _, fn := range p.onStreak {
		fn(s)
	}
}

// Broadcast publishes every broadcast view on the bus.
func (p *Pipeline) Broadcast() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.publishLocked()
}

func (p *Pipeline) publishLocked() {
	if p.bus == nil {
		return
	}
	candles := p.candlesLocked()
	if len(candles) > broadcastBars {
		candles = candles[len(candles)-broadcastBars:]
	}
	p.bus.Publish(events.EventCandles, candles)
	p.bus.Publish(events.EventPriceLevels, p.driver.Levels().Levels())
	p.bus.Publish(events.EventStreaks, p.streaksLocked())
	p.bus.Publish(events.EventVolumeProfiles, p.profilesLocked())
	p.bus.Publish(events.EventPriceActions, p.machine.Log())
	p.bus.Publish(events.EventVolatility, p.volatilityLocked())
	p.bus.Publish(events.EventExtremum, p.extremesLocked())
}

// Candles returns the closed bars followed by a copy of the open bar.
func (p *Pipeline) Candles() []*bar.Bar {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candlesLocked()
}

func (p *Pipeline) candlesLocked() []*bar.Bar {
	closed := p.agg.Bars()
	out := make([]*bar.Bar, 0, len(closed)+1)
	out = append(out, closed...)
	// inside a close observer the current bar is the one just closed
	if cur := p.agg.Current(); !cur.Empty() && !cur.Closed {
		out = append(out, cur.Clone())
	}
	return out
}

// Export returns the chart payload.
func (p *Pipeline) Export() export.Candles {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return export.Candles{
		Candles:     p.candlesLocked(),
		Statistics:  p.stats.Report(),
		Indications: append([]export.Indication(nil), p.indications...),
	}
}

func (p *Pipeline) Indications() []export.Indication {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]export.Indication(nil), p.indications...)
}

func (p *Pipeline) Statistics() ledger.Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats.Report()
}

func (p *Pipeline) Profiles() ProfilesView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profilesLocked()
}

func (p *Pipeline) profilesLocked() ProfilesView {
	v := ProfilesView{History: p.profiles.History()}
	if live, ok := p.profiles.Live(); ok {
		v.Live = &live
	}
	if merged, ok := p.profiles.MergedRecent(); ok {
		v.Merged = &merged
	}
	return v
}

func (p *Pipeline) PriceActions() []priceaction.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.machine.Log()
}

func (p *Pipeline) Bets() BetsView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return BetsView{Active: p.ledger.Active(), Closed: p.ledger.Closed()}
}

func (p *Pipeline) Streaks() StreaksView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streaksLocked()
}

func (p *Pipeline) streaksLocked() StreaksView {
	v := StreaksView{Completed: p.ledger.Streaks().Completed()}
	if cur, ok := p.ledger.Streaks().Current(); ok {
		cur.Deals = append([]ledger.Deal(nil), cur.Deals...)
		v.Current = &cur
	}
	return v
}

func (p *Pipeline) Samples() []ledger.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.Samples()
}

func (p *Pipeline) Levels() []analytics.Level {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.driver.Levels().Levels()
}

func (p *Pipeline) Volatility() VolatilityView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.volatilityLocked()
}

func (p *Pipeline) volatilityLocked() VolatilityView {
	v := p.driver.Volatility()
	return VolatilityView{SMA: v.SMA(), StdDev: v.StdDev()}
}

func (p *Pipeline) Extremes() ExtremesView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.extremesLocked()
}

func (p *Pipeline) extremesLocked() ExtremesView {
	hl := p.driver.HighLow()
	return ExtremesView{Highs: hl.Highs(), Lows: hl.Lows()}
}

func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Status{
		Symbol:      p.cfg.Symbol,
		Delimiter:   string(p.cfg.Delimiter.Kind()),
		Ticks:       p.ticks,
		ClosedBars:  len(p.agg.Bars()),
		OpenBar:     p.agg.Current().ID,
		Money:       p.ledger.Money(),
		ActiveBets:  len(p.ledger.Active()),
		PriceAction: p.machine.State(),
		Analytics:   p.driver.State(),
	}
	if p.lastTick != nil {
		last := *p.lastTick
		s.LastTick = &last
	}
	return s
}
