// Package analytics derives rolling order-flow state from closed bars,
// completed profiles and the tick count.
package analytics

import (
	"github.com/rs/zerolog"

	"orderflow-core/internal/bar"
	"orderflow-core/internal/indicators"
	"orderflow-core/internal/profile"
	"orderflow-core/internal/tick"
)

const (
	DefaultWarmupTicks      = 1_000_000
	DefaultVolatilityPeriod = 7
	DefaultTopClusterMin    = 5.0
	DefaultAvgTickPeriod    = 20

	prevLowMinBars       = 80
	bullishDeltaShare    = 0.41
	extremumHistoryLimit = 1000
	zeroDeltaFallback    = 0.001
)

// Config tunes the driver.
type Config struct {
	WarmupTicks      int64
	VolatilityPeriod int
	TopClusterMin    float64
	AvgTickPeriod    int
	LevelEpsilon     float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		WarmupTicks:      DefaultWarmupTicks,
		VolatilityPeriod: DefaultVolatilityPeriod,
		TopClusterMin:    DefaultTopClusterMin,
		AvgTickPeriod:    DefaultAvgTickPeriod,
		LevelEpsilon:     DefaultLevelEpsilon,
	}
}

// State is a read-only view of the driver.
type State struct {
	WarmUp               bool               `json:"isWarmUp"`
	Ticks                int64              `json:"ticks"`
	PrevLow              *bar.Bar           `json:"prevLow,omitempty"`
	LocalHigh            float64            `json:"localHigh"`
	LocalLow             float64            `json:"localLow"`
	AvgTickCount         float64            `json:"avgTickCount"`
	CVDToPriceDiffRatio  float64            `json:"cvdToPriceDiffRatio"`
	LatestVolumeDeltaSum float64            `json:"latestVolumeDeltaSum"`
	BullishDivergence    bool               `json:"isBullishDivergenceOnBearishCandle"`
	VolatilitySMA        float64            `json:"volatilitySma"`
	VolatilityStdDev     float64            `json:"volatilityStdDev"`
	Thresholds           Thresholds         `json:"thresholds"`
	Indicators           map[string]float64 `json:"indicators"`
}

// Driver owns every rolling tracker. Not safe for concurrent use.
type Driver struct {
	cfg    Config
	logger zerolog.Logger

	ticks  int64
	warmUp bool

	monthly    *MonthlyTopCandles
	volatility *Volatility
	highLow    *HighLow
	levels     *StrongLevels
	indicators *indicators.Engine

	prevLow    bar.Bar
	hasPrevLow bool

	localHigh, localLow float64
	hasLocal            bool

	tickCounts []int
	avgTicks   float64

	cvdToPriceDiffRatio  float64
	latestVolumeDeltaSum float64
	bullishDivergence    bool
}

// NewDriver builds a driver with the default indicator set.
func NewDriver(cfg Config, logger zerolog.Logger) *Driver {
	def := DefaultConfig()
	if cfg.VolatilityPeriod <= 0 {
		cfg.VolatilityPeriod = def.VolatilityPeriod
	}
	if cfg.AvgTickPeriod <= 0 {
		cfg.AvgTickPeriod = def.AvgTickPeriod
	}
	if cfg.LevelEpsilon <= 0 {
		cfg.LevelEpsilon = def.LevelEpsilon
	}
	vol := NewVolatility(cfg.VolatilityPeriod)
	return &Driver{
		cfg:        cfg,
		logger:     logger.With().Str("component", "analytics").Logger(),
		warmUp:     true,
		monthly:    NewMonthlyTopCandles(),
		volatility: vol,
		highLow:    NewHighLow(vol, extremumHistoryLimit),
		levels:     NewStrongLevels(cfg.LevelEpsilon),
		indicators: indicators.Default(),
	}
}

// OnTick counts ticks and ends warm-up once more than WarmupTicks were seen.
func (d *Driver) OnTick(tick.Tick) {
	d.ticks++
	if d.warmUp && d.ticks > d.cfg.WarmupTicks {
		d.warmUp = false
		d.logger.Info().Int64("ticks", d.ticks).Msg("🔥 warm-up complete")
	}
}

// OnSnapshot registers the completed profile's VPOC as a level.
func (d *Driver) OnSnapshot(s profile.Snapshot) {
	d.levels.Add(s.VPOC, s.EndedAt)
}

// OnBarClose updates every tracker. history ends with closed.
func (d *Driver) OnBarClose(closed *bar.Bar, history []*bar.Bar) {
	n := len(history)

	if d.monthly.Update(closed) {
		th := d.monthly.Thresholds()
		d.logger.Debug().
			Float64("volume", th.Volume).
			Float64("positive", th.PositiveDelta).
			Float64("negative", th.NegativeDelta).
			Msg("monthly anomaly thresholds updated")
	}
	Absorb(closed, d.monthly.Thresholds())
	d.volatility.Update(closed)
	d.highLow.Update(closed)

	if top := closed.Top(); top != nil && top.AnomalyScore >= d.cfg.TopClusterMin {
		d.levels.Add(top.Price, closed.Time)
	}
	if n >= 2 {
		d.levels.Check(closed, history[n-2])
	}

	// bars 5 to 14 back, counting the bar that opens next
	if n >= prevLowMinBars {
		window := history[n-14 : n-4]
		low := window[0]
		for _, b := range window[1:] {
			if b.Close < low.Close {
				low = b
			}
		}
		d.prevLow = *low
		d.hasPrevLow = true
	}

	d.indicators.Update(history)

	if n > 6 {
		var sum float64
		for _, b := range history[n-6 : n-1] {
			sum += b.VolumeDelta
		}
		d.latestVolumeDeltaSum = sum
	}
	if n >= 2 {
		prev := history[n-2]
		d.cvdToPriceDiffRatio = (closed.VolumeDelta / nonZero(prev.VolumeDelta)) /
			(nonZero(closed.PriceDelta) / nonZero(prev.PriceDelta))
	}

	d.updateLocal(closed)
	d.updateAvgTicks(closed)
	d.bullishDivergence = closed.VolumeDelta > 0 && closed.Volume > 0 &&
		closed.VolumeDelta/closed.Volume >= bullishDeltaShare
}

func nonZero(v float64) float64 {
	if v == 0 {
		return zeroDeltaFallback
	}
	return v
}

// updateLocal moves the local high only on a higher high with a higher low,
// and the local low only on a lower low with a lower high.
func (d *Driver) updateLocal(b *bar.Bar) {
	if !d.hasLocal {
		d.localHigh, d.localLow = b.High, b.Low
		d.hasLocal = true
	}
	if b.Low > d.localLow && b.High > d.localHigh {
		d.localHigh = b.High
	}
	if b.Low < d.localLow && b.High < d.localHigh {
		d.localLow = b.Low
	}
}

func (d *Driver) updateAvgTicks(b *bar.Bar) {
	d.tickCounts = append(d.tickCounts, b.TickCount)
	if len(d.tickCounts) > d.cfg.AvgTickPeriod {
		d.tickCounts = d.tickCounts[1:]
	}
	sum := 0
	for _, c := range d.tickCounts {
		sum += c
	}
	d.avgTicks = float64(sum) / float64(len(d.tickCounts))
}

func (d *Driver) IsWarmUp() bool                { return d.warmUp }
func (d *Driver) Levels() *StrongLevels         { return d.levels }
func (d *Driver) HighLow() *HighLow             { return d.highLow }
func (d *Driver) Volatility() *Volatility       { return d.volatility }
func (d *Driver) Monthly() *MonthlyTopCandles   { return d.monthly }
func (d *Driver) Indicator(name string) float64 { return d.indicators.Value(name) }

// PrevLow returns the lowest-close bar of the lookback window.
func (d *Driver) PrevLow() (bar.Bar, bool) { return d.prevLow, d.hasPrevLow }

// State snapshots the driver for reporting and feature extraction.
func (d *Driver) State() State {
	s := State{
		WarmUp:               d.warmUp,
		Ticks:                d.ticks,
		LocalHigh:            d.localHigh,
		LocalLow:             d.localLow,
		AvgTickCount:         d.avgTicks,
		CVDToPriceDiffRatio:  d.cvdToPriceDiffRatio,
		LatestVolumeDeltaSum: d.latestVolumeDeltaSum,
		BullishDivergence:    d.bullishDivergence,
		VolatilitySMA:        d.volatility.SMA(),
		VolatilityStdDev:     d.volatility.StdDev(),
		Thresholds:           d.monthly.Thresholds(),
		Indicators:           d.indicators.Values(),
	}
	if d.hasPrevLow {
		pl := d.prevLow
		s.PrevLow = &pl
	}
	return s
}
