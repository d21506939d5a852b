package engine

import (
	"orderflow-core/internal/analytics"
	"orderflow-core/internal/bar"
	"orderflow-core/internal/events"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/monitor"
	"orderflow-core/internal/priceaction"
	"orderflow-core/internal/profile"
	"orderflow-core/internal/strategy"
	"orderflow-core/internal/tick"
)

// Config holds the configuration for building a pipeline.
type Config struct {
	Symbol    string
	Delimiter bar.Delimiter

	ClusterStep     float64
	BarHistory      int
	ProfileInterval int64
	ValueAreaPct    float64
	ProfileHistory  int
	EventHistory    int

	Analytics analytics.Config
	Strategy  strategy.Params

	InitialBalance float64
	MinBet         float64
}

// DefaultConfig returns a config for symbol and d with the standard tuning.
func DefaultConfig(symbol string, d bar.Delimiter) Config {
	return Config{
		Symbol:          symbol,
		Delimiter:       d,
		ClusterStep:     bar.DefaultClusterStep,
		BarHistory:      5000,
		ProfileInterval: profile.DefaultClearInterval,
		ValueAreaPct:    profile.DefaultValueAreaPct,
		ProfileHistory:  profile.DefaultHistorySize,
		EventHistory:    10000,
		Analytics:       analytics.DefaultConfig(),
		Strategy:        strategy.DefaultParams(),
		InitialBalance:  1000,
		MinBet:          10,
	}
}

// Deps are the optional collaborators of a pipeline.
type Deps struct {
	// Scorer gates strategy bets; nil accepts every candidate.
	Scorer strategy.Scorer
	// Executor mirrors bets onto an exchange; nil keeps the ledger on paper.
	Executor ledger.Executor
	// Bus receives broadcast views on every bar close and completed streaks.
	Bus     *events.Bus
	Metrics *monitor.PipelineMetrics
}

// Status is the health view of a pipeline.
type Status struct {
	Symbol      string            `json:"symbol"`
	Delimiter   string            `json:"delimiter"`
	Ticks       uint64            `json:"ticks"`
	LastTick    *tick.Tick        `json:"lastTick,omitempty"`
	ClosedBars  int               `json:"closedBars"`
	OpenBar     uint64            `json:"openBar"`
	Money       float64           `json:"money"`
	ActiveBets  int               `json:"activeBets"`
	PriceAction priceaction.State `json:"priceAction"`
	Analytics   analytics.State   `json:"analytics"`
}

// ProfilesView is the completed profile history plus the in-progress views.
type ProfilesView struct {
	History []profile.Snapshot `json:"history"`
	Live    *profile.Snapshot  `json:"live,omitempty"`
	Merged  *profile.Snapshot  `json:"merged,omitempty"`
}

// BetsView lists open and resolved bets.
type BetsView struct {
	Active []ledger.Bet `json:"active"`
	Closed []ledger.Bet `json:"closed"`
}

// StreaksView lists completed runs and the open one.
type StreaksView struct {
	Completed []ledger.Streak `json:"completed"`
	Current   *ledger.Streak  `json:"current,omitempty"`
}

// VolatilityView is the rolling mid-price band.
type VolatilityView struct {
	SMA    float64 `json:"sma"`
	StdDev float64 `json:"stdDev"`
}

// ExtremesView lists recorded volatility extremes.
type ExtremesView struct {
	Highs []analytics.Extremum `json:"highs"`
	Lows  []analytics.Extremum `json:"lows"`
}
