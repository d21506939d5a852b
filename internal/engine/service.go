// Package engine wires the order-flow components into a single tick
// pipeline and exposes read-only views of its state.
package engine

import (
	"context"

	"orderflow-core/internal/analytics"
	"orderflow-core/internal/bar"
	"orderflow-core/internal/export"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/priceaction"
	"orderflow-core/internal/tick"
)

// Service defines the operations the API layer uses. Every view is a copy
// and safe to hold after the call returns.
type Service interface {
	// Tick processing
	Process(ctx context.Context, t tick.Tick) error

	// Chart queries
	Candles() []*bar.Bar
	Export() export.Candles
	Indications() []export.Indication

	// Analytics queries
	Profiles() ProfilesView
	PriceActions() []priceaction.Event
	Levels() []analytics.Level
	Volatility() VolatilityView
	Extremes() ExtremesView

	// Ledger queries
	Bets() BetsView
	Statistics() ledger.Report
	Streaks() StreaksView
	Samples() []ledger.Sample

	// System
	Status() Status
}

var _ Service = (*Pipeline)(nil)
