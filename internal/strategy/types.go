// Package strategy turns analytics state into bets.
package strategy

import (
	"context"

	"orderflow-core/internal/bar"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/ml"
	"orderflow-core/internal/tick"
)

// Input is what a strategy sees for one tick: the tick, the open bar and
// the most recently closed bar (nil before the first close).
type Input struct {
	Tick     tick.Tick
	Current  *bar.Bar
	Previous *bar.Bar
}

// Strategy is evaluated on every tick after the analytics are updated.
type Strategy interface {
	Name() string
	OnTick(ctx context.Context, in Input) error
}

// Placer is the ledger side a strategy needs.
type Placer interface {
	CanAffordBet() bool
	Money() float64
	Place(ctx context.Context, spec ledger.BetSpec) (ledger.Bet, error)
}

// Scorer gates candidate bets.
type Scorer interface {
	Predict(ctx context.Context, features map[string]float64) (ml.Prediction, error)
}
