package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"orderflow-core/internal/analytics"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/profile"
)

// Params tunes the delta-divergence rule.
type Params struct {
	MinPriceDelta      float64           `yaml:"min_price_delta"`
	BalanceOrientation float64           `yaml:"balance_orientation"`
	DistanceFactor     float64           `yaml:"distance_factor"`
	Commission         ledger.Commission `yaml:"commission"`
}

// DefaultParams returns the standard tuning.
func DefaultParams() Params {
	return Params{
		MinPriceDelta:      0.055,
		BalanceOrientation: 1000,
		DistanceFactor:     4,
		Commission:         ledger.DefaultCommission,
	}
}

// DeltaDivergence buys when the previous bar closed below the recent low
// bar while cumulative delta held above it, and the open bar is already
// rising. At most one bet is placed per bar.
type DeltaDivergence struct {
	symbol   string
	params   Params
	driver   *analytics.Driver
	profiles *profile.Engine
	placer   Placer
	scorer   Scorer
	logger   zerolog.Logger

	tradedBar uint64
	traded    bool
}

// NewDeltaDivergence wires the rule. scorer may be nil.
func NewDeltaDivergence(symbol string, p Params, d *analytics.Driver, profiles *profile.Engine, placer Placer, scorer Scorer, logger zerolog.Logger) *DeltaDivergence {
	return &DeltaDivergence{
		symbol:   symbol,
		params:   p,
		driver:   d,
		profiles: profiles,
		placer:   placer,
		scorer:   scorer,
		logger:   logger.With().Str("component", "strategy").Str("strategy", "delta_divergence").Logger(),
	}
}

func (s *DeltaDivergence) Name() string { return "delta_divergence" }

// OnTick evaluates the rule. Only execution failures are returned.
func (s *DeltaDivergence) OnTick(ctx context.Context, in Input) error {
	if s.driver.IsWarmUp() || !s.placer.CanAffordBet() {
		return nil
	}
	cur, prev := in.Current, in.Previous
	if cur == nil || prev == nil || (s.traded && s.tradedBar == cur.ID) {
		return nil
	}
	low, ok := s.driver.PrevLow()
	if !ok {
		return nil
	}
	if !(low.Close > prev.Close && low.CVD < prev.CVD && cur.PriceDelta > s.params.MinPriceDelta) {
		return nil
	}
	s.tradedBar, s.traded = cur.ID, true

	ex, ok := ledger.BuyExodus(in.Tick.Price, nil, nil, s.params.BalanceOrientation, s.params.DistanceFactor, s.params.Commission)
	if !ok {
		s.logger.Debug().Float64("price", in.Tick.Price).Msg("stake below one lot, skipping bet")
		return nil
	}
	live, _ := s.profiles.Live()
	features := Features(in, ex, live, s.driver)

	if s.scorer != nil {
		pred, err := s.scorer.Predict(ctx, features)
		if err != nil {
			s.logger.Warn().Err(err).Uint64("tick", in.Tick.ID).Msg("scorer unavailable, skipping bet")
			return nil
		}
		if pred.Class != 1 {
			s.logger.Debug().Uint64("tick", in.Tick.ID).Int("class", pred.Class).Msg("bet rejected by scorer")
			return nil
		}
	}

	var logRatio float64
	if prev.CVD != 0 {
		logRatio = low.CVD / prev.CVD
	}
	spec := ledger.BetSpec{
		ID:         in.Tick.ID,
		Symbol:     s.symbol,
		Side:       ledger.Buy,
		Tick:       in.Tick,
		BetSize:    s.placer.Money(),
		Risk:       ex.Risk,
		Reward:     ex.Reward,
		StopLoss:   ex.StopLoss,
		TakeProfit: ex.TakeProfit,
		Log:        logRatio,
		Features:   features,
	}
	bet, err := s.placer.Place(ctx, spec)
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrDuplicateBet):
		s.logger.Debug().Err(err).Msg("bet not placed")
		return nil
	case err != nil:
		return fmt.Errorf("place bet %d: %w", spec.ID, err)
	}
	s.logger.Info().
		Uint64("id", bet.ID).
		Float64("price", in.Tick.Price).
		Float64("sl", bet.StopLoss).
		Float64("tp", bet.TakeProfit).
		Float64("size", bet.BetSize).
		Msg("📈 buy on delta divergence")
	return nil
}
