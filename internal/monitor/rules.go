package monitor

import (
	"fmt"

	"orderflow-core/internal/ledger"
)

// LossStreakRule fires when a completed losing run reaches MaxLosses.
type LossStreakRule struct {
	MaxLosses int
}

func (r LossStreakRule) Check(s ledger.Streak) (bool, string) {
	if r.MaxLosses <= 0 || s.Type != ledger.Loss || s.Length < r.MaxLosses {
		return false, ""
	}
	return true, fmt.Sprintf("%d consecutive losses between %d and %d", s.Length, s.From, s.To)
}
