package ledger

import "orderflow-core/internal/tick"

// Outcome is a resolution type.
type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
)

// Deal is one resolved bet inside a streak.
type Deal struct {
	From       int64   `json:"from"`
	To         int64   `json:"to"`
	Enter      float64 `json:"enter"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

// Streak is a run of consecutive resolutions of the same type.
type Streak struct {
	Type   Outcome `json:"type"`
	From   int64   `json:"from"`
	To     int64   `json:"to"`
	Length int     `json:"length"`
	Deals  []Deal  `json:"deals"`
}

// StreakTracker closes a run whenever the resolution type changes.
type StreakTracker struct {
	streaks []Streak
	current Streak
}

func NewStreakTracker() *StreakTracker { return &StreakTracker{} }

// Record appends a resolution of bet at exit.
func (s *StreakTracker) Record(win bool, bet Bet, exit tick.Tick) {
	typ := Loss
	if win {
		typ = Win
	}
	if s.current.Type != "" && s.current.Type != typ {
		if s.current.Length > 0 {
			s.streaks = append(s.streaks, s.finished())
		}
		s.current = Streak{}
	}
	s.current.Type = typ
	s.current.Length++
	s.current.Deals = append(s.current.Deals, Deal{
		From:       bet.Tick.Time,
		To:         exit.Time,
		Enter:      bet.Tick.Price,
		StopLoss:   bet.StopLoss,
		TakeProfit: bet.TakeProfit,
	})
}

func (s *StreakTracker) finished() Streak {
	st := s.current
	st.From = st.Deals[0].From
	st.To = st.Deals[len(st.Deals)-1].To
	return st
}

// Completed returns closed runs, oldest first.
func (s *StreakTracker) Completed() []Streak {
	out := make([]Streak, len(s.streaks))
	copy(out, s.streaks)
	return out
}

// Current returns the open run, if any.
func (s *StreakTracker) Current() (Streak, bool) {
	if s.current.Length == 0 {
		return Streak{}, false
	}
	return s.finished(), true
}
