package analytics

import (
	"math"
	"sort"

	"orderflow-core/internal/bar"
)

// DefaultLevelEpsilon is the distance within which a bar touches a level.
const DefaultLevelEpsilon = 0.02 * 0.5

// Level is a price that has been tested one or more times.
type Level struct {
	Price float64 `json:"price"`
	Tests []int64 `json:"tests"`
}

// StrongLevels keeps price levels and counts rejections from them.
type StrongLevels struct {
	eps    float64
	byKey  map[float64]*Level
	sorted []*Level
}

func NewStrongLevels(eps float64) *StrongLevels {
	return &StrongLevels{eps: eps, byKey: make(map[float64]*Level)}
}

// Add records a test of price at t, creating the level if needed.
func (s *StrongLevels) Add(price float64, t int64) {
	if l, ok := s.byKey[price]; ok {
		l.Tests = append(l.Tests, t)
		return
	}
	l := &Level{Price: price, Tests: []int64{t}}
	s.byKey[price] = l
	i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i].Price >= price })
	s.sorted = append(s.sorted, nil)
	copy(s.sorted[i+1:], s.sorted[i:])
	s.sorted[i] = l
}

// Check adds a test to every level that prevPrev touched and prev then left
// by more than epsilon in the rejecting direction.
func (s *StrongLevels) Check(prev, prevPrev *bar.Bar) {
	for _, l := range s.sorted {
		if math.Abs(prevPrev.Low-l.Price) < s.eps && prev.Low-l.Price > s.eps {
			l.Tests = append(l.Tests, prev.Time)
		}
		if math.Abs(prevPrev.High-l.Price) < s.eps && l.Price-prev.High > s.eps {
			l.Tests = append(l.Tests, prev.Time)
		}
	}
}

// StrongestBetween returns the level in [lo, hi] with the most tests. Ties
// go to the lower price.
func (s *StrongLevels) StrongestBetween(lo, hi float64) (Level, bool) {
	var best *Level
	for _, l := range s.sorted {
		if l.Price > hi {
			break
		}
		if l.Price >= lo && (best == nil || len(l.Tests) > len(best.Tests)) {
			best = l
		}
	}
	if best == nil {
		return Level{}, false
	}
	return copyLevel(best), true
}

// Levels returns all levels in ascending price order.
func (s *StrongLevels) Levels() []Level {
	out := make([]Level, len(s.sorted))
	for i, l := range s.sorted {
		out[i] = copyLevel(l)
	}
	return out
}

func copyLevel(l *Level) Level {
	return Level{Price: l.Price, Tests: append([]int64(nil), l.Tests...)}
}
