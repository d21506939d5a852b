package analytics

import (
	"math"

	"orderflow-core/internal/bar"
)

// Absorb annotates wick clusters where heavy volume traded against the
// wick direction. Upper-wick buying scores positive, lower-wick selling
// negative. The bar keeps the score of the last matching cluster.
func Absorb(b *bar.Bar, th Thresholds) {
	if !th.Ready {
		return
	}
	for _, c := range b.Clusters.Sorted() {
		switch {
		case c.Position == bar.PositionUpperWick && c.Volume >= th.Volume && c.VolumeDelta >= th.PositiveDelta:
			c.AbsorptionScore = math.Log(c.Volume + c.VolumeDelta)
			b.Absorption = c.AbsorptionScore
		case c.Position == bar.PositionLowerWick && c.Volume >= th.Volume && c.VolumeDelta <= th.NegativeDelta:
			c.AbsorptionScore = -math.Log(c.Volume + math.Abs(c.VolumeDelta))
			b.Absorption = c.AbsorptionScore
		}
	}
}
