package analytics

import (
	"math"

	"orderflow-core/internal/bar"
)

// Volatility tracks a rolling SMA of the bar mid price and the deviation of
// mid prices around it.
type Volatility struct {
	period   int
	window   []float64 // high+low of the last period+1 bars
	total    int
	smaSum   float64
	sqDevSum float64
	sma      float64
	stdDev   float64
}

func NewVolatility(period int) *Volatility {
	if period < 1 {
		period = 1
	}
	return &Volatility{period: period}
}

func (v *Volatility) SMA() float64    { return v.sma }
func (v *Volatility) StdDev() float64 { return v.stdDev }

// Update folds one closed bar.
func (v *Volatility) Update(b *bar.Bar) {
	hl := b.High + b.Low
	v.window = append(v.window, hl)
	if len(v.window) > v.period+1 {
		v.window = v.window[1:]
	}
	v.total++
	count := v.total
	if count > v.period {
		count = v.period
	}

	prevSMA := v.sma
	rolled := v.total > v.period
	if rolled {
		v.smaSum += hl - v.window[0]
	} else {
		v.smaSum += hl
	}
	v.sma = v.smaSum / float64(count*2)

	dev := hl/2 - v.sma
	if rolled {
		old := v.window[0]/2 - prevSMA
		v.sqDevSum -= old * old
	}
	v.sqDevSum += dev * dev

	const epsilon = 1e-10
	v.stdDev = math.Sqrt((math.Abs(v.sqDevSum) + epsilon) / float64(count))
}
