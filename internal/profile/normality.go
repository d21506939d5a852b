package profile

import "math"

// Normality scores how closely a profile resembles a normal distribution
// centred on vpoc. The result is the geometric mean of four components in
// [0,1]: closeness of mean and median to vpoc, skewness, excess kurtosis and
// the share of volume within one standard deviation. Fewer than two levels
// score 0; a profile with no price variation scores 1.
func Normality(levels []Level, vpoc float64) float64 {
	if len(levels) < 2 {
		return 0
	}

	total, weighted := 0.0, 0.0
	for _, l := range levels {
		total += l.Volume
		weighted += l.Price * l.Volume
	}
	if total <= 0 {
		return 0
	}
	mean := weighted / total

	variance := 0.0
	for _, l := range levels {
		d := l.Price - mean
		variance += l.Volume * d * d
	}
	variance /= total
	std := math.Sqrt(variance)
	if std == 0 {
		return 1
	}

	var skewSum, kurtSum float64
	for _, l := range levels {
		z := (l.Price - mean) / std
		skewSum += l.Volume * z * z * z
		kurtSum += l.Volume * z * z * z * z
	}
	skew := skewSum / total
	excessKurt := kurtSum/total - 3

	median := levels[len(levels)-1].Price
	cum, half := 0.0, total/2
	for _, l := range levels {
		cum += l.Volume
		if cum >= half {
			median = l.Price
			break
		}
	}

	central := 0.0
	for _, l := range levels {
		if l.Price >= mean-std && l.Price <= mean+std {
			central += l.Volume
		}
	}
	centralFrac := central / total

	closeness := math.Exp(-(sq(mean-vpoc) + sq(median-vpoc) + sq(mean-median)) / (3 * variance))
	skewScore := math.Exp(-sq(skew))
	kurtScore := math.Exp(-sq(excessKurt))
	volumeScore := math.Exp(-sq(centralFrac-DefaultValueAreaPct) / 0.01)

	return math.Pow(closeness*skewScore*kurtScore*volumeScore, 0.25)
}

func sq(v float64) float64 { return v * v }
