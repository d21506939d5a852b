package profile

import "sort"

// DefaultValueAreaPct is the one-sigma share of a normal distribution.
const DefaultValueAreaPct = 0.6827

// Level is the traded volume at one price bucket.
type Level struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// ValueArea is the result of expanding around the point of control. Indexes
// refer to the levels slice ordered by descending price, so VAHIndex <=
// VPOCIndex <= VALIndex.
type ValueArea struct {
	VPOCIndex int
	VAHIndex  int
	VALIndex  int
	Volume    float64
	Total     float64
	// Degenerate is set when one side had fewer than the minimum level count
	// and the area collapsed onto the point of control.
	Degenerate bool
}

// SortDescending orders levels by price, highest first.
func SortDescending(levels []Level) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
}

// ComputeValueArea expands from the highest-volume level, always consuming the
// larger neighbour, until pct of total volume is covered. On equal neighbour
// volumes the higher-price side is taken. levels must be sorted descending by
// price. minLevels (0 disables) is the number of levels each side of the point
// of control must have before an area is computed at all.
func ComputeValueArea(levels []Level, pct float64, minLevels int) ValueArea {
	if len(levels) == 0 {
		return ValueArea{}
	}

	total := 0.0
	poc := 0
	for i, l := range levels {
		total += l.Volume
		if l.Volume > levels[poc].Volume {
			poc = i
		}
	}

	va := ValueArea{VPOCIndex: poc, VAHIndex: poc, VALIndex: poc, Volume: levels[poc].Volume, Total: total}
	if minLevels > 0 && (poc < minLevels || len(levels)-1-poc < minLevels) {
		va.Degenerate = true
		return va
	}

	target := total * pct
	upper, lower := poc, poc // upper walks towards higher prices (lower index)
	last := len(levels) - 1
	for va.Volume < target && (upper > 0 || lower < last) {
		nextHigher := 0.0
		if upper > 0 {
			nextHigher = levels[upper-1].Volume
		}
		nextLower := 0.0
		if lower < last {
			nextLower = levels[lower+1].Volume
		}
		if upper > 0 && (nextHigher >= nextLower || lower == last) {
			upper--
			va.Volume += nextHigher
		} else {
			lower++
			va.Volume += nextLower
		}
	}
	va.VAHIndex = upper
	va.VALIndex = lower
	return va
}
