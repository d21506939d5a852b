package bar

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"orderflow-core/internal/tick"
)

// ErrBadDelimiter is returned for descriptors outside the kind:size grammar.
var ErrBadDelimiter = errors.New("invalid delimiter descriptor")

// Kind names a partitioning rule.
type Kind string

const (
	KindVolume      Kind = "volume"
	KindQuoteVolume Kind = "qoutevolume"
	KindTick        Kind = "tick"
	KindTime        Kind = "time"
	KindPrice       Kind = "price"
	KindRange       Kind = "rangexv"
)

// RangeStep is the price grid for adaptive range bars.
const RangeStep = 0.001

// sizeTolerance absorbs float drift when cumulative quantities hit a size exactly.
const sizeTolerance = 1e-9

// Split is a rule's decision for one tick. Fit is applied to the current bar;
// when Overflow is set, or Close is true, the bar is closed afterwards and
// Overflow is resupplied to the next one. A nil Fit defers the whole tick.
type Split struct {
	Fit      *tick.Tick
	Overflow *tick.Tick
	Close    bool
}

// Delimiter decides how an incoming tick fits the current bar. prev is the
// last closed bar, nil before the first close.
type Delimiter interface {
	Kind() Kind
	Split(cur, prev *Bar, t tick.Tick) Split
}

var descriptorRe = regexp.MustCompile(`^(qoutevolume|quotevolume|volume|min|sec|hour|tick|price|rangexv):(.+)$`)

// ParseDelimiter builds a rule from a "kind:size" descriptor such as
// "volume:1000", "min:5" or "rangexv:3". Time units are converted to ms.
func ParseDelimiter(descriptor string) (Delimiter, error) {
	m := descriptorRe.FindStringSubmatch(strings.TrimSpace(strings.ToLower(descriptor)))
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrBadDelimiter, descriptor)
	}
	size, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
	if err != nil || size <= 0 || math.IsInf(size, 0) || math.IsNaN(size) {
		return nil, fmt.Errorf("%w: size %q", ErrBadDelimiter, m[2])
	}

	switch m[1] {
	case "volume":
		return VolumeDelimiter{Size: size}, nil
	case "qoutevolume", "quotevolume":
		return QuoteVolumeDelimiter{Size: size}, nil
	case "tick":
		return TickDelimiter{Size: size}, nil
	case "sec":
		return TimeDelimiter{Size: int64(size * 1000)}, nil
	case "min":
		return TimeDelimiter{Size: int64(size * 60_000)}, nil
	case "hour":
		return TimeDelimiter{Size: int64(size * 3_600_000)}, nil
	case "price":
		return PriceDelimiter{Size: size}, nil
	case "rangexv":
		return RangeDelimiter{XV: size}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrBadDelimiter, descriptor)
}

// VolumeDelimiter closes a bar once it holds Size base quantity, splitting the
// tick that crosses the boundary.
type VolumeDelimiter struct{ Size float64 }

func (VolumeDelimiter) Kind() Kind { return KindVolume }

func (d VolumeDelimiter) Split(cur, _ *Bar, t tick.Tick) Split {
	total := cur.Volume + t.Qty
	if total < d.Size-sizeTolerance {
		return Split{Fit: &t}
	}
	if math.Abs(total-d.Size) <= sizeTolerance {
		return Split{Fit: &t, Close: true}
	}
	over := total - d.Size
	fit, rest := t, t
	fit.Qty = t.Qty - over
	fit.QuoteQty = t.QuoteQty - over*t.Price
	rest.Qty = over
	rest.QuoteQty = over * t.Price
	return splitOrDefer(fit, rest)
}

// QuoteVolumeDelimiter closes a bar once it holds Size notional.
type QuoteVolumeDelimiter struct{ Size float64 }

func (QuoteVolumeDelimiter) Kind() Kind { return KindQuoteVolume }

func (d QuoteVolumeDelimiter) Split(cur, _ *Bar, t tick.Tick) Split {
	total := cur.QuoteVolume + t.QuoteQty
	if total < d.Size-sizeTolerance {
		return Split{Fit: &t}
	}
	if math.Abs(total-d.Size) <= sizeTolerance {
		return Split{Fit: &t, Close: true}
	}
	over := total - d.Size
	fit, rest := t, t
	fit.QuoteQty = t.QuoteQty - over
	fit.Qty = t.Qty - over/t.Price
	rest.QuoteQty = over
	rest.Qty = over / t.Price
	return splitOrDefer(fit, rest)
}

func splitOrDefer(fit, rest tick.Tick) Split {
	if fit.Qty <= 0 {
		return Split{Overflow: &rest}
	}
	return Split{Fit: &fit, Overflow: &rest}
}

// TickDelimiter closes a bar after Size ticks.
type TickDelimiter struct{ Size float64 }

func (TickDelimiter) Kind() Kind { return KindTick }

func (d TickDelimiter) Split(cur, _ *Bar, t tick.Tick) Split {
	if float64(cur.TickCount) >= d.Size {
		return Split{Overflow: &t}
	}
	return Split{Fit: &t, Close: float64(cur.TickCount+1) >= d.Size}
}

// TimeDelimiter closes a bar when a tick arrives more than Size ms after the
// bar's first tick. The boundary itself still fits.
type TimeDelimiter struct{ Size int64 }

func (TimeDelimiter) Kind() Kind { return KindTime }

func (d TimeDelimiter) Split(cur, _ *Bar, t tick.Tick) Split {
	if cur.Empty() || t.Time-cur.Time <= d.Size {
		return Split{Fit: &t}
	}
	return Split{Overflow: &t}
}

// PriceDelimiter closes a bar when price moves more than Size away from open.
type PriceDelimiter struct{ Size float64 }

func (PriceDelimiter) Kind() Kind { return KindPrice }

func (d PriceDelimiter) Split(cur, _ *Bar, t tick.Tick) Split {
	if cur.Empty() || math.Abs(cur.Open-t.Price) <= d.Size+sizeTolerance {
		return Split{Fit: &t}
	}
	return Split{Overflow: &t}
}

// RangeDelimiter closes a bar when displacement from open exceeds XV steps of
// RangeStep. Moving against the previous bar widens the threshold by that
// bar's own displacement.
type RangeDelimiter struct{ XV float64 }

func (RangeDelimiter) Kind() Kind { return KindRange }

// Threshold is the base displacement XV*RangeStep.
func (d RangeDelimiter) Threshold() float64 { return d.XV * RangeStep }

func (d RangeDelimiter) Split(cur, prev *Bar, t tick.Tick) Split {
	if cur.Empty() {
		return Split{Fit: &t}
	}
	open := RoundDown(cur.Open, RangeStep)
	closePrice := RoundDown(t.Price, RangeStep)
	delta := math.Abs(open - closePrice)

	limit := d.Threshold()
	if prev != nil {
		prevOpen := RoundDown(prev.Open, RangeStep)
		prevClose := RoundDown(prev.Close, RangeStep)
		if sign(prevClose-prevOpen) != sign(closePrice-open) {
			limit += math.Abs(prevClose - prevOpen)
		}
	}
	if delta <= limit+sizeTolerance {
		return Split{Fit: &t}
	}
	return Split{Overflow: &t}
}
