// Package bar partitions a tick stream into bars with per-price order-flow
// clusters.
package bar

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"orderflow-core/internal/anomaly"
	"orderflow-core/internal/tick"
)

// Position of a cluster relative to the bar body.
type Position string

const (
	PositionBody      Position = "body"
	PositionUpperWick Position = "upper-wick"
	PositionLowerWick Position = "lower-wick"
)

// DefaultClusterStep is the price bucket width for clusters.
const DefaultClusterStep = 0.01

// Cluster is the footprint of one price level inside a bar.
type Cluster struct {
	Price           float64  `json:"price"`
	Volume          float64  `json:"volume"`
	BidVolume       float64  `json:"bid"`
	AskVolume       float64  `json:"ask"`
	VolumeDelta     float64  `json:"volumeDelta"`
	Position        Position `json:"position"`
	AnomalyScore    float64  `json:"evaluation"`
	AbsorptionScore float64  `json:"absorption"`
}

// Clusters is keyed by the rounded price level.
type Clusters map[float64]*Cluster

// Sorted returns clusters in ascending price order.
func (c Clusters) Sorted() []*Cluster {
	out := make([]*Cluster, 0, len(c))
	for _, cl := range c {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// MarshalJSON encodes clusters as a price-ordered array.
func (c Clusters) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Sorted())
}

// EncodeMsgpack mirrors MarshalJSON for binary clients.
func (c Clusters) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(c.Sorted())
}

// Bar is one partition of the tick stream. It is mutated only while open.
type Bar struct {
	ID          uint64  `json:"id"`
	Time        int64   `json:"time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quoteVolume"`
	TickCount   int     `json:"ticks"`
	AskVolume   float64 `json:"tradedAskContracts"`
	BidVolume   float64 `json:"tradedBidContracts"`
	VolumeDelta float64 `json:"volumeDelta"`
	PriceDelta  float64 `json:"priceDelta"`
	CVD         float64 `json:"cvd"`

	DeltaDivergence bool    `json:"deltaDivergence"`
	PositiveVDScore float64 `json:"positiveVD"`
	NegativeVDScore float64 `json:"negativeVD"`
	Absorption      float64 `json:"absorption"`

	TopCluster float64 `json:"topCluster"`
	POC        float64 `json:"poc"`
	POCAsk     float64 `json:"pocAsk"`
	POCBid     float64 `json:"pocBid"`

	Clusters Clusters `json:"clusters"`
	Closed   bool     `json:"closed"`

	hasTop bool
}

func newBar(id uint64, cvd float64) *Bar {
	return &Bar{ID: id, CVD: cvd, Clusters: make(Clusters)}
}

// Clone returns a deep copy, safe to read while b keeps receiving ticks.
func (b *Bar) Clone() *Bar {
	c := *b
	c.Clusters = make(Clusters, len(b.Clusters))
	for k, cl := range b.Clusters {
		cp := *cl
		c.Clusters[k] = &cp
	}
	return &c
}

// Empty reports whether no tick has been applied yet.
func (b *Bar) Empty() bool { return b.TickCount == 0 }

// Top returns the highest-scoring cluster, or nil for an empty bar.
func (b *Bar) Top() *Cluster {
	if !b.hasTop {
		return nil
	}
	return b.Clusters[b.TopCluster]
}

// Bullish reports close above open.
func (b *Bar) Bullish() bool { return b.Close > b.Open }

// Bearish reports close below open.
func (b *Bar) Bearish() bool { return b.Close < b.Open }

// apply folds a fitting tick into the open bar.
func (b *Bar) apply(t tick.Tick, step float64, scorers *anomaly.Set) {
	if b.TickCount == 0 {
		b.Open = t.Price
		b.High = t.Price
		b.Low = t.Price
		b.Time = t.Time
	}
	b.Close = t.Price
	b.High = math.Max(b.High, t.Price)
	b.Low = math.Min(b.Low, t.Price)
	b.Volume += t.Qty
	b.QuoteVolume += t.QuoteQty
	if t.IsBuyerMaker {
		b.BidVolume += t.Qty
	} else {
		b.AskVolume += t.Qty
	}
	b.PriceDelta = t.Price - b.Open
	b.VolumeDelta = b.AskVolume - b.BidVolume
	b.CVD += t.Side() * t.Qty
	b.DeltaDivergence = sign(b.VolumeDelta) != sign(b.PriceDelta)

	b.clusterize(t, step, scorers.Volume)

	b.PositiveVDScore = 0
	b.NegativeVDScore = 0
	if b.VolumeDelta > 0 && b.PriceDelta < 0 {
		b.PositiveVDScore = scorers.PositiveVD.Score(math.Abs(b.VolumeDelta))
	}
	if b.VolumeDelta < 0 && b.PriceDelta > 0 {
		b.NegativeVDScore = scorers.NegativeVD.Score(math.Abs(b.VolumeDelta))
	}
	b.TickCount++
}

func (b *Bar) clusterize(t tick.Tick, step float64, score anomaly.Scorer) {
	level := RoundDown(t.Price, step)
	c, ok := b.Clusters[level]
	if !ok {
		c = &Cluster{Price: level, Position: PositionBody}
		b.Clusters[level] = c
	}
	c.Volume += t.Qty
	if t.IsBuyerMaker {
		c.BidVolume += t.Qty
	} else {
		c.AskVolume += t.Qty
	}
	c.VolumeDelta = c.AskVolume - c.BidVolume
	c.AnomalyScore = score.Score(c.Volume)

	if !b.hasTop {
		b.TopCluster = level
		b.hasTop = true
		return
	}
	if c.AnomalyScore > b.Clusters[b.TopCluster].AnomalyScore {
		b.TopCluster = level
	}
}

// finalize selects the points of control and tags wick clusters.
func (b *Bar) finalize() {
	var pocVol, askVol, bidVol float64
	for i, c := range b.Clusters.Sorted() {
		if i == 0 || c.Volume > pocVol {
			b.POC, pocVol = c.Price, c.Volume
		}
		if c.AskVolume > askVol {
			b.POCAsk, askVol = c.Price, c.AskVolume
		}
		if c.BidVolume > bidVol {
			b.POCBid, bidVol = c.Price, c.BidVolume
		}

		c.Position = PositionBody
		switch {
		case b.Bullish():
			if c.Price > b.Close {
				c.Position = PositionUpperWick
			} else if c.Price < b.Open {
				c.Position = PositionLowerWick
			}
		case b.Bearish():
			if c.Price < b.Close {
				c.Position = PositionLowerWick
			} else if c.Price > b.Open {
				c.Position = PositionUpperWick
			}
		}
	}
	b.Closed = true
}

// RoundDown buckets price to floor(price/step)*step. A small epsilon absorbs
// binary representation error so 25.43 stays in the 25.43 bucket.
func RoundDown(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	v := math.Floor(price/step+1e-9) * step
	return math.Round(v*1e8) / 1e8
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
