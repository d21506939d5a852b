package export

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"orderflow-core/internal/bar"
)

// BarRecord is the flat parquet row of a bar. Clusters are reduced to their
// count.
type BarRecord struct {
	ID              uint64  `parquet:"id"`
	Time            int64   `parquet:"time"`
	Open            float64 `parquet:"open"`
	High            float64 `parquet:"high"`
	Low             float64 `parquet:"low"`
	Close           float64 `parquet:"close"`
	Volume          float64 `parquet:"volume"`
	QuoteVolume     float64 `parquet:"quote_volume"`
	Ticks           int64   `parquet:"ticks"`
	AskVolume       float64 `parquet:"ask_volume"`
	BidVolume       float64 `parquet:"bid_volume"`
	VolumeDelta     float64 `parquet:"volume_delta"`
	PriceDelta      float64 `parquet:"price_delta"`
	CVD             float64 `parquet:"cvd"`
	POC             float64 `parquet:"poc"`
	POCAsk          float64 `parquet:"poc_ask"`
	POCBid          float64 `parquet:"poc_bid"`
	TopCluster      float64 `parquet:"top_cluster"`
	Absorption      float64 `parquet:"absorption"`
	DeltaDivergence bool    `parquet:"delta_divergence"`
	PositiveVD      float64 `parquet:"positive_vd"`
	NegativeVD      float64 `parquet:"negative_vd"`
	Clusters        int32   `parquet:"clusters"`
}

// ParquetSaver writes the flat bar table.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(c Candles, path string) error {
	return parquet.WriteFile(path, Records(c.Candles))
}

// WriteParquet writes the bar table onto w.
func WriteParquet(w io.Writer, bars []*bar.Bar) error {
	if err := parquet.Write(w, Records(bars)); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return nil
}

// Records flattens bars into parquet rows.
func Records(bars []*bar.Bar) []BarRecord {
	out := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		out = append(out, BarRecord{
			ID:              b.ID,
			Time:            b.Time,
			Open:            b.Open,
			High:            b.High,
			Low:             b.Low,
			Close:           b.Close,
			Volume:          b.Volume,
			QuoteVolume:     b.QuoteVolume,
			Ticks:           int64(b.TickCount),
			AskVolume:       b.AskVolume,
			BidVolume:       b.BidVolume,
			VolumeDelta:     b.VolumeDelta,
			PriceDelta:      b.PriceDelta,
			CVD:             b.CVD,
			POC:             b.POC,
			POCAsk:          b.POCAsk,
			POCBid:          b.POCBid,
			TopCluster:      b.TopCluster,
			Absorption:      b.Absorption,
			DeltaDivergence: b.DeltaDivergence,
			PositiveVD:      b.PositiveVDScore,
			NegativeVD:      b.NegativeVDScore,
			Clusters:        int32(len(b.Clusters)),
		})
	}
	return out
}
