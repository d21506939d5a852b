package export

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-core/internal/bar"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/tick"
)

func sampleBars() []*bar.Bar {
	return []*bar.Bar{
		{
			ID: 1, Time: 1700000000000, Open: 100, High: 102, Low: 99, Close: 101,
			Volume: 10, QuoteVolume: 1005, TickCount: 4, AskVolume: 6, BidVolume: 4,
			VolumeDelta: 2, PriceDelta: 1, CVD: 2, POC: 100.5, TopCluster: 100.5, Closed: true,
			Clusters: bar.Clusters{
				100.5: {Price: 100.5, Volume: 6, AskVolume: 4, BidVolume: 2, VolumeDelta: 2, Position: bar.PositionBody},
				101:   {Price: 101, Volume: 4, AskVolume: 2, BidVolume: 2, Position: bar.PositionBody},
			},
		},
		{ID: 2, Time: 1700000060000, Open: 101, High: 101, Low: 98, Close: 98, Volume: 5, TickCount: 2, Absorption: -2.5, Closed: true, Clusters: bar.Clusters{}},
	}
}

func TestNewSaver(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"json", "json"},
		{" Parquet ", "parquet"},
		{"csv", ""},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			s := NewSaver(tt.format)
			if tt.ext == "" {
				assert.Nil(t, s)
				return
			}
			require.NotNil(t, s)
			assert.Equal(t, tt.ext, s.Extension())
		})
	}
}

func TestWriteJSONShape(t *testing.T) {
	var buf bytes.Buffer
	c := Candles{
		Candles:     sampleBars(),
		Statistics:  ledger.Report{Winrate: 50},
		Indications: []Indication{{Type: "buy", Tick: tick.Tick{ID: 9, Price: 100}, BetID: 9}},
	}
	require.NoError(t, WriteJSON(&buf, c))

	var decoded struct {
		Candles []struct {
			ID       uint64 `json:"id"`
			Clusters []struct {
				Price float64 `json:"price"`
			} `json:"clusters"`
		} `json:"candles"`
		Statistics  map[string]any   `json:"statistics"`
		Indications []map[string]any `json:"indications"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Candles, 2)
	require.Len(t, decoded.Candles[0].Clusters, 2)
	assert.Equal(t, 100.5, decoded.Candles[0].Clusters[0].Price)
	assert.Equal(t, 50.0, decoded.Statistics["winrate"])
	assert.Equal(t, "buy", decoded.Indications[0]["type"])
}

func TestWriteJSONEmptyUsesArrays(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Candles{}))
	assert.Contains(t, buf.String(), `"candles":[]`)
	assert.Contains(t, buf.String(), `"indications":[]`)
}

func TestParquetRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, sampleBars()))

	rows, err := parquet.Read[BarRecord](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Records(sampleBars()), rows)
	assert.Equal(t, int32(2), rows[0].Clusters)
	assert.Equal(t, -2.5, rows[1].Absorption)
}

func TestParquetSaverWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.parquet")
	require.NoError(t, ParquetSaver{}.Save(Candles{Candles: sampleBars()}, path))

	rows, err := parquet.ReadFile[BarRecord](path)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
