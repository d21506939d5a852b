// Package export writes analysed bars to disk for charting and offline
// study.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"orderflow-core/internal/bar"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/tick"
)

// Indication marks a ledger event on the chart.
type Indication struct {
	Type  string    `json:"type"`
	Tick  tick.Tick `json:"tick"`
	BetID uint64    `json:"betId"`
}

// Candles is the chart payload: every bar, the ledger report and the
// markers to draw over it.
type Candles struct {
	Candles     []*bar.Bar    `json:"candles"`
	Statistics  ledger.Report `json:"statistics"`
	Indications []Indication  `json:"indications"`
}

// Saver writes a Candles payload to path.
type Saver interface {
	Save(c Candles, path string) error
	Extension() string
}

// NewSaver picks a saver by format (json, parquet). It returns nil for an
// unsupported format.
func NewSaver(format string) Saver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return JSONSaver{}
	case "parquet":
		return ParquetSaver{}
	default:
		return nil
	}
}

// JSONSaver writes {candles, statistics, indications}.
type JSONSaver struct{}

func (JSONSaver) Extension() string { return "json" }

func (JSONSaver) Save(c Candles, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteJSON(f, c)
}

// WriteJSON encodes c onto w.
func WriteJSON(w io.Writer, c Candles) error {
	if c.Candles == nil {
		c.Candles = []*bar.Bar{}
	}
	if c.Indications == nil {
		c.Indications = []Indication{}
	}
	if err := json.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("encode candles: %w", err)
	}
	return nil
}
