package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Run is one process lifetime: a replay or a live session.
type Run struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Delimiter  string     `json:"delimiter"`
	Mode       string     `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// BarRow is the persisted summary of a closed bar.
type BarRow struct {
	RunID       string  `json:"-"`
	ID          uint64  `json:"id"`
	Time        int64   `json:"time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quote_volume"`
	Ticks       int     `json:"ticks"`
	VolumeDelta float64 `json:"volume_delta"`
	PriceDelta  float64 `json:"price_delta"`
	CVD         float64 `json:"cvd"`
	POC         float64 `json:"poc"`
	TopCluster  float64 `json:"top_cluster"`
	Absorption  float64 `json:"absorption"`
}

// ProfileRow is a completed volume profile without its level table.
type ProfileRow struct {
	RunID           string  `json:"-"`
	StartedAt       int64   `json:"started_at"`
	EndedAt         int64   `json:"ended_at"`
	VPOC            float64 `json:"vpoc"`
	VAH             float64 `json:"vah"`
	VAL             float64 `json:"val"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	TotalVolume     float64 `json:"total_volume"`
	ValueAreaVolume float64 `json:"value_area_volume"`
	ClosedAtPrice   float64 `json:"closed_at_price"`
	Normality       float64 `json:"normality"`
	Degenerate      bool    `json:"degenerate"`
}

// PriceEventRow is one price-action transition.
type PriceEventRow struct {
	RunID string  `json:"-"`
	Name  string  `json:"name"`
	Time  int64   `json:"time"`
	Price float64 `json:"price"`
}

// BetRow is a resolved bet.
type BetRow struct {
	RunID      string             `json:"-"`
	ID         uint64             `json:"id"`
	Symbol     string             `json:"symbol"`
	Side       string             `json:"side"`
	EntryTime  int64              `json:"entry_time"`
	EntryPrice float64            `json:"entry_price"`
	ExitTime   int64              `json:"exit_time"`
	ExitPrice  float64            `json:"exit_price"`
	BetSize    float64            `json:"bet_size"`
	Risk       float64            `json:"risk"`
	Reward     float64            `json:"reward"`
	StopLoss   float64            `json:"stop_loss"`
	TakeProfit float64            `json:"take_profit"`
	Log        float64            `json:"log"`
	Win        bool               `json:"win"`
	Features   map[string]float64 `json:"features,omitempty"`
}

// StreakRow is a completed run of equal outcomes. Deals is stored as JSON.
type StreakRow struct {
	RunID  string          `json:"-"`
	Type   string          `json:"type"`
	From   int64           `json:"from"`
	To     int64           `json:"to"`
	Length int             `json:"length"`
	Deals  json.RawMessage `json:"deals,omitempty"`
}

const (
	InsertBarSQL = `INSERT OR REPLACE INTO bars
		(run_id, id, time, open, high, low, close, volume, quote_volume, ticks, volume_delta, price_delta, cvd, poc, top_cluster, absorption)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	InsertProfileSQL = `INSERT OR REPLACE INTO profiles
		(run_id, started_at, ended_at, vpoc, vah, val, min, max, total_volume, value_area_volume, closed_at_price, normality, degenerate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	InsertPriceEventSQL = `INSERT INTO price_events (run_id, name, time, price) VALUES (?, ?, ?, ?)`
	InsertBetSQL        = `INSERT OR REPLACE INTO bets
		(run_id, id, symbol, side, entry_time, entry_price, exit_time, exit_price, bet_size, risk, reward, stop_loss, take_profit, log, win, features)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	InsertStreakSQL = `INSERT INTO streaks (run_id, type, from_time, to_time, length, deals) VALUES (?, ?, ?, ?, ?, ?)`
)

func (r BarRow) Args() []any {
	return []any{r.RunID, r.ID, r.Time, r.Open, r.High, r.Low, r.Close, r.Volume, r.QuoteVolume,
		r.Ticks, r.VolumeDelta, r.PriceDelta, r.CVD, r.POC, r.TopCluster, r.Absorption}
}

func (r ProfileRow) Args() []any {
	return []any{r.RunID, r.StartedAt, r.EndedAt, r.VPOC, r.VAH, r.VAL, r.Min, r.Max,
		r.TotalVolume, r.ValueAreaVolume, r.ClosedAtPrice, r.Normality, boolToInt(r.Degenerate)}
}

func (r PriceEventRow) Args() []any {
	return []any{r.RunID, r.Name, r.Time, r.Price}
}

// Args encodes features as JSON; a nil map is stored as NULL.
func (r BetRow) Args() []any {
	var features any
	if r.Features != nil {
		if raw, err := json.Marshal(r.Features); err == nil {
			features = string(raw)
		}
	}
	return []any{r.RunID, r.ID, r.Symbol, r.Side, r.EntryTime, r.EntryPrice, r.ExitTime, r.ExitPrice,
		r.BetSize, r.Risk, r.Reward, r.StopLoss, r.TakeProfit, r.Log, boolToInt(r.Win), features}
}

func (r StreakRow) Args() []any {
	var deals any
	if len(r.Deals) > 0 {
		deals = string(r.Deals)
	}
	return []any{r.RunID, r.Type, r.From, r.To, r.Length, deals}
}

// CreateRun records the start of a run.
func (d *Database) CreateRun(ctx context.Context, r Run) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO runs (id, symbol, delimiter, mode, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.Symbol, r.Delimiter, r.Mode, r.StartedAt)
	return err
}

// FinishRun stamps the end time of a run.
func (d *Database) FinishRun(ctx context.Context, id string, at time.Time) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, at, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
