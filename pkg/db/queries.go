package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrRunIDRequired = errors.New("run_id is required")
	ErrNotFound      = errors.New("record not found")
)

// RunQueries reads rows of a single run.
type RunQueries struct {
	db *sql.DB
}

// NewRunQueries creates a new RunQueries instance.
func NewRunQueries(db *sql.DB) *RunQueries {
	return &RunQueries{db: db}
}

// ListRuns returns the most recent runs first.
func (q *RunQueries) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, symbol, delimiter, mode, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Delimiter, &r.Mode, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FinishedAt = nullTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run or ErrNotFound.
func (q *RunQueries) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, ErrRunIDRequired
	}
	var (
		r        Run
		finished sql.NullTime
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, symbol, delimiter, mode, started_at, finished_at FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.Symbol, &r.Delimiter, &r.Mode, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	r.FinishedAt = nullTime(finished)
	return &r, nil
}

// GetProfilesByRun returns completed profiles, oldest first.
func (q *RunQueries) GetProfilesByRun(ctx context.Context, runID string, limit int) ([]ProfileRow, error) {
	if runID == "" {
		return nil, ErrRunIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT started_at, ended_at, vpoc, vah, val, min, max, total_volume, value_area_volume,
		       closed_at_price, normality, degenerate
		FROM profiles
		WHERE run_id = ?
		ORDER BY ended_at
		LIMIT ?
	`, runID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []ProfileRow
	for rows.Next() {
		p := ProfileRow{RunID: runID}
		var degenerate int
		if err := rows.Scan(&p.StartedAt, &p.EndedAt, &p.VPOC, &p.VAH, &p.VAL, &p.Min, &p.Max,
			&p.TotalVolume, &p.ValueAreaVolume, &p.ClosedAtPrice, &p.Normality, &degenerate); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		p.Degenerate = degenerate != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPriceEventsByRun returns transitions in time order.
func (q *RunQueries) GetPriceEventsByRun(ctx context.Context, runID string, limit int) ([]PriceEventRow, error) {
	if runID == "" {
		return nil, ErrRunIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT name, time, price FROM price_events WHERE run_id = ? ORDER BY time, rowid LIMIT ?
	`, runID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query price events: %w", err)
	}
	defer rows.Close()

	var out []PriceEventRow
	for rows.Next() {
		e := PriceEventRow{RunID: runID}
		if err := rows.Scan(&e.Name, &e.Time, &e.Price); err != nil {
			return nil, fmt.Errorf("scan price event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetBetsByRun returns resolved bets ordered by entry.
func (q *RunQueries) GetBetsByRun(ctx context.Context, runID string, limit int) ([]BetRow, error) {
	if runID == "" {
		return nil, ErrRunIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, symbol, side, entry_time, entry_price, COALESCE(exit_time, 0), COALESCE(exit_price, 0),
		       bet_size, risk, reward, stop_loss, take_profit, log, COALESCE(win, 0), features
		FROM bets
		WHERE run_id = ?
		ORDER BY entry_time, id
		LIMIT ?
	`, runID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	var out []BetRow
	for rows.Next() {
		b := BetRow{RunID: runID}
		var (
			win      int
			features sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Symbol, &b.Side, &b.EntryTime, &b.EntryPrice, &b.ExitTime, &b.ExitPrice,
			&b.BetSize, &b.Risk, &b.Reward, &b.StopLoss, &b.TakeProfit, &b.Log, &win, &features); err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		b.Win = win != 0
		if features.Valid && features.String != "" {
			if err := json.Unmarshal([]byte(features.String), &b.Features); err != nil {
				return nil, fmt.Errorf("decode bet %d features: %w", b.ID, err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetStreaksByRun returns completed streaks in time order.
func (q *RunQueries) GetStreaksByRun(ctx context.Context, runID string) ([]StreakRow, error) {
	if runID == "" {
		return nil, ErrRunIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT type, from_time, to_time, length, deals FROM streaks WHERE run_id = ? ORDER BY from_time, rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query streaks: %w", err)
	}
	defer rows.Close()

	var out []StreakRow
	for rows.Next() {
		s := StreakRow{RunID: runID}
		var deals sql.NullString
		if err := rows.Scan(&s.Type, &s.From, &s.To, &s.Length, &deals); err != nil {
			return nil, fmt.Errorf("scan streak: %w", err)
		}
		if deals.Valid {
			s.Deals = json.RawMessage(deals.String)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 10000 {
		return 10000
	}
	return limit
}
