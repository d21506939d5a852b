package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"orderflow-core/internal/monitor"
	"orderflow-core/internal/tick"
)

// ErrStreamClosed is returned when the live stream ends while trading.
var ErrStreamClosed = errors.New("live trade stream closed")

// LiveSource streams trades as they happen.
type LiveSource interface {
	AggTrades(ctx context.Context, symbol string) (<-chan tick.Tick, func(), error)
}

// Trader replays history up to the first live trade, then feeds live trades
// in id order, backfilling any ids the stream skipped.
type Trader struct {
	symbol     string
	live       LiveSource
	history    HistorySource
	downloader *Downloader
	logger     zerolog.Logger

	prev        uint64
	hasPrev     bool
	backfilling bool
	filledTo    uint64
	pending     []tick.Tick
}

func NewTrader(symbol string, live LiveSource, history HistorySource, d *Downloader, logger zerolog.Logger) *Trader {
	return &Trader{
		symbol:     symbol,
		live:       live,
		history:    history,
		downloader: d,
		logger:     logger.With().Str("component", "trader").Str("symbol", symbol).Logger(),
	}
}

type backfill struct {
	to    uint64
	ticks []tick.Tick
	err   error
}

// Run blocks until ctx is done, the stream closes or handler fails. Only
// history with time >= firstLive.Time-lookback reaches handler; lookback 0
// replays the whole log.
func (tr *Trader) Run(ctx context.Context, lookback time.Duration, handler tick.Handler) error {
	stream, stop, err := tr.live.AggTrades(ctx, tr.symbol)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", tr.symbol, err)
	}
	defer stop()

	var first tick.Tick
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t, ok := <-stream:
		if !ok {
			return ErrStreamClosed
		}
		first = t
	}
	tr.logger.Info().Uint64("id", first.ID).Float64("price", first.Price).Msg("📡 first live trade")

	collected := make(chan []tick.Tick, 1)
	collectCtx, stopCollect := context.WithCancel(ctx)
	go func() {
		buf := []tick.Tick{first}
		for {
			select {
			case <-collectCtx.Done():
				collected <- buf
				return
			case t, ok := <-stream:
				if !ok {
					collected <- buf
					return
				}
				buf = append(buf, t)
			}
		}
	}()

	histErr := tr.replayHistory(ctx, first, lookback, handler)
	stopCollect()
	buffered := <-collected
	if histErr != nil {
		return histErr
	}

	tr.pending = mergeByID(nil, buffered)
	tr.logger.Info().Int("buffered", len(buffered)).Msg("✅ analysis complete, trading live")
	fills := make(chan backfill, 1)
	if err := tr.drain(ctx, handler, fills); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrStreamClosed
			}
			tr.pending = mergeByID(tr.pending, []tick.Tick{t})
		case f := <-fills:
			tr.backfilling = false
			tr.filledTo = f.to
			if f.err != nil {
				tr.logger.Warn().Err(f.err).Msg("backfill failed")
			} else if len(f.ticks) > 0 {
				tr.logger.Info().Int("missed", len(f.ticks)).Msg("missed ticks recovered")
				tr.pending = mergeByID(tr.pending, f.ticks)
			}
		}
		if !tr.backfilling {
			if err := tr.drain(ctx, handler, fills); err != nil {
				return err
			}
		}
	}
}

func (tr *Trader) replayHistory(ctx context.Context, first tick.Tick, lookback time.Duration, handler tick.Handler) error {
	if err := tr.downloader.Start(ctx, nil, first.ID); err != nil {
		return fmt.Errorf("download history: %w", err)
	}

	var since int64
	if lookback > 0 {
		since = first.Time - lookback.Milliseconds()
	}
	n, err := tick.Walk(ctx, tr.downloader.Path(), func(t tick.Tick) error {
		if t.ID >= first.ID || t.Time < since {
			return nil
		}
		if tr.hasPrev && t.ID <= tr.prev {
			return nil
		}
		if err := handler(t); err != nil {
			return err
		}
		tr.prev, tr.hasPrev = t.ID, true
		return nil
	})
	if errors.Is(err, tick.ErrNoHistory) {
		tr.logger.Warn().Err(err).Msg("no history to replay")
		return nil
	}
	if err != nil {
		return fmt.Errorf("walk history: %w", err)
	}
	tr.logger.Info().Int("ticks", n).Msg("history walked")
	return nil
}

// startBackfill fetches the ids strictly between from and to and delivers
// them on fills.
func (tr *Trader) startBackfill(ctx context.Context, from, to uint64, fills chan<- backfill) {
	tr.backfilling = true
	monitor.BackfillsTotal.WithLabelValues(tr.symbol).Inc()
	tr.logger.Debug().Uint64("from", from).Uint64("to", to).Msg("backfilling skipped ids")
	go func() {
		ticks, err := tr.history.AggTrades(ctx, AggTradesRequest{Symbol: tr.symbol, FromID: from, Limit: int(to - from)})
		missed := ticks[:0]
		for _, m := range ticks {
			if m.ID > from && m.ID < to {
				missed = append(missed, m)
			}
		}
		fills <- backfill{to: to, ticks: missed, err: err}
	}()
}

// drain hands queued ticks to handler in id order. It stops at the first id
// that does not follow the last processed one and backfills the hole. A hole
// that a finished backfill could not close is skipped.
func (tr *Trader) drain(ctx context.Context, handler tick.Handler, fills chan<- backfill) error {
	for len(tr.pending) > 0 {
		t := tr.pending[0]
		if tr.hasPrev && t.ID <= tr.prev {
			tr.pending = tr.pending[1:]
			continue
		}
		if tr.hasPrev && t.ID > tr.prev+1 {
			if t.ID > tr.filledTo {
				tr.startBackfill(ctx, tr.prev, t.ID, fills)
				return nil
			}
			tr.logger.Warn().Uint64("from", tr.prev+1).Uint64("to", t.ID-1).Msg("ticks lost after backfill")
		}
		tr.pending = tr.pending[1:]
		if err := handler(t); err != nil {
			return err
		}
		tr.prev, tr.hasPrev = t.ID, true
	}
	tr.pending = nil
	return nil
}

// mergeByID returns the union of a and b sorted by id with duplicates removed.
func mergeByID(a, b []tick.Tick) []tick.Tick {
	out := append(a, b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	w := 0
	for i, t := range out {
		if i > 0 && t.ID == out[w-1].ID {
			continue
		}
		out[w] = t
		w++
	}
	return out[:w]
}
