// Package ingest downloads exchange trade history into the tick log and
// reconciles it with the live trade stream.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"orderflow-core/internal/monitor"
	"orderflow-core/internal/tick"
)

const (
	// RequestInterval spaces page requests to stay under the exchange weight
	// budget: 5000 weight per minute at 4 weight per request.
	RequestInterval = time.Duration(60000/5000*4) * time.Millisecond

	DefaultPageLimit   = 1000
	DefaultConcurrency = 16
	MaxResyncs         = 3
)

// ErrOutOfSync marks a page whose first id does not continue the log.
var ErrOutOfSync = errors.New("tick history out of sync")

// AggTradesRequest asks for up to Limit trades starting at FromID.
type AggTradesRequest struct {
	Symbol string
	FromID uint64
	Limit  int
}

// HistorySource serves pages of historical trades.
type HistorySource interface {
	AggTrades(ctx context.Context, req AggTradesRequest) ([]tick.Tick, error)
}

// ProgressFunc is called once per page written to the log.
type ProgressFunc func(firstID, lastID uint64, lastTime int64)

// Config describes one symbol's history download.
type Config struct {
	Symbol      string
	Path        string
	StartID     uint64
	PageLimit   int
	Concurrency int
	Interval    time.Duration
}

// Downloader appends missing history to a tick log, page by page.
type Downloader struct {
	src     HistorySource
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewDownloader(src HistorySource, cfg Config, logger zerolog.Logger) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Interval <= 0 {
		cfg.Interval = RequestInterval
	}
	return &Downloader{
		src:     src,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		logger:  logger.With().Str("component", "downloader").Str("symbol", cfg.Symbol).Logger(),
	}
}

// Path returns the tick log the downloader appends to.
func (d *Downloader) Path() string { return d.cfg.Path }

// Start downloads from the end of the log (or the configured start id) until
// the exchange returns an empty page, or up to toID exclusive when toID > 0.
func (d *Downloader) Start(ctx context.Context, cb ProgressFunc, toID uint64) error {
	if d.cfg.PageLimit <= 0 {
		return nil
	}

	from := d.cfg.StartID
	last, ok, err := tick.LastID(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("resume %s: %w", d.cfg.Path, err)
	}
	if ok {
		from = last + 1
	}
	if toID > 0 && from >= toID {
		d.logger.Info().Uint64("from", from).Msg("✅ history already up to date")
		return nil
	}

	app, err := tick.OpenAppender(d.cfg.Path)
	if err != nil {
		return err
	}
	defer app.Close()

	d.logger.Info().Uint64("from", from).Uint64("to", toID).Msg("⬇️ downloading history")
	for attempt := 0; ; attempt++ {
		next, err := d.run(ctx, app, from, toID, cb)
		if err == nil {
			d.logger.Info().Uint64("next", next).Msg("✅ history is loaded")
			return nil
		}
		if !errors.Is(err, ErrOutOfSync) || attempt >= MaxResyncs {
			return err
		}
		monitor.IngestResyncsTotal.WithLabelValues(d.cfg.Symbol).Inc()
		d.logger.Warn().Err(err).Uint64("from", next).Int("attempt", attempt+1).Msg("resyncing history")
		from = next
	}
}

type page struct {
	index int
	ticks []tick.Tick
}

// run paginates from `from` and writes pages strictly in request order. It
// returns the next id the log expects.
func (d *Downloader) run(ctx context.Context, app *tick.Appender, from, toID uint64, cb ProgressFunc) (uint64, error) {
	fetchCtx, stopFetch := context.WithCancel(ctx)
	defer stopFetch()

	fetchers, fctx := errgroup.WithContext(fetchCtx)
	fetchers.SetLimit(d.cfg.Concurrency)

	results := make(chan page, d.cfg.Concurrency)
	var fetchErr error
	go func() {
		defer close(results)
		d.paginate(fctx, fetchers, results, from, toID)
		fetchErr = fetchers.Wait()
	}()

	next := from
	queue := make(map[int][]tick.Tick)
	nextIndex := 0
	done := false
	var syncErr error

	for p := range results {
		if done || syncErr != nil {
			continue
		}
		queue[p.index] = p.ticks
		for {
			ticks, ok := queue[nextIndex]
			if !ok {
				break
			}
			delete(queue, nextIndex)
			nextIndex++

			if len(ticks) == 0 {
				done = true
				stopFetch()
				break
			}
			ticks, err := continueFrom(ticks, next, toID)
			if err != nil {
				syncErr = err
				stopFetch()
				break
			}
			if len(ticks) == 0 {
				continue
			}
			if err := app.Append(ticks); err != nil {
				syncErr = err
				stopFetch()
				break
			}
			first, last := ticks[0], ticks[len(ticks)-1]
			next = last.ID + 1
			monitor.IngestPagesTotal.WithLabelValues(d.cfg.Symbol).Inc()
			d.logger.Debug().Uint64("first", first.ID).Uint64("last", last.ID).Msg("page written")
			if cb != nil {
				cb(first.ID, last.ID, last.Time)
			}
		}
	}

	if syncErr != nil {
		return next, syncErr
	}
	if done {
		return next, nil
	}
	if fetchErr != nil && ctx.Err() == nil {
		return next, fmt.Errorf("fetch history: %w", fetchErr)
	}
	if err := ctx.Err(); err != nil {
		return next, err
	}
	return next, nil
}

// paginate issues one rate-limited request per page until the range is
// exhausted or fctx is cancelled.
func (d *Downloader) paginate(fctx context.Context, g *errgroup.Group, results chan<- page, from, toID uint64) {
	limit := d.cfg.PageLimit
	for i := 0; ; i++ {
		start := from + uint64(i)*uint64(limit)
		n := limit
		if toID > 0 {
			if start >= toID {
				return
			}
			n = min(int(toID-start), limit)
		}
		if n < 1 {
			return
		}
		if err := d.limiter.Wait(fctx); err != nil {
			return
		}

		req := AggTradesRequest{Symbol: d.cfg.Symbol, FromID: start, Limit: n}
		index := i
		g.Go(func() error {
			ticks, err := d.src.AggTrades(fctx, req)
			if err != nil {
				return fmt.Errorf("page %d from %d: %w", index, req.FromID, err)
			}
			select {
			case results <- page{index: index, ticks: ticks}:
				return nil
			case <-fctx.Done():
				return fctx.Err()
			}
		})
	}
}

// continueFrom trims ids already written and the ids at or past toID. A page
// starting after next is a gap.
func continueFrom(ticks []tick.Tick, next, toID uint64) ([]tick.Tick, error) {
	i := 0
	for i < len(ticks) && ticks[i].ID < next {
		i++
	}
	ticks = ticks[i:]
	if len(ticks) == 0 {
		return nil, nil
	}
	if ticks[0].ID != next {
		return nil, fmt.Errorf("%w: expected id %d, page starts at %d", ErrOutOfSync, next, ticks[0].ID)
	}
	if toID > 0 {
		j := len(ticks)
		for j > 0 && ticks[j-1].ID >= toID {
			j--
		}
		ticks = ticks[:j]
	}
	return ticks, nil
}
