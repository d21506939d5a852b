package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"orderflow-core/internal/api"
	"orderflow-core/internal/bar"
	"orderflow-core/internal/engine"
	"orderflow-core/internal/events"
	"orderflow-core/internal/export"
	"orderflow-core/internal/ingest"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/ml"
	"orderflow-core/internal/monitor"
	"orderflow-core/internal/persistence"
	"orderflow-core/internal/tick"
	"orderflow-core/pkg/config"
	"orderflow-core/pkg/db"
	"orderflow-core/pkg/logger"
	market "orderflow-core/pkg/market/binance"
)

const buildVersion = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat).With().
		Str("symbol", cfg.Symbol).Str("mode", cfg.Mode()).Logger()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("orderflow-core stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	log.Info().Str("port", cfg.Port).Str("db", cfg.DBPath).Str("delimiter", cfg.Delimiter).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	delimiter, err := bar.ParseDelimiter(cfg.Delimiter)
	if err != nil {
		return err
	}
	pcfg, err := pipelineConfig(cfg, delimiter)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	runID := uuid.NewString()
	if err := database.CreateRun(ctx, db.Run{
		ID:        runID,
		Symbol:    cfg.Symbol,
		Delimiter: cfg.Delimiter,
		Mode:      cfg.Mode(),
		StartedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	log = log.With().Str("run", runID).Logger()

	writer := persistence.NewBatchWriter(database.DB, 500, time.Second, log)
	defer func() {
		if err := writer.Close(); err != nil {
			log.Error().Err(err).Msg("flush batch writer")
		}
		if err := database.FinishRun(context.Background(), runID, time.Now()); err != nil {
			log.Error().Err(err).Msg("finish run")
		}
	}()

	bus := events.NewBus()
	metrics := monitor.NewPipelineMetrics()
	deps := engine.Deps{Bus: bus, Metrics: metrics}

	if cfg.EnableML {
		client, err := ml.Dial(cfg.MLAddr)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.MLAddr).Msg("ml scorer unavailable; bets are not gated")
		} else {
			defer client.Close()
			deps.Scorer = client
			log.Info().Str("addr", cfg.MLAddr).Msg("ml scorer enabled")
		}
	}
	if cfg.Live {
		deps.Executor = ledger.NewPaperExecutor(cfg.InitialBalance, pcfg.Strategy.Commission.Taker)
	}

	pipeline, err := engine.NewPipeline(pcfg, deps, log)
	if err != nil {
		return err
	}
	if err := pipeline.SyncBalance(ctx); err != nil {
		log.Warn().Err(err).Msg("sync balance")
	}
	engine.NewRecorder(writer, runID, cfg.Symbol, log).Attach(pipeline)
	ledger.NotifyBets(ctx, pipeline.Ledger(), ledger.LogNotifier{Logger: log}, log)

	hub := api.NewHub(log)
	hub.Run(ctx, bus)
	mon := &monitor.Monitor{
		Bus:    bus,
		Sink:   monitor.LogSink{Logger: log},
		Rule:   monitor.LossStreakRule{MaxLosses: 5},
		Logger: log,
	}
	mon.Start(ctx)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = monitor.Serve(cfg.MetricsAddr)
	}

	server := api.NewServer(pipeline, database, hub, metrics, api.SystemMeta{
		Symbol:    cfg.Symbol,
		Delimiter: cfg.Delimiter,
		Mode:      cfg.Mode(),
		RunID:     runID,
		Version:   buildVersion,
	}, log)
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: server.Router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server")
			stop()
		}
	}()

	history := ingest.BinanceHistory{Client: market.NewMarketDataClient(cfg.BinanceTestnet)}
	downloader := ingest.NewDownloader(history, ingest.Config{
		Symbol:    cfg.Symbol,
		Path:      cfg.HistoryFile,
		StartID:   cfg.HistoryStartID,
		PageLimit: cfg.HistoryPageLimit,
	}, log)

	process := func(t tick.Tick) error { return pipeline.Process(ctx, t) }
	var sourceErr error
	if cfg.Live {
		live := ingest.BinanceLive{Client: market.NewStreamClient(cfg.BinanceTestnet, log)}
		trader := ingest.NewTrader(cfg.Symbol, live, history, downloader, log)
		sourceErr = trader.Run(ctx, cfg.Lookback, process)
	} else {
		sourceErr = replay(ctx, cfg, pipeline, downloader, process, log)
	}
	if sourceErr != nil && !errors.Is(sourceErr, context.Canceled) {
		log.Error().Err(sourceErr).Msg("tick source stopped")
	}

	if fatal(sourceErr) {
		stop()
	} else {
		sourceErr = nil
	}
	<-ctx.Done()
	log.Info().Uint64("busDropped", bus.Dropped()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return sourceErr
}

// fatal reports whether a tick source error must end the process instead of
// leaving the API up. A failed order means the ledger no longer matches the
// venue.
func fatal(err error) bool {
	return errors.Is(err, ledger.ErrExecution)
}

// replay downloads missing history when enabled, walks the tick log through
// the pipeline and writes the optional export. The API keeps serving the
// result until shutdown.
func replay(ctx context.Context, cfg *config.Config, p *engine.Pipeline, d *ingest.Downloader, process tick.Handler, log zerolog.Logger) error {
	if cfg.HistoryPageLimit > 0 {
		err := d.Start(ctx, func(firstID, lastID uint64, lastTime int64) {
			log.Debug().Uint64("from", firstID).Uint64("to", lastID).
				Time("at", time.UnixMilli(lastTime)).Msg("history page written")
		}, 0)
		if err != nil {
			return fmt.Errorf("download history: %w", err)
		}
	}

	started := time.Now()
	n, err := tick.Walk(ctx, cfg.HistoryFile, process)
	if err != nil {
		return fmt.Errorf("walk %s: %w", cfg.HistoryFile, err)
	}
	p.Flush()
	p.Broadcast()
	log.Info().Int("ticks", n).Dur("took", time.Since(started)).Msg("replay complete")

	if cfg.ExportDir == "" {
		return nil
	}
	saver := export.NewSaver(cfg.ExportFormat)
	if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(cfg.ExportDir, fmt.Sprintf("%s-%d.%s", cfg.Symbol, time.Now().Unix(), saver.Extension()))
	if err := saver.Save(p.Export(), path); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	log.Info().Str("path", path).Msg("export written")
	return nil
}

// pipelineConfig applies per-asset tuning on top of the defaults.
func pipelineConfig(cfg *config.Config, d bar.Delimiter) (engine.Config, error) {
	pcfg := engine.DefaultConfig(cfg.Symbol, d)
	pcfg.InitialBalance = cfg.InitialBalance
	pcfg.MinBet = cfg.MinBet
	if cfg.AssetsFile == "" {
		return pcfg, nil
	}

	assets, err := config.LoadAssets(cfg.AssetsFile)
	if err != nil {
		return pcfg, fmt.Errorf("load assets: %w", err)
	}
	a, ok := assets[cfg.Symbol]
	if !ok {
		return pcfg, nil
	}
	if a.ClusterStep > 0 {
		pcfg.ClusterStep = a.ClusterStep
	}
	if a.ProfileInterval > 0 {
		pcfg.ProfileInterval = a.ProfileInterval.Milliseconds()
	}
	if a.ValueAreaPct > 0 {
		pcfg.ValueAreaPct = a.ValueAreaPct
	}
	if a.WarmupTicks > 0 {
		pcfg.Analytics.WarmupTicks = a.WarmupTicks
	}
	if a.Strategy.MinPriceDelta > 0 {
		pcfg.Strategy.MinPriceDelta = a.Strategy.MinPriceDelta
	}
	if a.Strategy.BalanceOrientation > 0 {
		pcfg.Strategy.BalanceOrientation = a.Strategy.BalanceOrientation
	}
	if a.Strategy.DistanceFactor > 0 {
		pcfg.Strategy.DistanceFactor = a.Strategy.DistanceFactor
	}
	if a.Strategy.Commission != (ledger.Commission{}) {
		pcfg.Strategy.Commission = a.Strategy.Commission
	}
	return pcfg, nil
}
