package engine

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"orderflow-core/internal/bar"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/persistence"
	"orderflow-core/internal/priceaction"
	"orderflow-core/internal/profile"
	"orderflow-core/pkg/db"
)

// Recorder persists closed bars, completed profiles, price-action events,
// resolved bets and completed streaks of one run. Rows are queued on the
// batch writer so the tick path never waits on SQLite.
type Recorder struct {
	writer *persistence.BatchWriter
	runID  string
	symbol string
	logger zerolog.Logger
}

func NewRecorder(w *persistence.BatchWriter, runID, symbol string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		writer: w,
		runID:  runID,
		symbol: symbol,
		logger: logger.With().Str("component", "recorder").Str("run", runID).Logger(),
	}
}

// Attach registers the recorder's hooks on p.
func (r *Recorder) Attach(p *Pipeline) {
	p.OnBarClose(r.recordBar)
	p.OnSnapshot(r.recordProfile)
	p.OnPriceEvent(r.recordPriceEvent)
	p.OnLedgerEvent(r.recordBet)
	p.OnStreak(r.recordStreak)
}

func (r *Recorder) recordBar(b *bar.Bar, _ []*bar.Bar) {
	row := db.BarRow{
		RunID:       r.runID,
		ID:          b.ID,
		Time:        b.Time,
		Open:        b.Open,
		High:        b.High,
		Low:         b.Low,
		Close:       b.Close,
		Volume:      b.Volume,
		QuoteVolume: b.QuoteVolume,
		Ticks:       b.TickCount,
		VolumeDelta: b.VolumeDelta,
		PriceDelta:  b.PriceDelta,
		CVD:         b.CVD,
		POC:         b.POC,
		TopCluster:  b.TopCluster,
		Absorption:  b.Absorption,
	}
	r.writer.WriteQuery("bars", db.InsertBarSQL, row.Args()...)
}

func (r *Recorder) recordProfile(s profile.Snapshot) {
	row := db.ProfileRow{
		RunID:           r.runID,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		VPOC:            s.VPOC,
		VAH:             s.VAH,
		VAL:             s.VAL,
		Min:             s.Min,
		Max:             s.Max,
		TotalVolume:     s.TotalVolume,
		ValueAreaVolume: s.ValueAreaVolume,
		ClosedAtPrice:   s.ClosedAtPrice,
		Normality:       s.Normality,
		Degenerate:      s.Degenerate,
	}
	r.writer.WriteQuery("profiles", db.InsertProfileSQL, row.Args()...)
}

func (r *Recorder) recordPriceEvent(ev priceaction.Event) {
	row := db.PriceEventRow{RunID: r.runID, Name: string(ev.Name), Time: ev.Time, Price: ev.Price}
	r.writer.WriteQuery("price_events", db.InsertPriceEventSQL, row.Args()...)
}

// recordBet stores a bet once, when it leaves the ledger.
func (r *Recorder) recordBet(ev ledger.Event) {
	if ev.Kind != ledger.EventBetRemove || ev.Bet.ExitTick == nil {
		return
	}
	b := ev.Bet
	symbol := b.Symbol
	if symbol == "" {
		symbol = r.symbol
	}
	row := db.BetRow{
		RunID:      r.runID,
		ID:         b.ID,
		Symbol:     symbol,
		Side:       string(b.Side),
		EntryTime:  b.Tick.Time,
		EntryPrice: b.Tick.Price,
		ExitTime:   b.ExitTick.Time,
		ExitPrice:  b.ExitTick.Price,
		BetSize:    b.BetSize,
		Risk:       b.Risk,
		Reward:     b.Reward,
		StopLoss:   b.StopLoss,
		TakeProfit: b.TakeProfit,
		Log:        b.Log,
		Win:        b.Win != nil && *b.Win,
		Features:   b.Features,
	}
	r.writer.WriteQuery("bets", db.InsertBetSQL, row.Args()...)
}

func (r *Recorder) recordStreak(s ledger.Streak) {
	deals, err := json.Marshal(s.Deals)
	if err != nil {
		r.logger.Warn().Err(err).Msg("encode streak deals")
		deals = nil
	}
	row := db.StreakRow{
		RunID:  r.runID,
		Type:   string(s.Type),
		From:   s.From,
		To:     s.To,
		Length: s.Length,
		Deals:  deals,
	}
	r.writer.WriteQuery("streaks", db.InsertStreakSQL, row.Args()...)
}
