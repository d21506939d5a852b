package ledger

// monthMs is the window after which the next bet starts a new month.
const monthMs = int64(30 * 24 * 60 * 60 * 1000)

// HistogramBuckets is the number of outcome histogram buckets (0..10).
const HistogramBuckets = 11

// Statistics aggregates ledger events for reporting.
type Statistics struct {
	TotalDeals      int                   `json:"totalDeals"`
	TotalWinDeals   int                   `json:"totalWinDeals"`
	TotalLossDeals  int                   `json:"totalLossDeals"`
	ActiveDeals     int                   `json:"activeDeals"`
	Money           float64               `json:"money"`
	TotalProfit     float64               `json:"totalProfit"`
	TopProfit       float64               `json:"topProfit"`
	TopLoss         float64               `json:"topLoss"`
	FirstBetOfMonth int64                 `json:"firstBetOfMonth"`
	ProfitHistogram [HistogramBuckets]int `json:"profitHistogram"`
	LossHistogram   [HistogramBuckets]int `json:"lossHistogram"`

	profitLogs []float64
	lossLogs   []float64
}

// Report is a point-in-time summary derived from Statistics.
type Report struct {
	Statistics
	Winrate       float64 `json:"winrate"`
	MeanLogProfit float64 `json:"mediumLogProfit"`
	MeanLogLoss   float64 `json:"mediumLogLoss"`
}

// NewStatistics subscribes a collector to l.
func NewStatistics(l *Ledger) *Statistics {
	s := &Statistics{Money: l.Money()}
	l.OnEvent(s.observe)
	return s
}

func (s *Statistics) observe(ev Event) {
	switch ev.Kind {
	case EventBetNew:
		if s.FirstBetOfMonth == 0 || ev.Bet.Tick.Time > s.FirstBetOfMonth+monthMs {
			s.FirstBetOfMonth = ev.Bet.Tick.Time
		}
		s.TotalDeals++
		s.ActiveDeals++
	case EventTakeProfit:
		s.TotalProfit += ev.Amount
		s.ActiveDeals--
		s.TotalWinDeals++
		if ev.Amount > s.TopProfit {
			s.TopProfit = ev.Amount
		}
		s.profitLogs = append(s.profitLogs, ev.Bet.Log)
		if b := histogramBucket(ev.Bet.Log); b >= 0 {
			s.ProfitHistogram[b]++
		}
	case EventStopLoss:
		s.TotalProfit -= ev.Amount
		s.ActiveDeals--
		s.TotalLossDeals++
		if ev.Amount > s.TopLoss {
			s.TopLoss = ev.Amount
		}
		s.lossLogs = append(s.lossLogs, ev.Bet.Log)
		if b := histogramBucket(ev.Bet.Log); b >= 0 {
			s.LossHistogram[b]++
		}
	case EventMoneyChange:
		s.Money = ev.Money
	}
}

// Winrate is wins over resolved deals, 0 before the first resolution.
func (s *Statistics) Winrate() float64 {
	resolved := s.TotalDeals - s.ActiveDeals
	if resolved == 0 {
		return 0
	}
	return float64(s.TotalWinDeals) / float64(resolved)
}

// Report snapshots the counters.
func (s *Statistics) Report() Report {
	return Report{
		Statistics:    *s,
		Winrate:       s.Winrate(),
		MeanLogProfit: mean(s.profitLogs),
		MeanLogLoss:   mean(s.lossLogs),
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
