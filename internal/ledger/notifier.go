package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Notifier delivers human-readable trade notifications.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, text string) error {
	n.Logger.Info().Str("notification", text).Msg("📣 notify")
	return nil
}

// NotifyBets forwards openings and resolutions of l to n. Delivery failures
// are logged and never reach the ledger.
func NotifyBets(ctx context.Context, l *Ledger, n Notifier, logger zerolog.Logger) {
	l.OnEvent(func(ev Event) {
		text := notification(ev)
		if text == "" {
			return
		}
		if err := n.Notify(ctx, text); err != nil {
			logger.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("notification failed")
		}
	})
}

func notification(ev Event) string {
	b := ev.Bet
	switch ev.Kind {
	case EventBetNew:
		return fmt.Sprintf("💎 Executed: %s of %s at price: $%g\nSTOP_LOSS AT: $%g\nTAKE_PROFIT AT: $%g",
			strings.ToUpper(string(b.Side)), b.Symbol, b.Tick.Price, b.StopLoss, b.TakeProfit)
	case EventTakeProfit:
		return fmt.Sprintf("🤑 Executed TAKE_PROFIT: %+.2f, balance $%.2f", ev.Amount, ev.Money)
	case EventStopLoss:
		return fmt.Sprintf("😞 Executed STOP_LOSS: %+.2f, balance $%.2f", -ev.Amount, ev.Money)
	}
	return ""
}
