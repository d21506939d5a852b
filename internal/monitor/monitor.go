package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"orderflow-core/internal/events"
	"orderflow-core/internal/ledger"
)

// Monitor watches completed streaks and emits alerts.
type Monitor struct {
	Bus    *events.Bus
	Sink   AlertSink
	Rule   LossStreakRule
	Logger zerolog.Logger
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		m.Logger.Info().Msg("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventStreakClosed, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.handle(msg)
			}
		}
	}()
}

func (m *Monitor) handle(msg any) {
	s, ok := msg.(ledger.Streak)
	if !ok {
		return
	}
	fire, reason := m.Rule.Check(s)
	if !fire {
		return
	}
	if err := m.Sink.Send(formatAlert(reason)); err != nil {
		m.Logger.Error().Err(err).Msg("alert delivery failed")
	}
}

func formatAlert(msg string) string {
	return "[" + time.Now().UTC().Format(time.RFC3339) + "] " + msg
}
