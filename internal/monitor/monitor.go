package monitor

import (
	"context"
	"log"
	"time"

	"spotbot-core/internal/events"
	"spotbot-core/internal/model"
)

// Monitor watches the log event stream and forwards ERROR-level lines to
// an alert sink.
type Monitor struct {
	Bus     *events.Bus
	AlertFn func(string)
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.AlertFn == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.KindLog, 50)
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
				entry, ok := msg.(model.BotLog)
				if !ok || entry.Type != model.LogError {
					continue
				}
				m.AlertFn(formatAlert(entry))
			}
		}
	}()
}

func formatAlert(entry model.BotLog) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + entry.Message
}
