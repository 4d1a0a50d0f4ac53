package events

import (
	"context"

	"gitsync/pkg/logging"
)

// RunLogSink writes every event published on bus through pkg/logging until
// ctx is done or the bus is closed. Warnings are logged at warn level.
func RunLogSink(ctx context.Context, bus *Bus, buffer int) {
	events, cancel := bus.Subscribe(buffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == EventTypeWarning {
				logging.Warn("Events", "[%s] %s: %s", e.Application, e.Reason, e.Message)
			} else {
				logging.Info("Events", "[%s] %s: %s", e.Application, e.Reason, e.Message)
			}
		}
	}
}
