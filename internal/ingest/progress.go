package ingest

import (
	"context"

	"candlesync/internal/domain"
	"candlesync/internal/ports"
)

// emitProgress delivers an event to the optional progress channel without
// ever stalling the producer: a nil channel is ignored and a full channel
// drops the event with a warning. A nil event is the completion sentinel.
func emitProgress(ctx context.Context, logger ports.Logger, ch chan<- *domain.ProgressEvent, ev *domain.ProgressEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		fields := map[string]interface{}{}
		if ev != nil {
			fields["symbol"] = ev.Symbol
			fields["date"] = ev.Date
			fields["progress"] = ev.Progress
		}
		logger.Warn(ctx, "Progress channel full, dropping event", fields)
	}
}
