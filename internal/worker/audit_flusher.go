package worker

import (
	"context"
	"log/slog"
	"time"

	"faturamento/internal/service"
)

// AuditFlusher periodically retries locally buffered audit events against
// the durable store. The recorder never blocks a workflow transition on
// the durable sink; this worker is the reconciliation path for events the
// sink missed.
type AuditFlusher struct {
	recorder service.AuditRecorder
	interval time.Duration
}

func NewAuditFlusher(recorder service.AuditRecorder) *AuditFlusher {
	return &AuditFlusher{
		recorder: recorder,
		interval: 15 * time.Second,
	}
}

func (w *AuditFlusher) Start(ctx context.Context) {
	slog.Info("starting audit flusher")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("audit flusher stopped")
			return
		case <-ticker.C:
			if n := w.recorder.FlushPending(ctx); n > 0 {
				slog.Info("flushed buffered audit events", "count", n)
			}
		}
	}
}
