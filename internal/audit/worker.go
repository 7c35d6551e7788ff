package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink is where the worker delivers events. The Kafka sink is the production
// implementation; tests substitute a recorder.
type Sink interface {
	Ship(ctx context.Context, event Event) error
}

// Worker drains the outbox to the sink. Delivery is at-least-once: a crash
// between Ship and MarkShipped re-ships on the next pass, and consumers
// dedupe on (identity, action, timestamp).
type Worker struct {
	store    Store
	sink     Sink
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewWorker(store Store, sink Sink, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{store: store, sink: sink, interval: interval, batch: 100, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.logger.Warn("audit outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	pending, err := w.store.NextUnshipped(ctx, w.batch)
	if err != nil {
		return err
	}

	var shipped []int64
	for _, row := range pending {
		if err := w.sink.Ship(ctx, row.Event); err != nil {
			// Stop at the first failure to preserve per-identity ordering.
			break
		}
		shipped = append(shipped, row.Seq)
	}
	if len(shipped) == 0 {
		return nil
	}
	return w.store.MarkShipped(ctx, shipped)
}
