package dispatch

import (
	"context"
	"log/slog"
	"time"
)

const defaultPollInterval = 5 * time.Second

// Worker runs the dispatcher on an interval. A Kick wakes it early after an
// enqueue so fresh entries do not wait for the next tick.
type Worker struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	interval   time.Duration
	kick       chan struct{}
}

func NewWorker(d *Dispatcher, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		dispatcher: d,
		logger:     logger,
		interval:   interval,
		kick:       make(chan struct{}, 1),
	}
}

// Kick requests an immediate poll. Never blocks; a pending kick coalesces
// with later ones.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run polls until the context is cancelled. Delivery errors are logged and
// the loop keeps going; only cancellation stops it. When a full batch was
// claimed the worker polls again immediately to drain a backlog.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		claimed, err := w.dispatcher.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("outbox poll cycle failed", "error", err)
		}
		if claimed >= w.dispatcher.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.kick:
		}
	}
}
