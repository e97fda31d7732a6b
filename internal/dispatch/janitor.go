package dispatch

import (
	"context"
	"log/slog"
	"time"

	"audittrail/internal/outbox"
)

const (
	defaultJanitorInterval = time.Minute
	defaultSentRetention   = 7 * 24 * time.Hour
)

// Sweeper reclaims stale capture state: expired snapshots and the
// serialization slots of abandoned mutations. Satisfied by source.Tracker.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Janitor handles periodic upkeep: expired leases go back to pending,
// delivered entries past retention are purged, and abandoned snapshots are
// swept out of the capture arena.
type Janitor struct {
	store     outbox.Store
	sweeper   Sweeper
	logger    *slog.Logger
	metrics   *Metrics
	interval  time.Duration
	retention time.Duration
}

type JanitorOption func(*Janitor)

func WithJanitorInterval(interval time.Duration) JanitorOption {
	return func(j *Janitor) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

func WithSentRetention(retention time.Duration) JanitorOption {
	return func(j *Janitor) {
		if retention > 0 {
			j.retention = retention
		}
	}
}

func WithSweeper(s Sweeper) JanitorOption {
	return func(j *Janitor) { j.sweeper = s }
}

func WithJanitorMetrics(m *Metrics) JanitorOption {
	return func(j *Janitor) { j.metrics = m }
}

func NewJanitor(store outbox.Store, logger *slog.Logger, opts ...JanitorOption) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		store:     store,
		logger:    logger,
		interval:  defaultJanitorInterval,
		retention: defaultSentRetention,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run performs upkeep on an interval until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single upkeep pass. Failures are logged, not returned:
// upkeep is best-effort and the next tick retries.
func (j *Janitor) RunOnce(ctx context.Context) {
	released, err := j.store.ReleaseExpiredLocks(ctx)
	if err != nil {
		j.logger.Error("failed to release expired outbox locks", "error", err)
	} else if released > 0 {
		j.metrics.AddReclaimedLocks(released)
		j.logger.Info("released expired outbox locks", "count", released)
	}

	purged, err := j.store.PurgeSentOlderThan(ctx, j.retention)
	if err != nil {
		j.logger.Error("failed to purge delivered outbox entries", "error", err)
	} else if purged > 0 {
		j.logger.Info("purged delivered outbox entries", "count", purged)
	}

	if j.sweeper != nil {
		if swept := j.sweeper.Sweep(time.Now()); swept > 0 {
			j.logger.Info("swept stale snapshots", "count", swept)
		}
	}
}
