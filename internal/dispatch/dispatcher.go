package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"audittrail/internal/domain"
	"audittrail/internal/outbox"
	"audittrail/pkg/apperrors"
)

const (
	defaultBatchSize   = 50
	defaultLease       = 2 * time.Minute
	defaultMaxAttempts = 5
)

// Sink receives events for durable storage. Writes must be idempotent on
// the event id so redelivered entries do not duplicate history.
type Sink interface {
	StoreEvent(ctx context.Context, event domain.Event) error
}

// Publisher forwards stored events to an external stream. Optional.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Dispatcher drains the outbox: it claims pending entries under a lease,
// writes each event to the sink, optionally publishes it, and finalizes the
// entry. A failed entry is retried until maxAttempts, then dead-lettered.
type Dispatcher struct {
	store       outbox.Store
	sink        Sink
	publisher   Publisher
	logger      *slog.Logger
	metrics     *Metrics
	batchSize   int
	lease       time.Duration
	maxAttempts int
}

type Option func(*Dispatcher)

func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithLease(lease time.Duration) Option {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.lease = lease
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func NewDispatcher(store outbox.Store, sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		sink:        sink,
		logger:      slog.Default(),
		batchSize:   defaultBatchSize,
		lease:       defaultLease,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunOnce claims one batch and delivers every entry in it. Each entry is
// attempted regardless of earlier failures in the batch; the first error is
// returned after the batch completes. Returns the number of entries claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	batch, err := d.store.AcquireBatch(ctx, d.batchSize, d.lease)
	if err != nil {
		return 0, fmt.Errorf("acquire outbox batch: %w", err)
	}
	d.metrics.ObserveBatchSize(len(batch))
	if len(batch) == 0 {
		return 0, nil
	}

	var firstErr error
	for _, entry := range batch {
		if err := d.deliver(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(batch), firstErr
}

func (d *Dispatcher) deliver(ctx context.Context, entry outbox.Entry) error {
	start := time.Now()

	if err := d.deliverOnce(ctx, entry); err != nil {
		status, markErr := d.store.MarkFailure(ctx, entry, err.Error(), d.maxAttempts)
		if markErr != nil {
			d.logger.Error("failed to record outbox delivery failure",
				"entry_id", entry.ID, "error", markErr)
			return markErr
		}
		result := "retry"
		if status == outbox.StatusDLQ {
			result = "dlq"
		}
		d.metrics.IncrementDelivery(result)
		d.logger.Warn("outbox delivery failed",
			"entry_id", entry.ID,
			"object", entry.ObjectType+":"+entry.ObjectID,
			"attempts", entry.Attempts+1,
			"status", status,
			"error", err)
		return fmt.Errorf("deliver outbox entry %s: %w", entry.ID, err)
	}

	if err := d.store.MarkSent(ctx, entry); err != nil {
		d.logger.Error("failed to mark outbox entry sent", "entry_id", entry.ID, "error", err)
		return fmt.Errorf("mark outbox entry %s sent: %w", entry.ID, err)
	}
	d.metrics.IncrementDelivery("sent")
	d.metrics.ObserveDeliveryLatency(time.Since(start))
	d.logger.Debug("outbox entry delivered",
		"entry_id", entry.ID, "object", entry.ObjectType+":"+entry.ObjectID)
	return nil
}

// deliverOnce stores the event and then publishes it. Storage comes first:
// a publish failure after a successful store is retried safely because the
// sink write is idempotent on the event id.
func (d *Dispatcher) deliverOnce(ctx context.Context, entry outbox.Entry) error {
	if err := d.sink.StoreEvent(ctx, entry.Payload); err != nil {
		return apperrors.Wrap(apperrors.KindDelivery, "store event", err)
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, entry.Payload); err != nil {
			return apperrors.Wrap(apperrors.KindDelivery, "publish event", err)
		}
	}
	return nil
}

// Requeue returns a dead-lettered entry to the pending pool.
func (d *Dispatcher) Requeue(ctx context.Context, id string) error {
	entryID, err := parseEntryID(id)
	if err != nil {
		return err
	}
	if err := d.store.Requeue(ctx, entryID); err != nil {
		return err
	}
	d.logger.Info("outbox entry requeued", "entry_id", id)
	return nil
}

func parseEntryID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.KindValidation, "malformed outbox entry id", err)
	}
	return parsed, nil
}
