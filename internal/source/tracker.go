// Package source is the contract between mutation sources and the audit
// pipeline. A mutation source calls RecordPreSave before applying a tracked
// change, then RecordSave (or RecordDelete) once the change committed, or
// RecordAbort when the change failed before commit; the tracker turns the
// pair into a diff and stages it on the outbox inside the caller's
// transaction.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"audittrail/internal/diff"
	"audittrail/internal/domain"
	"audittrail/internal/event"
	"audittrail/internal/outbox"
	"audittrail/internal/platform/metrics"
	"audittrail/internal/registry"
)

const defaultSlotTTL = 5 * time.Minute

// Kicker wakes the dispatcher after an enqueue. Optional.
type Kicker interface {
	Kick()
}

// heldSlot is a per-identity serialization slot taken at pre-save. takenAt
// lets Sweep reclaim slots whose mutation never resolved.
type heldSlot struct {
	release func()
	takenAt time.Time
}

type Tracker struct {
	registry  *registry.Registry
	arena     *diff.Arena
	relations *diff.RelationBuffer
	engine    *diff.Engine
	builder   *event.Builder
	store     outbox.Store
	logger    *slog.Logger
	kicker    Kicker
	metrics   *metrics.Metrics
	slotTTL   time.Duration

	mu       sync.Mutex
	releases map[string]heldSlot
}

type Option func(*Tracker)

func WithKicker(k Kicker) Option {
	return func(t *Tracker) { t.kicker = k }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithSlotTTL overrides how long an unresolved pre-save may hold its
// serialization slot before Sweep reclaims it.
func WithSlotTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.slotTTL = ttl
		}
	}
}

func NewTracker(
	reg *registry.Registry,
	arena *diff.Arena,
	relations *diff.RelationBuffer,
	engine *diff.Engine,
	builder *event.Builder,
	store outbox.Store,
	opts ...Option,
) *Tracker {
	t := &Tracker{
		registry:  reg,
		arena:     arena,
		relations: relations,
		engine:    engine,
		builder:   builder,
		store:     store,
		logger:    slog.Default(),
		slotTTL:   defaultSlotTTL,
		releases:  make(map[string]heldSlot),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordPreSave captures the pre-mutation snapshot. It also takes the
// per-identity serialization slot, held until the matching RecordSave,
// RecordDelete, or RecordAbort completes, so two concurrent mutations of the
// same object cannot interleave their capture/consume pairs.
func (t *Tracker) RecordPreSave(_ context.Context, id domain.Identity, before map[string]any) {
	if !t.registry.Tracked(id.Type) {
		return
	}
	release := t.arena.Acquire(id)
	t.mu.Lock()
	t.releases[id.String()] = heldSlot{release: release, takenAt: time.Now()}
	t.mu.Unlock()

	t.arena.Capture(id, before)
}

// RecordAbort discards the capture of a mutation that failed between its
// pre-save and save, releasing the serialization slot so later mutations of
// the same object can proceed. Sources must call it on every exit path that
// skips RecordSave and RecordDelete; Sweep covers callers that crash before
// reaching any of the three.
func (t *Tracker) RecordAbort(_ context.Context, id domain.Identity) {
	if !t.registry.Tracked(id.Type) {
		return
	}
	t.arena.Consume(id)
	t.relations.Consume(id)
	t.release(id)
}

// RecordSave computes and stages the diff for a committed insert or update.
// An update whose tracked fields are all unchanged stages nothing.
func (t *Tracker) RecordSave(ctx context.Context, id domain.Identity, after map[string]any, created bool) error {
	if !t.registry.Tracked(id.Type) {
		return nil
	}
	defer t.release(id)

	cfg, _ := t.registry.Get(id.Type)
	before, _ := t.arena.Consume(id)

	kind := domain.KindUpdated
	if created {
		kind = domain.KindCreated
		before = nil
	}

	changes := t.engine.Compute(ctx, id, cfg, before, after, kind)
	for field, change := range t.engine.ComputeRelations(ctx, id, cfg, t.relations.Consume(id)) {
		changes[field] = change
	}

	if len(changes) == 0 && kind == domain.KindUpdated {
		t.logger.Debug("no tracked fields changed; skipping event", "object", id.String())
		return nil
	}
	return t.stage(ctx, id, kind, changes)
}

// RecordDelete stages the deletion event from the pre-delete snapshot.
func (t *Tracker) RecordDelete(ctx context.Context, id domain.Identity) error {
	if !t.registry.Tracked(id.Type) {
		return nil
	}
	defer t.release(id)

	cfg, _ := t.registry.Get(id.Type)
	before, _ := t.arena.Consume(id)
	t.relations.Consume(id) // pending relation deltas die with the object

	changes := t.engine.Compute(ctx, id, cfg, before, nil, domain.KindDeleted)
	return t.stage(ctx, id, domain.KindDeleted, changes)
}

// RecordRelation buffers a membership change on a many-to-many field. The
// deltas accumulate net effect until the owning save consumes them.
func (t *Tracker) RecordRelation(_ context.Context, id domain.Identity, field string, action diff.RelationAction, keys []string, relatedType string) {
	if !t.registry.Tracked(id.Type) {
		return
	}
	cfg, _ := t.registry.Get(id.Type)
	if !cfg.IsM2M(field) {
		t.logger.Warn("relation change on unregistered many-to-many field",
			"object", id.String(), "field", field)
		return
	}
	t.relations.Track(id, field, action, keys, relatedType, cfg.Label(field))
}

// FlushRelations stages a standalone updated event for relation changes that
// happen outside any save, such as a membership edit on its own endpoint.
func (t *Tracker) FlushRelations(ctx context.Context, id domain.Identity) error {
	if !t.registry.Tracked(id.Type) {
		return nil
	}
	cfg, _ := t.registry.Get(id.Type)
	changes := t.engine.ComputeRelations(ctx, id, cfg, t.relations.Consume(id))
	if len(changes) == 0 {
		return nil
	}
	return t.stage(ctx, id, domain.KindUpdated, changes)
}

func (t *Tracker) stage(ctx context.Context, id domain.Identity, kind domain.EventKind, changes domain.Diff) error {
	if err := diff.Validate(changes); err != nil {
		return fmt.Errorf("stage %s event for %s: %w", kind, id.String(), err)
	}

	evt := t.builder.Build(ctx, id, kind, changes)
	entry, err := t.store.Enqueue(ctx, id, &evt, evt.Context)
	if err != nil {
		// The enclosing transaction must abort; a lost enqueue is a lost event.
		return fmt.Errorf("stage %s event for %s: %w", kind, id.String(), err)
	}

	t.metrics.IncrementStaged(string(kind))
	t.logger.Debug("audit event staged",
		"entry_id", entry.ID, "object", id.String(), "kind", kind)
	if t.kicker != nil {
		t.kicker.Kick()
	}
	return nil
}

// Sweep reclaims serialization slots whose mutation never reached its save,
// delete, or abort call, then evicts expired snapshots. A slot held past the
// TTL is presumed abandoned; a mutation that somehow outlives it loses its
// serialization guarantee rather than blocking every later mutation of the
// same object. Returns how many slots and snapshots were reclaimed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	reclaimed := 0
	for key, slot := range t.releases {
		if now.Sub(slot.takenAt) > t.slotTTL {
			delete(t.releases, key)
			slot.release()
			reclaimed++
		}
	}
	t.mu.Unlock()
	return reclaimed + t.arena.Sweep(now)
}

func (t *Tracker) release(id domain.Identity) {
	t.mu.Lock()
	slot, held := t.releases[id.String()]
	delete(t.releases, id.String())
	t.mu.Unlock()
	if held {
		slot.release()
	}
}
