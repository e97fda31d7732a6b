package diff

import (
	"sync"

	"audittrail/internal/domain"
)

// RelationAction discriminates multi-relation membership operations.
type RelationAction string

const (
	RelationAdd    RelationAction = "add"
	RelationRemove RelationAction = "remove"
)

// RelationDelta is the net membership change accumulated for one
// multi-relation field between mutation and emission.
type RelationDelta struct {
	Added       map[string]struct{}
	Removed     map[string]struct{}
	RelatedType string
	Label       string
}

// Empty reports whether the delta carries no membership change.
func (d RelationDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// RelationBuffer accumulates multi-relation membership deltas per object
// identity and field until the owning record's diff is emitted. Accumulation
// is net-effect: removing a key that is still pending as added cancels the
// addition instead of logging both sides.
type RelationBuffer struct {
	mu      sync.Mutex
	pending map[string]map[string]*RelationDelta
}

// NewRelationBuffer creates an empty buffer.
func NewRelationBuffer() *RelationBuffer {
	return &RelationBuffer{pending: make(map[string]map[string]*RelationDelta)}
}

// Track records membership keys added to or removed from a field.
func (b *RelationBuffer) Track(id domain.Identity, field string, action RelationAction, keys []string, relatedType, label string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields, ok := b.pending[id.String()]
	if !ok {
		fields = make(map[string]*RelationDelta)
		b.pending[id.String()] = fields
	}
	delta, ok := fields[field]
	if !ok {
		delta = &RelationDelta{
			Added:   make(map[string]struct{}),
			Removed: make(map[string]struct{}),
		}
		fields[field] = delta
	}
	if relatedType != "" {
		delta.RelatedType = relatedType
	}
	if label != "" {
		delta.Label = label
	}

	for _, key := range keys {
		switch action {
		case RelationAdd:
			if _, pending := delta.Removed[key]; pending {
				delete(delta.Removed, key)
				continue
			}
			delta.Added[key] = struct{}{}
		case RelationRemove:
			if _, pending := delta.Added[key]; pending {
				delete(delta.Added, key)
				continue
			}
			delta.Removed[key] = struct{}{}
		}
	}
}

// Consume removes and returns all non-empty deltas for the identity, keyed by
// field name.
func (b *RelationBuffer) Consume(id domain.Identity) map[string]RelationDelta {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields, ok := b.pending[id.String()]
	if !ok {
		return nil
	}
	delete(b.pending, id.String())

	out := make(map[string]RelationDelta, len(fields))
	for field, delta := range fields {
		if delta.Empty() {
			continue
		}
		out[field] = *delta
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ConsumeField removes and returns the delta for a single field, leaving other
// fields of the identity pending. The second return is false when the field
// has no non-empty delta.
func (b *RelationBuffer) ConsumeField(id domain.Identity, field string) (RelationDelta, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields, ok := b.pending[id.String()]
	if !ok {
		return RelationDelta{}, false
	}
	delta, ok := fields[field]
	if !ok {
		return RelationDelta{}, false
	}
	delete(fields, field)
	if len(fields) == 0 {
		delete(b.pending, id.String())
	}
	if delta.Empty() {
		return RelationDelta{}, false
	}
	return *delta, true
}
