package source

import (
	"context"
	"fmt"
	"sync"

	"audittrail/internal/diff"
	"audittrail/internal/domain"
	"audittrail/pkg/sentinel"
)

// RecordStore is a reference mutation source: an in-memory table of loose
// records wired to a Tracker. It shows the call order a real integration
// must follow and backs the end-to-end tests and the demo binary wiring.
type RecordStore struct {
	tracker *Tracker

	mu      sync.Mutex
	records map[string]map[string]any
}

func NewRecordStore(tracker *Tracker) *RecordStore {
	return &RecordStore{
		tracker: tracker,
		records: make(map[string]map[string]any),
	}
}

// Save inserts or updates a record and stages the matching audit event.
func (s *RecordStore) Save(ctx context.Context, id domain.Identity, fields map[string]any) error {
	s.mu.Lock()
	existing, ok := s.records[id.String()]
	var before map[string]any
	if ok {
		before = copyFields(existing)
	}
	s.mu.Unlock()

	if ok {
		s.tracker.RecordPreSave(ctx, id, before)
	}

	after := copyFields(fields)
	s.mu.Lock()
	s.records[id.String()] = after
	s.mu.Unlock()

	if err := s.tracker.RecordSave(ctx, id, after, !ok); err != nil {
		return fmt.Errorf("save %s: %w", id.String(), err)
	}
	return nil
}

// Delete removes a record and stages the deletion event.
func (s *RecordStore) Delete(ctx context.Context, id domain.Identity) error {
	s.mu.Lock()
	existing, ok := s.records[id.String()]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("record %s: %w", id.String(), sentinel.ErrNotFound)
	}
	before := copyFields(existing)
	delete(s.records, id.String())
	s.mu.Unlock()

	s.tracker.RecordPreSave(ctx, id, before)
	if err := s.tracker.RecordDelete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id.String(), err)
	}
	return nil
}

// SetRelation applies a membership change on its own, outside any save, and
// stages the standalone relation event.
func (s *RecordStore) SetRelation(ctx context.Context, id domain.Identity, field string, action diff.RelationAction, keys []string, relatedType string) error {
	s.tracker.RecordRelation(ctx, id, field, action, keys, relatedType)
	if err := s.tracker.FlushRelations(ctx, id); err != nil {
		return fmt.Errorf("set relation %s.%s: %w", id.String(), field, err)
	}
	return nil
}

// Get returns a copy of the stored record.
func (s *RecordStore) Get(id domain.Identity) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[id.String()]
	if !ok {
		return nil, false
	}
	return copyFields(existing), true
}

func copyFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
