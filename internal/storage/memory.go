package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"audittrail/internal/domain"
)

// MemoryBackend keeps events in process memory. Used by tests and by the
// demo wiring; it follows the same keyset pagination shape as the Postgres
// backend.
type MemoryBackend struct {
	mu     sync.RWMutex
	events map[string]domain.Event
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{events: make(map[string]domain.Event)}
}

func (b *MemoryBackend) StoreEvent(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.EventID] = event
	return nil
}

func (b *MemoryBackend) FetchObjectEvents(_ context.Context, objectType, objectID string, limit int, cursor string) (Page, error) {
	return b.fetch(func(e domain.Event) bool {
		return e.ObjectType == objectType && e.ObjectID == objectID
	}, limit, cursor)
}

func (b *MemoryBackend) FetchUserEvents(_ context.Context, userID string, limit int, cursor string) (Page, error) {
	return b.fetch(func(e domain.Event) bool {
		return actorID(e) == userID
	}, limit, cursor)
}

// Len reports the number of stored events. Intended for tests.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

type keysetCursor struct {
	Timestamp time.Time `json:"t"`
	EventID   string    `json:"id"`
}

// after reports whether the event sorts strictly after the cursor position
// in newest-first order.
func (c keysetCursor) after(e domain.Event) bool {
	if !e.Timestamp.Equal(c.Timestamp) {
		return e.Timestamp.Before(c.Timestamp)
	}
	return e.EventID < c.EventID
}

func (b *MemoryBackend) fetch(match func(domain.Event) bool, limit int, cursor string) (Page, error) {
	var resume *keysetCursor
	if cursor != "" {
		resume = &keysetCursor{}
		if err := decodeCursor(cursor, resume); err != nil {
			return Page{}, err
		}
	}

	b.mu.RLock()
	matched := make([]domain.Event, 0)
	for _, event := range b.events {
		if !match(event) {
			continue
		}
		if resume != nil && !resume.after(event) {
			continue
		}
		matched = append(matched, event)
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].EventID > matched[j].EventID
	})

	page := Page{}
	if len(matched) > limit {
		last := matched[limit-1]
		page.NextCursor = encodeCursor(keysetCursor{Timestamp: last.Timestamp, EventID: last.EventID})
		matched = matched[:limit]
	}
	page.Events = matched
	return page, nil
}
