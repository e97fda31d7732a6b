package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"audittrail/internal/domain"
	"audittrail/pkg/apperrors"
	"audittrail/pkg/sentinel"
)

// MemoryStore is the in-memory outbox used by tests and single-process
// deployments. Semantics match the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	seq     map[uuid.UUID]uint64
	nextSeq uint64
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory outbox.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uuid.UUID]*Entry),
		seq:     make(map[uuid.UUID]uint64),
		now:     time.Now,
	}
}

// SetClock overrides the store clock. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Enqueue(_ context.Context, id domain.Identity, payload *domain.Event, evctx domain.EventContext) (Entry, error) {
	if payload == nil {
		return Entry{}, apperrors.New(apperrors.KindEnqueue, "nil payload")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := uuid.New()
	payload.EventID = entryID.String()
	now := s.now()
	entry := &Entry{
		ID:         entryID,
		ObjectType: id.Type,
		ObjectID:   id.Key,
		Payload:    *payload,
		Context:    evctx,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.entries[entryID] = entry
	s.nextSeq++
	s.seq[entryID] = s.nextSeq
	return *entry, nil
}

func (s *MemoryStore) AcquireBatch(_ context.Context, maxCount int, lease time.Duration) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*Entry, 0)
	for _, entry := range s.entries {
		if entry.Status == StatusPending {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return s.seq[pending[i].ID] < s.seq[pending[j].ID]
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if maxCount < len(pending) {
		pending = pending[:maxCount]
	}

	now := s.now()
	expires := now.Add(lease)
	claimed := make([]Entry, 0, len(pending))
	for _, entry := range pending {
		entry.Status = StatusLocked
		lockedAt := now
		entry.LockedAt = &lockedAt
		lockExpires := expires
		entry.LockExpiresAt = &lockExpires
		entry.UpdatedAt = now
		claimed = append(claimed, *entry)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entry.ID]
	if !ok {
		return fmt.Errorf("outbox entry %s: %w", entry.ID, sentinel.ErrNotFound)
	}
	stored.Status = StatusSent
	stored.LockedAt = nil
	stored.LockExpiresAt = nil
	stored.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkFailure(_ context.Context, entry Entry, errText string, maxAttempts int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entry.ID]
	if !ok {
		return "", fmt.Errorf("outbox entry %s: %w", entry.ID, sentinel.ErrNotFound)
	}
	stored.Attempts++
	stored.LastError = errText
	if stored.Attempts >= maxAttempts {
		stored.Status = StatusDLQ
	} else {
		stored.Status = StatusPending
	}
	stored.LockedAt = nil
	stored.LockExpiresAt = nil
	stored.UpdatedAt = s.now()
	return stored.Status, nil
}

func (s *MemoryStore) ReleaseExpiredLocks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	released := 0
	for _, entry := range s.entries {
		if entry.Status != StatusLocked || entry.LockExpiresAt == nil {
			continue
		}
		if entry.LockExpiresAt.After(now) {
			continue
		}
		entry.Status = StatusPending
		entry.LockedAt = nil
		entry.LockExpiresAt = nil
		entry.UpdatedAt = now
		released++
	}
	return released, nil
}

func (s *MemoryStore) PurgeSentOlderThan(_ context.Context, age time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.now().Add(-age)
	purged := 0
	for id, entry := range s.entries {
		if entry.Status == StatusSent && entry.UpdatedAt.Before(threshold) {
			delete(s.entries, id)
			delete(s.seq, id)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) Requeue(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("outbox entry %s: %w", id, sentinel.ErrNotFound)
	}
	if stored.Status != StatusDLQ {
		return fmt.Errorf("outbox entry %s is %s: %w", id, stored.Status, sentinel.ErrInvalidState)
	}
	stored.Status = StatusPending
	stored.Attempts = 0
	stored.LastError = ""
	stored.LockedAt = nil
	stored.LockExpiresAt = nil
	stored.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	for _, entry := range s.entries {
		switch entry.Status {
		case StatusPending:
			stats.Pending++
		case StatusLocked:
			stats.Locked++
		case StatusSent:
			stats.Sent++
		case StatusDLQ:
			stats.DLQ++
		}
	}
	return stats, nil
}

// Get returns a copy of the entry. Intended for tests.
func (s *MemoryStore) Get(id uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

var _ Store = (*MemoryStore)(nil)
