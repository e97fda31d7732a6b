package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"audittrail/internal/domain"
	"audittrail/pkg/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
}

func (s *MemoryStoreSuite) enqueue(n int) []Entry {
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		payload := domain.Event{
			ObjectType: "billing.invoice",
			ObjectID:   "42",
			Kind:       domain.KindUpdated,
			Timestamp:  time.Now(),
		}
		entry, err := s.store.Enqueue(context.Background(),
			domain.Identity{Type: "billing.invoice", Key: "42"}, &payload, domain.EventContext{})
		s.Require().NoError(err)
		entries = append(entries, entry)
	}
	return entries
}

func (s *MemoryStoreSuite) TestEnqueueAssignsEventID() {
	payload := domain.Event{ObjectType: "billing.invoice", ObjectID: "42", Kind: domain.KindCreated}
	entry, err := s.store.Enqueue(context.Background(),
		domain.Identity{Type: "billing.invoice", Key: "42"}, &payload, domain.EventContext{})
	s.Require().NoError(err)

	s.Equal(entry.ID.String(), payload.EventID, "entry id is written back into the payload")
	s.Equal(entry.ID.String(), entry.Payload.EventID)
	s.Equal(StatusPending, entry.Status)
	s.Zero(entry.Attempts)
}

func (s *MemoryStoreSuite) TestAcquireBatchOldestFirst() {
	base := time.Now()
	clock := base
	s.store.SetClock(func() time.Time { return clock })

	var staged []Entry
	for i := 0; i < 3; i++ {
		clock = base.Add(time.Duration(i) * time.Second)
		staged = append(staged, s.enqueue(1)...)
	}

	claimed, err := s.store.AcquireBatch(context.Background(), 2, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(claimed, 2)
	s.Equal(staged[0].ID, claimed[0].ID)
	s.Equal(staged[1].ID, claimed[1].ID)
	s.Equal(StatusLocked, claimed[0].Status)
	s.Require().NotNil(claimed[0].LockExpiresAt)
	s.True(claimed[0].LockExpiresAt.After(clock))
}

func (s *MemoryStoreSuite) TestAcquireBatchSkipsLocked() {
	s.enqueue(3)

	first, err := s.store.AcquireBatch(context.Background(), 2, time.Minute)
	s.Require().NoError(err)
	s.Len(first, 2)

	second, err := s.store.AcquireBatch(context.Background(), 10, time.Minute)
	s.Require().NoError(err)
	s.Len(second, 1)
	for _, claimed := range first {
		s.NotEqual(claimed.ID, second[0].ID)
	}
}

func (s *MemoryStoreSuite) TestConcurrentClaimantsAreDisjoint() {
	const pendingRows = 20
	const claimants = 5
	s.enqueue(pendingRows)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
	)
	for worker := 0; worker < claimants; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := s.store.AcquireBatch(context.Background(), 7, time.Minute)
			assert.NoError(s.T(), err)
			mu.Lock()
			defer mu.Unlock()
			for _, entry := range batch {
				claimed[entry.ID]++
			}
		}()
	}
	wg.Wait()

	s.LessOrEqual(len(claimed), pendingRows)
	for id, count := range claimed {
		s.Equalf(1, count, "entry %s claimed by multiple workers", id)
	}
}

func (s *MemoryStoreSuite) TestMarkSentIsTerminal() {
	entry := s.enqueue(1)[0]
	claimed, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkSent(context.Background(), claimed[0]))

	stored, ok := s.store.Get(entry.ID)
	s.Require().True(ok)
	s.Equal(StatusSent, stored.Status)
	s.Nil(stored.LockedAt)

	// Sent entries are no longer claimable.
	batch, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	s.Empty(batch)
}

func (s *MemoryStoreSuite) TestMarkFailureRetriesThenDeadLetters() {
	const maxAttempts = 3
	entry := s.enqueue(1)[0]

	for attempt := 1; attempt < maxAttempts; attempt++ {
		claimed, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
		s.Require().NoError(err)
		s.Require().Len(claimed, 1)

		status, err := s.store.MarkFailure(context.Background(), claimed[0], "kaboom", maxAttempts)
		s.Require().NoError(err)
		s.Equal(StatusPending, status, "attempt %d must stay reclaimable", attempt)
	}

	claimed, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	status, err := s.store.MarkFailure(context.Background(), claimed[0], "kaboom", maxAttempts)
	s.Require().NoError(err)
	s.Equal(StatusDLQ, status)

	stored, _ := s.store.Get(entry.ID)
	s.Equal(maxAttempts, stored.Attempts)
	s.Equal("kaboom", stored.LastError)

	// Dead-lettered entries are invisible to claims.
	batch, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	s.Empty(batch)
}

func (s *MemoryStoreSuite) TestReleaseExpiredLocks() {
	base := time.Now()
	clock := base
	s.store.SetClock(func() time.Time { return clock })
	s.enqueue(2)

	// First entry gets a short lease, second a long one.
	first, err := s.store.AcquireBatch(context.Background(), 1, time.Second)
	s.Require().NoError(err)
	second, err := s.store.AcquireBatch(context.Background(), 1, time.Hour)
	s.Require().NoError(err)

	clock = base.Add(time.Minute)
	released, err := s.store.ReleaseExpiredLocks(context.Background())
	s.Require().NoError(err)
	s.Equal(1, released)

	firstStored, _ := s.store.Get(first[0].ID)
	s.Equal(StatusPending, firstStored.Status)
	s.Nil(firstStored.LockExpiresAt)

	secondStored, _ := s.store.Get(second[0].ID)
	s.Equal(StatusLocked, secondStored.Status, "fresh leases stay untouched")
}

func (s *MemoryStoreSuite) TestPurgeSentOlderThan() {
	base := time.Now()
	clock := base
	s.store.SetClock(func() time.Time { return clock })

	entries := s.enqueue(2)
	claimed, err := s.store.AcquireBatch(context.Background(), 2, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkSent(context.Background(), claimed[0]))

	clock = base.Add(48 * time.Hour)
	s.Require().NoError(s.store.MarkSent(context.Background(), claimed[1]))

	purged, err := s.store.PurgeSentOlderThan(context.Background(), 24*time.Hour)
	s.Require().NoError(err)
	s.Equal(1, purged)

	_, oldGone := s.store.Get(entries[0].ID)
	s.False(oldGone)
	_, recentKept := s.store.Get(entries[1].ID)
	s.True(recentKept)
}

func (s *MemoryStoreSuite) TestRequeueResetsDeadLetter() {
	entry := s.enqueue(1)[0]
	claimed, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	_, err = s.store.MarkFailure(context.Background(), claimed[0], "kaboom", 1)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Requeue(context.Background(), entry.ID))

	stored, _ := s.store.Get(entry.ID)
	s.Equal(StatusPending, stored.Status)
	s.Zero(stored.Attempts)
	s.Empty(stored.LastError)
}

func (s *MemoryStoreSuite) TestRequeueRejectsNonDLQ() {
	entry := s.enqueue(1)[0]
	err := s.store.Requeue(context.Background(), entry.ID)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	err = s.store.Requeue(context.Background(), uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestStats() {
	s.enqueue(3)
	claimed, err := s.store.AcquireBatch(context.Background(), 2, time.Minute)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.store.MarkSent(context.Background(), claimed[0]))
	_, err = s.store.MarkFailure(context.Background(), claimed[1], "kaboom", 1)
	require.NoError(s.T(), err)

	stats, err := s.store.Stats(context.Background())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), Stats{Pending: 1, Locked: 0, Sent: 1, DLQ: 1}, stats)
}
