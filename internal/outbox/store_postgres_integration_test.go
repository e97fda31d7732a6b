//go:build integration

package outbox

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"audittrail/internal/domain"
	"audittrail/pkg/sentinel"
)

type PostgresStoreSuite struct {
	suite.Suite
	db    *sql.DB
	store *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)

	suite.Run(t, &PostgresStoreSuite{db: db})
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE audit_outbox`)
	s.Require().NoError(err)
	s.store = NewPostgresStore(s.db)
}

func (s *PostgresStoreSuite) enqueue() Entry {
	payload := domain.Event{
		ObjectType: "billing.invoice",
		ObjectID:   "42",
		Kind:       domain.KindUpdated,
		Timestamp:  time.Now().UTC(),
	}
	entry, err := s.store.Enqueue(context.Background(),
		domain.Identity{Type: "billing.invoice", Key: "42"}, &payload, domain.EventContext{})
	s.Require().NoError(err)
	return entry
}

func (s *PostgresStoreSuite) TestEnqueueRoundTrip() {
	entry := s.enqueue()
	s.Equal(entry.ID.String(), entry.Payload.EventID)

	claimed, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal(entry.ID, claimed[0].ID)
	s.Equal(StatusLocked, claimed[0].Status)
	s.Equal("billing.invoice", claimed[0].Payload.ObjectType)
	s.Require().NotNil(claimed[0].LockExpiresAt)
}

func (s *PostgresStoreSuite) TestClaimLifecycle() {
	s.enqueue()
	s.enqueue()

	claimed, err := s.store.AcquireBatch(context.Background(), 2, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(claimed, 2)

	s.Require().NoError(s.store.MarkSent(context.Background(), claimed[0]))

	status, err := s.store.MarkFailure(context.Background(), claimed[1], "broker down", 3)
	s.Require().NoError(err)
	s.Equal(StatusPending, status)

	stats, err := s.store.Stats(context.Background())
	s.Require().NoError(err)
	s.Equal(Stats{Pending: 1, Sent: 1}, stats)
}

func (s *PostgresStoreSuite) TestMarkFailureDeadLetters() {
	entry := s.enqueue()

	claimed, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	status, err := s.store.MarkFailure(context.Background(), claimed[0], "broker down", 1)
	s.Require().NoError(err)
	s.Equal(StatusDLQ, status)

	// Dead-lettered rows need an explicit requeue before they are claimable again.
	batch, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	s.Empty(batch)

	s.Require().NoError(s.store.Requeue(context.Background(), entry.ID))
	batch, err = s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(batch, 1)
	s.Zero(batch[0].Attempts)
}

func (s *PostgresStoreSuite) TestRequeueRejectsNonDLQ() {
	entry := s.enqueue()
	err := s.store.Requeue(context.Background(), entry.ID)
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestReleaseExpiredLocks() {
	s.enqueue()

	claimed, err := s.store.AcquireBatch(context.Background(), 1, -time.Second)
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)

	released, err := s.store.ReleaseExpiredLocks(context.Background())
	s.Require().NoError(err)
	s.Equal(1, released)

	batch, err := s.store.AcquireBatch(context.Background(), 1, time.Minute)
	s.Require().NoError(err)
	s.Len(batch, 1)
}
