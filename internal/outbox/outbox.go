// Package outbox durably stages audit events alongside the business write and
// hands them to the dispatcher through lease-based claims.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"audittrail/internal/domain"
)

// Status is the outbox entry state machine: pending entries are claimable,
// locked entries are leased to one dispatcher, sent and dlq are terminal
// (dlq until an operator requeues).
type Status string

const (
	StatusPending Status = "pending"
	StatusLocked  Status = "locked"
	StatusSent    Status = "sent"
	StatusDLQ     Status = "dlq"
)

// Entry is one staged audit event. Its ID doubles as the event id written
// back into the payload at enqueue time.
type Entry struct {
	ID            uuid.UUID
	ObjectType    string
	ObjectID      string
	Payload       domain.Event
	Context       domain.EventContext
	Status        Status
	Attempts      int
	LastError     string
	LockedAt      *time.Time
	LockExpiresAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Stats counts entries per status for operator visibility.
type Stats struct {
	Pending int `json:"pending"`
	Locked  int `json:"locked"`
	Sent    int `json:"sent"`
	DLQ     int `json:"dlq"`
}

// Store is the durable outbox contract. Enqueue must run in the same atomic
// unit as the mutation that produced the event (a transaction carried in ctx
// via pkg/tx is honored); it assigns the entry id and writes it back into the
// payload so readers can self-identify the event without a second lookup.
//
// AcquireBatch atomically claims up to maxCount pending entries, oldest
// first, skipping rows held by concurrent claimants. Concurrent dispatchers
// always receive disjoint batches.
type Store interface {
	Enqueue(ctx context.Context, id domain.Identity, payload *domain.Event, evctx domain.EventContext) (Entry, error)
	AcquireBatch(ctx context.Context, maxCount int, lease time.Duration) ([]Entry, error)
	MarkSent(ctx context.Context, entry Entry) error
	// MarkFailure increments the attempt counter and either returns the entry
	// to pending with cleared lock fields or dead-letters it once attempts
	// reach maxAttempts. The resulting status is returned.
	MarkFailure(ctx context.Context, entry Entry, errText string, maxAttempts int) (Status, error)
	// ReleaseExpiredLocks resets locked entries whose lease passed, recovering
	// claims of crashed workers. Fresh leases are left untouched.
	ReleaseExpiredLocks(ctx context.Context) (int, error)
	// PurgeSentOlderThan deletes sent entries past the retention age.
	PurgeSentOlderThan(ctx context.Context, age time.Duration) (int, error)
	// Requeue resets a dead-lettered entry to pending with zero attempts.
	// Operator replay path.
	Requeue(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (Stats, error)
}
