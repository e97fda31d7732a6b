package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"audittrail/internal/domain"
	"audittrail/pkg/apperrors"
	"audittrail/pkg/sentinel"
	txcontext "audittrail/pkg/tx"
)

// Schema is the outbox table layout. The status+created_at index serves claim
// ordering; the object index serves operator lookups.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_outbox (
    id              UUID PRIMARY KEY,
    object_type     TEXT NOT NULL,
    object_id       TEXT NOT NULL,
    payload         JSONB NOT NULL,
    context         JSONB NOT NULL DEFAULT '{}',
    status          TEXT NOT NULL DEFAULT 'pending',
    attempts        INT NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT '',
    locked_at       TIMESTAMPTZ,
    lock_expires_at TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS audit_outbox_status_created_idx ON audit_outbox (status, created_at);
CREATE INDEX IF NOT EXISTS audit_outbox_object_idx ON audit_outbox (object_type, object_id);
`

// PostgresStore implements Store on a Postgres outbox table. Row-level
// claiming uses FOR UPDATE SKIP LOCKED so concurrent dispatchers receive
// disjoint batches.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed outbox.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the context transaction when the caller runs inside one, so
// the outbox write shares the mutation's atomic unit.
func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Enqueue(ctx context.Context, id domain.Identity, payload *domain.Event, evctx domain.EventContext) (Entry, error) {
	if payload == nil {
		return Entry{}, apperrors.New(apperrors.KindEnqueue, "nil payload")
	}
	entryID := uuid.New()
	payload.EventID = entryID.String()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, apperrors.Wrap(apperrors.KindEnqueue, "marshal payload", err)
	}
	contextJSON, err := json.Marshal(evctx)
	if err != nil {
		return Entry{}, apperrors.Wrap(apperrors.KindEnqueue, "marshal context", err)
	}

	now := time.Now()
	query := `
		INSERT INTO audit_outbox (id, object_type, object_id, payload, context, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		entryID, id.Type, id.Key, payloadJSON, contextJSON, now,
	); err != nil {
		return Entry{}, apperrors.Wrap(apperrors.KindEnqueue, "insert outbox entry", err)
	}

	return Entry{
		ID:         entryID,
		ObjectType: id.Type,
		ObjectID:   id.Key,
		Payload:    *payload,
		Context:    evctx,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) AcquireBatch(ctx context.Context, maxCount int, lease time.Duration) ([]Entry, error) {
	now := time.Now()
	// Single statement: select-and-lock is atomic, SKIP LOCKED keeps
	// concurrent claimants disjoint.
	query := `
		WITH picked AS (
			SELECT id FROM audit_outbox
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE audit_outbox o
		SET status = 'locked', locked_at = $2, lock_expires_at = $3, updated_at = $2
		FROM picked
		WHERE o.id = picked.id
		RETURNING o.id, o.object_type, o.object_id, o.payload, o.context,
		          o.status, o.attempts, o.last_error, o.locked_at, o.lock_expires_at,
		          o.created_at, o.updated_at
	`
	rows, err := s.db.QueryContext(ctx, query, maxCount, now, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("acquire outbox batch: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING order is unspecified; restore claim order.
	sortByCreation(entries)
	return entries, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, entry Entry) error {
	query := `
		UPDATE audit_outbox
		SET status = 'sent', locked_at = NULL, lock_expires_at = NULL, updated_at = now()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, entry.ID)
	if err != nil {
		return fmt.Errorf("mark outbox entry sent: %w", err)
	}
	return requireRow(res, entry.ID)
}

func (s *PostgresStore) MarkFailure(ctx context.Context, entry Entry, errText string, maxAttempts int) (Status, error) {
	query := `
		UPDATE audit_outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'dlq' ELSE 'pending' END,
		    locked_at = NULL,
		    lock_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING status
	`
	var status Status
	err := s.db.QueryRowContext(ctx, query, entry.ID, errText, maxAttempts).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("outbox entry %s: %w", entry.ID, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("mark outbox entry failed: %w", err)
	}
	return status, nil
}

func (s *PostgresStore) ReleaseExpiredLocks(ctx context.Context) (int, error) {
	query := `
		UPDATE audit_outbox
		SET status = 'pending', locked_at = NULL, lock_expires_at = NULL, updated_at = now()
		WHERE status = 'locked' AND lock_expires_at < now()
	`
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("release expired outbox locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release expired outbox locks: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) PurgeSentOlderThan(ctx context.Context, age time.Duration) (int, error) {
	query := `DELETE FROM audit_outbox WHERE status = 'sent' AND updated_at < $1`
	res, err := s.db.ExecContext(ctx, query, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("purge sent outbox entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sent outbox entries: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE audit_outbox
		SET status = 'pending', attempts = 0, last_error = '',
		    locked_at = NULL, lock_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'dlq'
	`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("requeue outbox entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue outbox entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("outbox entry %s not dead-lettered: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	query := `SELECT status, count(*) FROM audit_outbox GROUP BY status`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return Stats{}, fmt.Errorf("outbox stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan outbox stats: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusLocked:
			stats.Locked = count
		case StatusSent:
			stats.Sent = count
		case StatusDLQ:
			stats.DLQ = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate outbox stats: %w", err)
	}
	return stats, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			entry       Entry
			payloadJSON []byte
			contextJSON []byte
		)
		if err := rows.Scan(
			&entry.ID, &entry.ObjectType, &entry.ObjectID, &payloadJSON, &contextJSON,
			&entry.Status, &entry.Attempts, &entry.LastError, &entry.LockedAt, &entry.LockExpiresAt,
			&entry.CreatedAt, &entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload %s: %w", entry.ID, err)
		}
		if err := json.Unmarshal(contextJSON, &entry.Context); err != nil {
			return nil, fmt.Errorf("unmarshal outbox context %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

func sortByCreation(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outbox entry %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
