package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"audittrail/internal/domain"
	"audittrail/pkg/apperrors"
)

// Schema creates the delivered-events table. Secondary indexes serve the
// by-object and by-actor listings in newest-first keyset order.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	object_type TEXT NOT NULL,
	object_id   TEXT NOT NULL,
	event_kind  TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL,
	stored_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS audit_events_object
	ON audit_events (object_type, object_id, occurred_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS audit_events_actor
	ON audit_events (actor_id, occurred_at DESC, id DESC)
	WHERE actor_id <> '';
`

// PostgresBackend stores one row per event with the canonical JSON payload
// alongside the indexed listing columns.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) StoreEvent(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDelivery, "marshal event payload", err)
	}

	// Redelivery after a crash between store and finalize replays the same
	// event id; the conflict clause makes that replay a no-op.
	query := `
		INSERT INTO audit_events (id, object_type, object_id, event_kind, actor_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = b.db.ExecContext(ctx, query,
		event.EventID, event.ObjectType, event.ObjectID, string(event.Kind),
		actorID(event), event.Timestamp.UTC(), payload)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDelivery, "store event", err)
	}
	return nil
}

func (b *PostgresBackend) FetchObjectEvents(ctx context.Context, objectType, objectID string, limit int, cursor string) (Page, error) {
	query := `
		SELECT payload FROM audit_events
		WHERE object_type = $1 AND object_id = $2 AND (occurred_at, id) < ($3, $4)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $5
	`
	return b.fetch(ctx, query, limit, cursor, objectType, objectID)
}

func (b *PostgresBackend) FetchUserEvents(ctx context.Context, userID string, limit int, cursor string) (Page, error) {
	query := `
		SELECT payload FROM audit_events
		WHERE actor_id = $1 AND (occurred_at, id) < ($2, $3)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $4
	`
	return b.fetch(ctx, query, limit, cursor, userID)
}

// fetch runs a keyset listing query. The query's trailing parameters are
// always (cursor timestamp, cursor id, limit); an absent cursor resumes
// from a sentinel position after the newest possible row.
func (b *PostgresBackend) fetch(ctx context.Context, query string, limit int, cursor string, args ...any) (Page, error) {
	position := keysetCursor{Timestamp: maxTimestamp, EventID: maxEventID}
	if cursor != "" {
		if err := decodeCursor(cursor, &position); err != nil {
			return Page{}, err
		}
	}
	args = append(args, position.Timestamp.UTC(), position.EventID, limit+1)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, apperrors.Wrap(apperrors.KindQuery, "list events", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return Page{}, apperrors.Wrap(apperrors.KindQuery, "scan event row", err)
		}
		var event domain.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return Page{}, apperrors.Wrap(apperrors.KindQuery, "decode event payload", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return Page{}, apperrors.Wrap(apperrors.KindQuery, "list events", err)
	}

	page := Page{}
	if len(events) > limit {
		events = events[:limit]
		last := events[limit-1]
		page.NextCursor = encodeCursor(keysetCursor{Timestamp: last.Timestamp, EventID: last.EventID})
	}
	page.Events = events
	return page, nil
}

var (
	// maxTimestamp sits far past any realistic event time so the first page
	// starts at the newest row.
	maxTimestamp = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	maxEventID   = "ffffffff-ffff-ffff-ffff-ffffffffffff"
)

var _ Backend = (*PostgresBackend)(nil)
