// Package storage persists delivered audit events and serves paginated
// history reads. Backends are pluggable; every implementation honors the
// same contract: StoreEvent is an idempotent upsert keyed by event id, and
// both fetch operations return events newest-first with an opaque
// resumption cursor.
package storage

import (
	"context"

	"audittrail/internal/domain"
)

// Page is one slice of a history listing. An empty NextCursor means there
// are no further pages.
type Page struct {
	Events     []domain.Event
	NextCursor string
}

// Backend is the durable event store behind the dispatcher and the history
// query service.
type Backend interface {
	// StoreEvent upserts the event keyed by its event id. Calling it twice
	// with the same id must leave a single stored copy.
	StoreEvent(ctx context.Context, event domain.Event) error

	// FetchObjectEvents lists events for one object, newest first.
	FetchObjectEvents(ctx context.Context, objectType, objectID string, limit int, cursor string) (Page, error)

	// FetchUserEvents lists events performed by one actor, newest first.
	FetchUserEvents(ctx context.Context, userID string, limit int, cursor string) (Page, error)
}

func actorID(event domain.Event) string {
	if event.Actor == nil {
		return ""
	}
	return event.Actor.ID
}
