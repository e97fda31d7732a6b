// Package history serves paginated audit-event listings over the storage
// backend, with filter validation and one canonical response shape
// regardless of which backend produced the rows.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"audittrail/internal/domain"
	"audittrail/internal/storage"
	"audittrail/pkg/apperrors"
	"audittrail/pkg/requestcontext"
)

const (
	minLimit     = 1
	maxLimit     = 200
	defaultLimit = 50
)

// Query filters a history listing. At least one of ObjectID and UserID must
// be set; ObjectID additionally requires ObjectType.
type Query struct {
	ObjectType string
	ObjectID   string
	UserID     string
	Limit      int
	Cursor     string
}

// View is the canonical event shape returned to readers. Optional source
// fields are filled with defaults and sensitive ciphertext is stripped.
type View struct {
	EventID    string                      `json:"event_id"`
	ObjectType string                      `json:"object_type"`
	ObjectID   string                      `json:"object_id"`
	Kind       domain.EventKind            `json:"event_kind"`
	Timestamp  time.Time                   `json:"timestamp"`
	Actor      requestcontext.ActorPayload `json:"actor"`
	Diff       domain.Diff                 `json:"diff"`
	Summary    string                      `json:"summary"`
	RequestID  string                      `json:"request_id,omitempty"`
}

// Result is one page of history.
type Result struct {
	Events     []View `json:"events"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type Service struct {
	backend storage.Backend
	logger  *slog.Logger
}

func NewService(backend storage.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, logger: logger}
}

// FetchHistory validates the query, clamps the limit, and delegates to the
// by-object or by-user listing. When both identifiers are supplied the
// object listing wins and results are filtered to the requested actor;
// object histories are expected to be small enough for that.
func (s *Service) FetchHistory(ctx context.Context, q Query) (Result, error) {
	if err := validate(q); err != nil {
		return Result{}, err
	}
	limit := clampLimit(q.Limit)

	var (
		page storage.Page
		err  error
	)
	if q.ObjectID != "" {
		page, err = s.backend.FetchObjectEvents(ctx, q.ObjectType, q.ObjectID, limit, q.Cursor)
	} else {
		page, err = s.backend.FetchUserEvents(ctx, q.UserID, limit, q.Cursor)
	}
	if err != nil {
		return Result{}, fmt.Errorf("fetch history: %w", err)
	}

	views := make([]View, 0, len(page.Events))
	for _, event := range page.Events {
		if q.ObjectID != "" && q.UserID != "" && actorOf(event).ID != q.UserID {
			continue
		}
		views = append(views, normalize(event))
	}
	return Result{Events: views, NextCursor: page.NextCursor}, nil
}

func validate(q Query) error {
	if q.ObjectID == "" && q.UserID == "" {
		return apperrors.New(apperrors.KindQuery, "either object_id or user_id is required")
	}
	if q.ObjectID != "" && q.ObjectType == "" {
		return apperrors.New(apperrors.KindQuery, "object_id requires object_type")
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit == 0:
		return defaultLimit
	case limit < minLimit:
		return minLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}

func actorOf(event domain.Event) requestcontext.ActorPayload {
	if event.Actor != nil {
		return *event.Actor
	}
	return requestcontext.ActorPayload{}
}

// normalize produces the canonical view: absent actor becomes the zero
// payload, an empty summary gets a generated fallback, and reversible
// ciphertext never leaves the read path.
func normalize(event domain.Event) View {
	return View{
		EventID:    event.EventID,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Kind:       event.Kind,
		Timestamp:  event.Timestamp,
		Actor:      actorOf(event),
		Diff:       scrubDiff(event.Diff),
		Summary:    summaryOf(event),
		RequestID:  event.Context.RequestID,
	}
}

func summaryOf(event domain.Event) string {
	if event.Summary != "" {
		return event.Summary
	}
	verb := "Changed"
	switch event.Kind {
	case domain.KindCreated:
		verb = "Created"
	case domain.KindUpdated:
		verb = "Updated"
	case domain.KindDeleted:
		verb = "Deleted"
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", verb, event.ObjectType, event.ObjectID))
}

func scrubDiff(diff domain.Diff) domain.Diff {
	scrubbed := make(domain.Diff, len(diff))
	for field, change := range diff {
		change.EncryptedBefore = ""
		change.EncryptedAfter = ""
		scrubbed[field] = change
	}
	return scrubbed
}
