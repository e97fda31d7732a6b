// Package event assembles immutable audit payloads from diffs: actor
// resolution, context capture, and summary generation.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"audittrail/internal/domain"
	"audittrail/pkg/requestcontext"
)

const defaultSummaryTimeout = 2 * time.Second

// ActorResolver supplies the acting user for a mutation. Failures degrade to
// an absent actor and never abort the mutation.
type ActorResolver interface {
	Resolve(ctx context.Context) (requestcontext.ActorPayload, error)
}

// ContextActorResolver reads the actor the middleware stored in the request
// context. It is the default resolver.
type ContextActorResolver struct{}

func (ContextActorResolver) Resolve(ctx context.Context) (requestcontext.ActorPayload, error) {
	return requestcontext.Actor(ctx), nil
}

// Builder wraps a validated diff with actor and request metadata, a timestamp,
// and a generated summary into one event payload. The event id stays empty
// until the outbox stages the entry.
type Builder struct {
	resolver       ActorResolver
	summarizer     Summarizer
	summaryTimeout time.Duration
	logger         *slog.Logger
}

// Option configures the Builder.
type Option func(*Builder)

// WithActorResolver overrides the default context-based actor resolver.
func WithActorResolver(r ActorResolver) Option {
	return func(b *Builder) {
		b.resolver = r
	}
}

// WithSummaryTimeout bounds how long a summarizer call may block.
func WithSummaryTimeout(d time.Duration) Option {
	return func(b *Builder) {
		b.summaryTimeout = d
	}
}

// WithLogger sets a logger for degraded-path warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a Builder around the given summarizer.
func NewBuilder(summarizer Summarizer, opts ...Option) *Builder {
	b := &Builder{
		resolver:       ContextActorResolver{},
		summarizer:     summarizer,
		summaryTimeout: defaultSummaryTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the event for a mutation. The timestamp comes from the
// request-scoped clock so every event of one request shares it.
func (b *Builder) Build(ctx context.Context, id domain.Identity, kind domain.EventKind, diff domain.Diff) domain.Event {
	evt := domain.Event{
		ObjectType: id.Type,
		ObjectID:   id.Key,
		Kind:       kind,
		Timestamp:  requestcontext.Now(ctx).UTC(),
		Diff:       diff,
		Summary:    b.summarize(ctx, id, kind, diff),
	}

	if actor := b.resolveActor(ctx); !actor.IsZero() {
		evt.Actor = &actor
		evt.Context.Actor = &actor
	}
	if meta := requestcontext.Meta(ctx); !meta.IsZero() {
		evt.Context.Request = &meta
	}
	evt.Context.RequestID = requestcontext.RequestID(ctx)

	return evt
}

func (b *Builder) resolveActor(ctx context.Context) requestcontext.ActorPayload {
	actor, err := b.resolver.Resolve(ctx)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("actor resolution failed; recording event without actor", "error", err)
		}
		return requestcontext.ActorPayload{}
	}
	return actor
}

func (b *Builder) summarize(ctx context.Context, id domain.Identity, kind domain.EventKind, diff domain.Diff) string {
	if b.summarizer == nil {
		return defaultSummary(id, kind)
	}
	sctx, cancel := context.WithTimeout(ctx, b.summaryTimeout)
	defer cancel()

	summary, err := b.summarizer.Summarize(sctx, diff)
	if err != nil || summary == "" {
		if err != nil && b.logger != nil {
			b.logger.Warn("summarizer failed; using default summary",
				"object", id.String(), "error", err)
		}
		return defaultSummary(id, kind)
	}
	return summary
}

func defaultSummary(id domain.Identity, kind domain.EventKind) string {
	return fmt.Sprintf("%s %s %s", titleKind(kind), id.Type, id.Key)
}

func titleKind(kind domain.EventKind) string {
	switch kind {
	case domain.KindCreated:
		return "Created"
	case domain.KindUpdated:
		return "Updated"
	case domain.KindDeleted:
		return "Deleted"
	default:
		return string(kind)
	}
}
