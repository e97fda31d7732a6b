// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Context keys and getter/setter functions live here for values that are
// typically set by middleware or the mutation source but consumed by the event
// builder. Keeping this package free of net/http dependencies lets the diff and
// event layers import only what they need.
//
// Usage in services (read values):
//
//	actor := requestcontext.Actor(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithActor(ctx, actor)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// ActorPayload identifies who performed a mutation. All fields are optional;
// an all-zero payload means the actor could not be resolved.
type ActorPayload struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// IsZero reports whether no identifying field is set.
func (a ActorPayload) IsZero() bool {
	return a.ID == "" && a.Username == "" && a.Name == "" && a.Email == ""
}

// RequestMeta captures transport metadata recorded alongside audit events.
type RequestMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
}

// IsZero reports whether no metadata field is set.
func (m RequestMeta) IsZero() bool {
	return m.IP == "" && m.UserAgent == "" && m.Method == "" && m.Path == ""
}

// Context key types (unexported for encapsulation).
type (
	actorKey       struct{}
	requestMetaKey struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Actor retrieves the acting user from the context. Returns the zero payload
// if not set.
func Actor(ctx context.Context) ActorPayload {
	if actor, ok := ctx.Value(actorKey{}).(ActorPayload); ok {
		return actor
	}
	return ActorPayload{}
}

// WithActor injects the acting user into the context.
func WithActor(ctx context.Context, actor ActorPayload) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Meta retrieves request transport metadata from the context.
func Meta(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return RequestMeta{}
}

// WithMeta injects request transport metadata into the context.
func WithMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers,
// CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for workers that need consistent time within a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
