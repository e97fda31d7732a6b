package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"audittrail/pkg/requestcontext"
)

// Actor headers set by the upstream gateway. The audit service trusts its
// edge to have authenticated the caller; it only records who acted.
const (
	headerActorID       = "X-Actor-Id"
	headerActorUsername = "X-Actor-Username"
	headerActorName     = "X-Actor-Name"
	headerActorEmail    = "X-Actor-Email"
	headerRequestID     = "X-Request-Id"
)

// RequestContext stamps every request with an id, a request-scoped clock,
// the caller's network metadata, and the actor identified by the gateway
// headers. Downstream code reads all of it through pkg/requestcontext.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())
		ctx = requestcontext.WithMeta(ctx, requestcontext.RequestMeta{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			Method:    r.Method,
			Path:      r.URL.Path,
		})

		actor := requestcontext.ActorPayload{
			ID:       r.Header.Get(headerActorID),
			Username: r.Header.Get(headerActorUsername),
			Name:     r.Header.Get(headerActorName),
			Email:    r.Header.Get(headerActorEmail),
		}
		if !actor.IsZero() {
			ctx = requestcontext.WithActor(ctx, actor)
		}

		w.Header().Set(headerRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger emits one structured line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			logger.InfoContext(r.Context(), "request handled",
				"request_id", requestcontext.RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
