package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"audittrail/internal/history"
	"audittrail/internal/outbox"
	"audittrail/pkg/apperrors"
)

// Service defines the history read operations the handler exposes.
type Service interface {
	FetchHistory(ctx context.Context, q history.Query) (history.Result, error)
}

// Admin defines the operator-facing outbox operations.
type Admin interface {
	Stats(ctx context.Context) (outbox.Stats, error)
}

// Requeuer returns a dead-lettered outbox entry to the pending queue.
type Requeuer interface {
	Requeue(ctx context.Context, id string) error
}

// Handler wires the read API endpoints to the history service and the
// outbox admin surface.
type Handler struct {
	service  Service
	admin    Admin
	requeuer Requeuer
	logger   *slog.Logger
}

func New(service Service, admin Admin, requeuer Requeuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, admin: admin, requeuer: requeuer, logger: logger}
}

// Register mounts the read API on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/history", h.HandleHistory)
	r.Get("/audit/outbox/stats", h.HandleOutboxStats)
	r.Post("/audit/outbox/{id}/requeue", h.HandleRequeue)
}

// HandleHistory handles GET /audit/history requests.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	limit := 0
	if raw := params.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, apperrors.Wrap(apperrors.KindQuery, "limit must be an integer", err))
			return
		}
		limit = parsed
	}

	result, err := h.service.FetchHistory(ctx, history.Query{
		ObjectType: params.Get("object_type"),
		ObjectID:   params.Get("object_id"),
		UserID:     params.Get("user_id"),
		Limit:      limit,
		Cursor:     params.Get("cursor"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleOutboxStats handles GET /audit/outbox/stats requests.
func (h *Handler) HandleOutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// HandleRequeue handles POST /audit/outbox/{id}/requeue requests.
func (h *Handler) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.requeuer.Requeue(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
