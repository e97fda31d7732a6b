package source

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"audittrail/internal/diff"
	"audittrail/internal/domain"
	"audittrail/pkg/apperrors"
)

// HTTPAPI exposes the demo record store over HTTP. It exists to exercise
// the full write path without an embedded application: save, delete and
// relation edits arrive here, flow through the tracker, and land on the
// outbox.
type HTTPAPI struct {
	records *RecordStore
	logger  *slog.Logger
}

func NewHTTPAPI(records *RecordStore, logger *slog.Logger) *HTTPAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAPI{records: records, logger: logger}
}

func (a *HTTPAPI) Register(r chi.Router) {
	r.Put("/demo/records/{type}/{id}", a.handleSave)
	r.Delete("/demo/records/{type}/{id}", a.handleDelete)
	r.Post("/demo/records/{type}/{id}/relations", a.handleRelation)
}

func (a *HTTPAPI) handleSave(w http.ResponseWriter, r *http.Request) {
	id := identityFromURL(r)

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		a.writeError(w, apperrors.Wrap(apperrors.KindValidation, "malformed record body", err))
		return
	}
	if err := a.records.Save(r.Context(), id, fields); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (a *HTTPAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.records.Delete(r.Context(), identityFromURL(r)); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type relationRequest struct {
	Field       string   `json:"field"`
	Action      string   `json:"action"`
	Keys        []string `json:"keys"`
	RelatedType string   `json:"related_type"`
}

func (a *HTTPAPI) handleRelation(w http.ResponseWriter, r *http.Request) {
	var req relationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, apperrors.Wrap(apperrors.KindValidation, "malformed relation body", err))
		return
	}

	var action diff.RelationAction
	switch req.Action {
	case "add":
		action = diff.RelationAdd
	case "remove":
		action = diff.RelationRemove
	default:
		a.writeError(w, apperrors.New(apperrors.KindValidation, `action must be "add" or "remove"`))
		return
	}

	id := identityFromURL(r)
	if err := a.records.SetRelation(r.Context(), id, req.Field, action, req.Keys, req.RelatedType); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func identityFromURL(r *http.Request) domain.Identity {
	return domain.Identity{
		Type: chi.URLParam(r, "type"),
		Key:  chi.URLParam(r, "id"),
	}
}

func (a *HTTPAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *HTTPAPI) writeError(w http.ResponseWriter, err error) {
	a.writeJSON(w, apperrors.ToHTTPStatus(err), map[string]string{"error": err.Error()})
}
