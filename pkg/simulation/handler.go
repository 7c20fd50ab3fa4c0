// Package simulation exposes the captured-notification endpoints used
// by demo and test environments. All routes 404 unless simulation mode
// is enabled; the mock store only exists in that mode.
package simulation

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/redbutton/internal/httpserver"
	"github.com/wisbric/redbutton/pkg/connector"
)

// Handler serves the simulation inspection API.
type Handler struct {
	store *connector.MockStore
}

// NewHandler creates the handler. A nil store means simulation mode is
// off and every route responds 404.
func NewHandler(store *connector.MockStore) *Handler {
	return &Handler{store: store}
}

// Routes returns the simulation router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/notifications", h.handleList)
	r.Post("/notifications/clear", h.handleClear)
	r.Get("/status", h.handleStatus)
	return r
}

func (h *Handler) enabled(w http.ResponseWriter) bool {
	if h.store == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "simulation mode is disabled")
		return false
	}
	return true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	channel := r.URL.Query().Get("channel")
	if channel != "" && !connector.ValidChannel(channel) {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "unknown channel "+channel)
		return
	}
	items := h.store.Notifications(channel)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	h.store.Clear()
	httpserver.Respond(w, http.StatusOK, map[string]any{"cleared": true})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"enabled":  true,
		"captured": h.store.Count(),
	})
}
