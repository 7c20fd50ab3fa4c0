// Package ack serves the single-use acknowledgment page. The opaque
// token in the URL is the only authentication factor, so responses are
// uncacheable and every rendered field is escaped.
package ack

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/redbutton/internal/httpserver"
	"github.com/wisbric/redbutton/pkg/alarm"
	"github.com/wisbric/redbutton/pkg/directory"
)

const (
	maxAckedBy = 120
	maxNote    = 2000
)

// allowedFormFields is the closed set the POST form may carry.
var allowedFormFields = map[string]bool{
	"acked_by": true,
	"note":     true,
}

// Handler serves GET and POST on /a/{ack_token}.
type Handler struct {
	alarms    *alarm.Store
	svc       *alarm.Service
	directory *directory.Store
	logger    *slog.Logger
}

// NewHandler creates an ack Handler.
func NewHandler(alarms *alarm.Store, svc *alarm.Service, dir *directory.Store, logger *slog.Logger) *Handler {
	return &Handler{alarms: alarms, svc: svc, directory: dir, logger: logger}
}

// Routes returns the ack page routes. The security-header middleware
// covers both the form and its confirmation.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpserver.SecurityHeaders)
	r.Use(contentSecurityPolicy)
	r.Get("/{token}", h.handleGet)
	r.Post("/{token}", h.handlePost)
	return r
}

func contentSecurityPolicy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy",
			"default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; base-uri 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// pageData feeds the alarm page template.
type pageData struct {
	PersonName   string
	RoomLabel    string
	SiteName     string
	CreatedAt    string
	Status       string
	Acknowledged bool
	Terminal     bool
}

// resolve loads the alarm for the path token. The token itself is
// never logged.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (alarm.Alarm, bool) {
	token := chi.URLParam(r, "token")
	if token == "" {
		http.NotFound(w, r)
		return alarm.Alarm{}, false
	}
	a, err := h.alarms.GetByAckToken(r.Context(), token)
	if errors.Is(err, pgx.ErrNoRows) {
		http.NotFound(w, r)
		return alarm.Alarm{}, false
	}
	if err != nil {
		h.logger.Error("resolving ack token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return alarm.Alarm{}, false
	}
	return a, true
}

func (h *Handler) pageData(r *http.Request, a alarm.Alarm) pageData {
	dctx, err := h.directory.Enrich(r.Context(), a.PersonID, a.RoomID, a.SiteID)
	if err != nil {
		h.logger.Error("enriching alarm for ack page", "alarm_id", a.ID, "error", err)
	}
	return pageData{
		PersonName:   dctx.PersonName,
		RoomLabel:    dctx.RoomLabel,
		SiteName:     dctx.SiteName,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		Status:       string(a.Status),
		Acknowledged: a.Status == alarm.StatusAcknowledged,
		Terminal:     a.Status == alarm.StatusResolved || a.Status == alarm.StatusCancelled,
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	a, ok := h.resolve(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, h.pageData(r, a)); err != nil {
		h.logger.Error("rendering ack page", "alarm_id", a.ID, "error", err)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	a, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	for field := range r.PostForm {
		if !allowedFormFields[field] {
			http.Error(w, "unexpected form field", http.StatusBadRequest)
			return
		}
	}

	ackedBy := r.PostFormValue("acked_by")
	note := r.PostFormValue("note")
	if ackedBy == "" || len(ackedBy) > maxAckedBy {
		http.Error(w, "acked_by is required (max 120 characters)", http.StatusBadRequest)
		return
	}
	if len(note) > maxNote {
		http.Error(w, "note too long (max 2000 characters)", http.StatusBadRequest)
		return
	}

	// A second POST after acknowledgment is a no-op, not an error; the
	// state machine enforces single use.
	if _, err := h.svc.Acknowledge(r.Context(), a.ID, ackedBy, note); err != nil {
		h.logger.Error("acknowledging via ack page", "alarm_id", a.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data := h.pageData(r, a)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := confirmedTmpl.Execute(w, struct {
		AckedBy    string
		PersonName string
	}{AckedBy: ackedBy, PersonName: data.PersonName}); err != nil {
		h.logger.Error("rendering ack confirmation", "alarm_id", a.ID, "error", err)
	}
}
