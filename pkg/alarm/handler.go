package alarm

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/redbutton/internal/apperr"
	"github.com/wisbric/redbutton/internal/auth"
	"github.com/wisbric/redbutton/internal/httpserver"
)

// Handler provides the operator API over alarms.
type Handler struct {
	svc    *Service
	store  *Store
	logger *slog.Logger
}

// NewHandler creates an alarm Handler.
func NewHandler(svc *Service, store *Store, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, store: store, logger: logger}
}

// Routes returns a chi.Router with all operator routes mounted. The
// caller wraps it with the admin-key middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/stats", h.handleStats)
	r.Get("/export", h.handleExport)
	r.Post("/bulk/{action}", h.handleBulk)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handlePatch)
		r.Delete("/", h.handleDelete)
		r.Post("/ack", h.handleTransition)
		r.Post("/resolve", h.handleTransition)
		r.Post("/cancel", h.handleTransition)
		r.Get("/notes", h.handleListNotes)
		r.Post("/notes", h.handleCreateNote)
		r.Get("/notifications", h.handleListNotifications)
	})
	return r
}

// TransitionRequest is the body for single and ack transitions.
type TransitionRequest struct {
	Actor   string `json:"actor" validate:"omitempty,max=120"`
	AckedBy string `json:"acked_by" validate:"omitempty,max=120"`
	Note    string `json:"note" validate:"omitempty,max=2000"`
}

// BulkRequest is the body for bulk transitions.
type BulkRequest struct {
	IDs   []string `json:"ids" validate:"required,min=1,max=100,dive,uuid"`
	Actor string   `json:"actor" validate:"omitempty,max=120"`
	Note  string   `json:"note" validate:"omitempty,max=2000"`
}

// NoteCreateRequest is the body for creating an annotation.
type NoteCreateRequest struct {
	Text      string `json:"text" validate:"required,max=2000"`
	CreatedBy string `json:"created_by" validate:"omitempty,max=120"`
}

// PatchRequest is the partial-update body. Absent fields are ignored.
type PatchRequest struct {
	Severity    *string  `json:"severity" validate:"omitempty,oneof=P0 P1 P2 P3"`
	Title       *string  `json:"title" validate:"omitempty,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=4000"`
	Tags        []string `json:"tags" validate:"omitempty,max=20,dive,max=64"`
}

// actionStatus maps the URL action segment to a target status.
var actionStatus = map[string]Status{
	"ack":     StatusAcknowledged,
	"resolve": StatusResolved,
	"cancel":  StatusCancelled,
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	// Fetch one extra row to detect a further page.
	params.Limit++
	items, err := h.store.List(r.Context(), params)
	if err != nil {
		h.logger.Error("listing alarms", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to list alarms")
		return
	}
	params.Limit--

	if len(items) > params.Limit {
		items = items[:params.Limit]
		httpserver.SetNextCursor(w, items[len(items)-1].ID)
	}
	if items == nil {
		items = []Alarm{}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, err, "getting alarm", id)
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PatchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.svc.Update(r.Context(), id, UpdateParams{
		Severity:    req.Severity,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		h.respondErr(w, err, "patching alarm", id)
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.SoftDelete(r.Context(), id, auth.ActorFromContext(r.Context())); err != nil {
		h.respondErr(w, err, "deleting alarm", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	target, ok := actionStatus[lastSegment(r)]
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}

	var req TransitionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	actor := auth.OperatorFromRequest(r, firstNonEmpty(req.AckedBy, req.Actor))

	var err error
	if target == StatusAcknowledged {
		_, err = h.svc.Acknowledge(r.Context(), id, actor, req.Note)
	} else {
		_, err = h.svc.Transition(r.Context(), id, target, actor, req.Note)
	}
	if err != nil {
		h.respondErr(w, err, "transitioning alarm", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	target, ok := actionStatus[chi.URLParam(r, "action")]
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}

	var req BulkRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid id %q", raw))
			return
		}
		ids = append(ids, id)
	}

	actor := auth.OperatorFromRequest(r, req.Actor)
	res, err := h.svc.BulkTransition(r.Context(), ids, target, actor, req.Note)
	if err != nil {
		h.logger.Error("bulk transition", "error", err, "action", target)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "bulk transition failed")
		return
	}
	httpserver.Respond(w, http.StatusOK, res)
}

func (h *Handler) handleListNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		h.respondErr(w, err, "getting alarm", id)
		return
	}
	notes, err := h.store.ListNotes(r.Context(), id)
	if err != nil {
		h.logger.Error("listing notes", "error", err, "alarm_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to list notes")
		return
	}
	if notes == nil {
		notes = []Note{}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": notes})
}

func (h *Handler) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req NoteCreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	creator := auth.OperatorFromRequest(r, req.CreatedBy)
	note, err := h.svc.AddNote(r.Context(), id, creator, req.Text, NoteManual)
	if err != nil {
		h.respondErr(w, err, "creating note", id)
		return
	}
	httpserver.Respond(w, http.StatusCreated, note)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		h.respondErr(w, err, "getting alarm", id)
		return
	}
	items, err := h.store.ListNotifications(r.Context(), id)
	if err != nil {
		h.logger.Error("listing notifications", "error", err, "alarm_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to list notifications")
		return
	}
	if items == nil {
		items = []Notification{}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("aggregating stats", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to aggregate stats")
		return
	}
	httpserver.Respond(w, http.StatusOK, stats)
}

// exportColumns is the fixed CSV column list.
var exportColumns = []string{
	"id", "status", "source", "event", "created_at",
	"person_id", "room_id", "site_id", "device_id",
	"severity", "silent", "external_ticket_id",
	"acked_at", "acked_by", "resolved_at", "resolved_by",
	"cancelled_at", "cancelled_by",
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "format must be json or csv")
		return
	}

	filename := fmt.Sprintf("alarms_export_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		h.exportCSV(w, r, params)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	h.exportJSON(w, r, params)
}

// exportPage streams every matching alarm page by page through emit.
func (h *Handler) exportPage(r *http.Request, params ListParams, emit func(Alarm) error) error {
	const pageSize = 500
	params.Limit = pageSize + 1
	params.Cursor = nil

	for {
		items, err := h.store.List(r.Context(), params)
		if err != nil {
			return err
		}
		more := len(items) > pageSize
		if more {
			items = items[:pageSize]
		}
		for _, a := range items {
			if err := emit(a); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
		last := items[len(items)-1].ID
		params.Cursor = &last
	}
}

func (h *Handler) exportJSON(w http.ResponseWriter, r *http.Request, params ListParams) {
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	if _, err := w.Write([]byte("[")); err != nil {
		return
	}
	first := true
	err := h.exportPage(r, params, func(a Alarm) error {
		if !first {
			if _, err := w.Write([]byte(",")); err != nil {
				return err
			}
		}
		first = false
		return enc.Encode(a)
	})
	if err != nil {
		h.logger.Error("exporting alarms", "error", err)
		return
	}
	_, _ = w.Write([]byte("]"))
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request, params ListParams) {
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(exportColumns); err != nil {
		return
	}
	err := h.exportPage(r, params, func(a Alarm) error {
		return cw.Write([]string{
			a.ID.String(), string(a.Status), a.Source, a.Event,
			a.CreatedAt.UTC().Format(time.RFC3339),
			strDeref(a.PersonID), strDeref(a.RoomID), strDeref(a.SiteID), strDeref(a.DeviceID),
			a.Severity, strconv.FormatBool(a.Silent), strDeref(a.ExternalTicketID),
			timeDeref(a.AckedAt), strDeref(a.AckedBy),
			timeDeref(a.ResolvedAt), strDeref(a.ResolvedBy),
			timeDeref(a.CancelledAt), strDeref(a.CancelledBy),
		})
	})
	if err != nil {
		h.logger.Error("exporting alarms", "error", err)
	}
}

// parseListParams reads the shared filter/sort/cursor surface.
func parseListParams(r *http.Request) (ListParams, error) {
	cursor, err := httpserver.ParseCursorParams(r)
	if err != nil {
		return ListParams{}, err
	}

	q := r.URL.Query()
	f := Filters{
		Status:   q.Get("status"),
		Severity: q.Get("severity"),
		PersonID: q.Get("person"),
		RoomID:   q.Get("room"),
		SiteID:   q.Get("site"),
		DeviceID: q.Get("device"),
		Source:   q.Get("source"),
	}
	if f.Status != "" && !ValidStatus(Status(f.Status)) {
		return ListParams{}, fmt.Errorf("invalid status %q", f.Status)
	}
	if f.Severity != "" && !ValidSeverity(f.Severity) {
		return ListParams{}, fmt.Errorf("invalid severity %q", f.Severity)
	}
	if v := q.Get("created_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ListParams{}, fmt.Errorf("invalid created_after: %w", err)
		}
		f.CreatedAfter = &t
	}
	if v := q.Get("created_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ListParams{}, fmt.Errorf("invalid created_before: %w", err)
		}
		f.CreatedBefore = &t
	}

	sortBy := q.Get("sort")
	if sortBy == "" {
		sortBy = SortCreatedAt
	}
	if !sortColumns[sortBy] {
		return ListParams{}, fmt.Errorf("invalid sort %q", sortBy)
	}
	order := q.Get("order")
	switch order {
	case "", "desc":
		order = "desc"
	case "asc":
	default:
		return ListParams{}, fmt.Errorf("invalid order %q", order)
	}

	return ListParams{
		Filters: f,
		SortBy:  sortBy,
		Desc:    order == "desc",
		Cursor:  cursor.Cursor,
		Limit:   cursor.Limit,
	}, nil
}

func (h *Handler) respondErr(w http.ResponseWriter, err error, op string, id uuid.UUID) {
	if apperr.KindOf(err) == apperr.KindUnknown {
		h.logger.Error(op, "error", err, "alarm_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	httpserver.RespondAppError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid alarm id")
		return uuid.Nil, false
	}
	return id, true
}

// lastSegment returns the final path segment of the matched route.
func lastSegment(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return ""
	}
	pattern := rc.RoutePattern()
	for i := len(pattern) - 1; i >= 0; i-- {
		if pattern[i] == '/' {
			return pattern[i+1:]
		}
	}
	return pattern
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeDeref(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
