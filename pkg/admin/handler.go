// Package admin serves the configuration mutations: device upserts,
// escalation policy replacement and bulk seeding. Everything here sits
// behind the admin key middleware.
package admin

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/redbutton/internal/httpserver"
	"github.com/wisbric/redbutton/internal/seed"
	"github.com/wisbric/redbutton/pkg/directory"
	"github.com/wisbric/redbutton/pkg/escalation"
)

// Handler serves the admin configuration endpoints.
type Handler struct {
	pool       *pgxpool.Pool
	devices    *directory.Store
	escalation *escalation.Service
	logger     *slog.Logger
}

// NewHandler creates the admin handler.
func NewHandler(pool *pgxpool.Pool, devices *directory.Store, esc *escalation.Service, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, devices: devices, escalation: esc, logger: logger}
}

// Routes returns the admin router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/devices", h.handleUpsertDevice)
	r.Post("/escalation-policy", h.handleUpsertPolicy)
	r.Post("/seed", h.handleSeed)
	return r
}

// DeviceUpsertRequest creates or updates a device, keyed by its token.
type DeviceUpsertRequest struct {
	ID          string  `json:"id" validate:"required"`
	Vendor      string  `json:"vendor"`
	ModelFamily string  `json:"model_family"`
	HardwareID  *string `json:"hardware_id"`
	DeviceToken string  `json:"device_token" validate:"required,min=8"`
	PersonID    *string `json:"person_id"`
	RoomID      *string `json:"room_id"`
}

func (h *Handler) handleUpsertDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceUpsertRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	dev := directory.Device{
		ID:          req.ID,
		Vendor:      req.Vendor,
		ModelFamily: req.ModelFamily,
		HardwareID:  req.HardwareID,
		DeviceToken: req.DeviceToken,
		PersonID:    req.PersonID,
		RoomID:      req.RoomID,
	}
	if err := h.devices.UpsertDevice(r.Context(), dev); err != nil {
		h.logger.Error("upserting device", "device_id", req.ID, "error", err)
		httpserver.RespondAppError(w, err)
		return
	}
	h.logger.Info("device upserted", "device_id", req.ID, "bound", dev.Bound())
	httpserver.Respond(w, http.StatusOK, dev)
}

// PolicyStepRequest is one step of a policy replacement.
type PolicyStepRequest struct {
	StepNo       int    `json:"step_no" validate:"min=0"`
	TargetID     string `json:"target_id" validate:"required"`
	AfterSeconds int    `json:"after_seconds" validate:"min=0"`
}

// PolicyUpsertRequest replaces a policy and its full step set.
type PolicyUpsertRequest struct {
	ID    string              `json:"id" validate:"required"`
	Name  string              `json:"name" validate:"required"`
	Steps []PolicyStepRequest `json:"steps" validate:"dive"`
}

func (h *Handler) handleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyUpsertRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	steps := make([]escalation.Step, 0, len(req.Steps))
	for _, s := range req.Steps {
		steps = append(steps, escalation.Step{
			PolicyID:     req.ID,
			StepNo:       s.StepNo,
			TargetID:     s.TargetID,
			AfterSeconds: s.AfterSeconds,
		})
	}
	err := h.escalation.ApplyPolicy(r.Context(), escalation.PolicyInput{
		ID:    req.ID,
		Name:  req.Name,
		Steps: steps,
	})
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"policy_id": req.ID,
		"steps":     len(steps),
	})
}

func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "reading seed payload")
		return
	}
	payload, err := seed.Parse(body, r.Header.Get("Content-Type"))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	summary, err := seed.Apply(r.Context(), h.pool, payload, h.logger)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, summary)
}
