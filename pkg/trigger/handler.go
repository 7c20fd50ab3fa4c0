package trigger

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/redbutton/internal/apperr"
	"github.com/wisbric/redbutton/internal/httpserver"
)

// Handler exposes the device-facing trigger endpoint.
type Handler struct {
	svc            *Service
	tokenParam     string
	trustedProxies []netip.Prefix
	logger         *slog.Logger
}

// NewHandler creates a trigger Handler. tokenParam is the query
// parameter name carrying the device token.
func NewHandler(svc *Service, tokenParam string, trustedProxies []netip.Prefix, logger *slog.Logger) *Handler {
	return &Handler{
		svc:            svc,
		tokenParam:     tokenParam,
		trustedProxies: trustedProxies,
		logger:         logger,
	}
}

// Routes returns the device ingress routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/alarm", h.handleTrigger)
	return r
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := Input{
		Token:     q.Get(h.tokenParam),
		ClientIP:  httpserver.ClientIP(r, h.trustedProxies),
		UserAgent: r.UserAgent(),
		Event:     q.Get("event"),
		Severity:  q.Get("severity"),
	}

	res, err := h.svc.Trigger(r.Context(), in)
	if err != nil {
		// The device token never reaches the logs.
		if kind := apperr.KindOf(err); kind == apperr.KindTransient || kind == apperr.KindUnknown {
			h.logger.Error("trigger pipeline failed", "client_ip", in.ClientIP, "error", err)
		} else {
			h.logger.Info("trigger rejected", "client_ip", in.ClientIP, "reason", apperr.ClientMessage(err))
		}
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, res)
}
