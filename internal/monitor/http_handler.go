package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HTTPHandler serves the health endpoints.
type HTTPHandler struct {
	monitor *Monitor
	logger  zerolog.Logger
}

// NewHTTPHandler wraps m for HTTP.
func NewHTTPHandler(m *Monitor, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{monitor: m, logger: logger}
}

// Routes mounts /live and /integrity on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/live", h.handleLive)
	r.Get("/integrity", h.handleIntegrity)
}

func (h *HTTPHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": domain.HealthUp})
}

func (h *HTTPHandler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.Health(r.Context())

	status := http.StatusOK
	if report.Status != domain.HealthUp {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode health response")
	}
}
