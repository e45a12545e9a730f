package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/propengine/internal/service"
)

// MetricsService is the part of the hierarchy service the metrics routes use.
type MetricsService interface {
	Metrics(exchangeID string) (service.ShardMetrics, error)
	AllMetrics() []service.ShardMetrics
	ResetMetrics(exchangeID string) error
}

// MetricsHandler serves the per-engine metrics as JSON.
type MetricsHandler struct {
	svc    MetricsService
	logger *slog.Logger
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(svc MetricsService, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{svc: svc, logger: logger.With(slog.String("handler", "metrics"))}
}

// List returns every exchange's metrics.
// GET /api/metrics
func (h *MetricsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"engines": h.svc.AllMetrics()})
}

// Get returns one exchange's metrics.
// GET /api/metrics/{exchange}
func (h *MetricsHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Metrics(r.PathValue("exchange"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Reset zeroes one exchange's counters.
// POST /api/metrics/{exchange}/reset
func (h *MetricsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetMetrics(r.PathValue("exchange")); err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
