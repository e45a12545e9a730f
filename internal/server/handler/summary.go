package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// SummaryHandler serves the persisted summary history.
type SummaryHandler struct {
	store  domain.SummaryStore
	logger *slog.Logger
}

// NewSummaryHandler creates a SummaryHandler. store may be nil, in which case
// the routes answer 503.
func NewSummaryHandler(store domain.SummaryStore, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{store: store, logger: logger.With(slog.String("handler", "summaries"))}
}

// BySymbol lists a market's summaries, newest first.
// GET /api/summaries/{exchange}/{symbol}
func (h *SummaryHandler) BySymbol(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "summary history is not configured")
		return
	}
	recs, err := h.store.ListBySymbol(r.Context(), r.PathValue("exchange"), r.PathValue("symbol"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": recs})
}

// High lists recent HIGH-status summaries across markets.
// GET /api/summaries/high
func (h *SummaryHandler) High(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "summary history is not configured")
		return
	}
	recs, err := h.store.ListHigh(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": recs})
}
