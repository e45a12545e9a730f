package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// MarketService is the part of the hierarchy service the market routes use.
type MarketService interface {
	Ingest(ctx context.Context, snap domain.MarketSnapshot) (*domain.MarketHierarchy, error)
	Latest(ctx context.Context, exchangeID, symbol string) (domain.MarketHierarchy, error)
}

// MarketHandler serves market snapshot ingestion and lookup.
type MarketHandler struct {
	svc    MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logger.With(slog.String("handler", "markets"))}
}

// Ingest assembles a snapshot into a hierarchy.
// POST /api/markets
func (h *MarketHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var snap domain.MarketSnapshot
	if err := decodeJSON(r, &snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mh, err := h.svc.Ingest(r.Context(), snap)
	if err != nil && mh != nil {
		// The subtree was built but a constraint failed during resolution.
		writeJSON(w, statusFor(err), map[string]any{"hierarchy": mh, "error": err.Error()})
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mh)
}

// Latest returns the newest hierarchy for a market.
// GET /api/markets/{exchange}/{symbol}
func (h *MarketHandler) Latest(w http.ResponseWriter, r *http.Request) {
	mh, err := h.svc.Latest(r.Context(), r.PathValue("exchange"), r.PathValue("symbol"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mh)
}
