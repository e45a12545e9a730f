package domain

import "time"

// MarketSnapshot is one read-only quote record supplied by an exchange
// adapter.
type MarketSnapshot struct {
	Symbol     string         `json:"symbol"`
	ExchangeID string         `json:"exchange_id"`
	LastPrice  float64        `json:"last_price"`
	Bid        float64        `json:"bid"`
	Ask        float64        `json:"ask"`
	Volume     float64        `json:"volume"`
	Timestamp  time.Time      `json:"timestamp"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// ArbStatus grades an arbitrage edge.
type ArbStatus string

const (
	ArbStatusHigh ArbStatus = "HIGH"
	ArbStatusLow  ArbStatus = "LOW"
)

// ArbitrageSummary is the compact scoring derived from a market subtree.
type ArbitrageSummary struct {
	Vig             float64   `json:"vig"`
	Edge            float64   `json:"edge"`
	ProfitPotential float64   `json:"profit_potential"`
	Status          ArbStatus `json:"status"`
}

// MarketHierarchy is the handle returned for one assembled market subtree.
// Each snapshot produces a new hierarchy; an existing one is never mutated.
type MarketHierarchy struct {
	ID           string           `json:"id"`
	RootID       string           `json:"root_id"`
	MarketID     string           `json:"market_id"`
	ExchangeID   string           `json:"exchange_id"`
	MarketProps  []string         `json:"market_props"`
	ArbProps     []string         `json:"arb_props"`
	Resolved     map[string]any   `json:"resolved"`
	Arbitrage    ArbitrageSummary `json:"arbitrage"`
	BuildLatency time.Duration    `json:"build_latency"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NodeIDs returns the root, market and arbitrage ids in subtree order.
func (h *MarketHierarchy) NodeIDs() []string {
	ids := make([]string, 0, 1+len(h.MarketProps)+len(h.ArbProps))
	ids = append(ids, h.RootID)
	ids = append(ids, h.MarketProps...)
	ids = append(ids, h.ArbProps...)
	return ids
}
