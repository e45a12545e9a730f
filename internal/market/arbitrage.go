package market

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// Default scoring parameters.
const (
	DefaultStake         = 100_000.0
	DefaultEdgeThreshold = 0.02
)

// Arbitrage is the full set of derived values for one bid/ask pair.
type Arbitrage struct {
	ImpliedProb     float64
	OppImpliedProb  float64
	Vig             float64
	Edge            float64
	ProfitPotential float64
	Status          domain.ArbStatus
}

// Summary returns the compact form stored on a MarketHierarchy.
func (a Arbitrage) Summary() domain.ArbitrageSummary {
	return domain.ArbitrageSummary{
		Vig:             a.Vig,
		Edge:            a.Edge,
		ProfitPotential: a.ProfitPotential,
		Status:          a.Status,
	}
}

// ComputeArbitrage derives implied probabilities from decimal bid and ask
// quotes. Both quotes must be finite and positive.
//
//	impliedProb    = 1/bid
//	oppImpliedProb = 1/ask
//	vig            = impliedProb + oppImpliedProb - 1
//	edge           = max(0, vig)
//	profit         = edge * stake
//
// Status is HIGH when edge is strictly greater than threshold.
func ComputeArbitrage(bid, ask, stake, threshold float64) (Arbitrage, error) {
	if err := validQuote("bid", bid); err != nil {
		return Arbitrage{}, err
	}
	if err := validQuote("ask", ask); err != nil {
		return Arbitrage{}, err
	}

	a := Arbitrage{
		ImpliedProb:    1 / bid,
		OppImpliedProb: 1 / ask,
	}
	a.Vig = a.ImpliedProb + a.OppImpliedProb - 1
	a.Edge = math.Max(0, a.Vig)
	a.ProfitPotential = a.Edge * stake
	a.Status = domain.ArbStatusLow
	if a.Edge > threshold {
		a.Status = domain.ArbStatusHigh
	}
	return a, nil
}

func validQuote(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("market: %s %v: %w", field, v, domain.ErrInvalidQuote)
	}
	return nil
}
