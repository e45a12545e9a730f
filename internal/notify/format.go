package notify

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// ArbHighAlert renders the alert for a HIGH-status market.
func ArbHighAlert(h domain.MarketHierarchy) (title, message string) {
	title = fmt.Sprintf("HIGH edge %s on %s", h.MarketID, h.ExchangeID)
	message = fmt.Sprintf("vig %.4f, edge %.4f, profit potential %.2f (built in %s)",
		h.Arbitrage.Vig, h.Arbitrage.Edge, h.Arbitrage.ProfitPotential, h.BuildLatency)
	return title, message
}

// SlowBatchAlert renders the alert for a slow bulk resolution.
func SlowBatchAlert(exchangeID string, batchSize int, elapsed time.Duration) (title, message string) {
	title = fmt.Sprintf("Slow resolve batch on %s", exchangeID)
	message = fmt.Sprintf("%d nodes took %s", batchSize, elapsed)
	return title, message
}
