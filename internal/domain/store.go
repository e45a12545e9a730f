package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SummaryRecord is one persisted arbitrage summary row.
type SummaryRecord struct {
	ID           string
	ExchangeID   string
	Symbol       string
	RootID       string
	Summary      ArbitrageSummary
	NodeCount    int
	BuildLatency time.Duration
	CreatedAt    time.Time
}

// SummaryFromHierarchy flattens a hierarchy into its persisted row.
func SummaryFromHierarchy(h MarketHierarchy) SummaryRecord {
	return SummaryRecord{
		ID:           h.ID,
		ExchangeID:   h.ExchangeID,
		Symbol:       h.MarketID,
		RootID:       h.RootID,
		Summary:      h.Arbitrage,
		NodeCount:    1 + len(h.MarketProps) + len(h.ArbProps),
		BuildLatency: h.BuildLatency,
		CreatedAt:    h.CreatedAt,
	}
}

// SummaryStore persists market summary history.
type SummaryStore interface {
	Insert(ctx context.Context, rec SummaryRecord) error
	GetByID(ctx context.Context, id string) (SummaryRecord, error)
	ListBySymbol(ctx context.Context, exchangeID, symbol string, opts ListOpts) ([]SummaryRecord, error)
	ListHigh(ctx context.Context, opts ListOpts) ([]SummaryRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
