package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// SummaryStore implements domain.SummaryStore. Scores are stored as NUMERIC
// and carried through shopspring/decimal so no float rounding happens in SQL.
type SummaryStore struct {
	pool *pgxpool.Pool
}

// NewSummaryStore creates a SummaryStore over pool.
func NewSummaryStore(pool *pgxpool.Pool) *SummaryStore {
	return &SummaryStore{pool: pool}
}

const summarySelectCols = `id, exchange_id, symbol, root_id,
	vig, edge, profit_potential, status,
	node_count, build_latency_us, created_at`

// summaryRow is the column-level form of a SummaryRecord.
type summaryRow struct {
	ID, ExchangeID, Symbol, RootID string
	Vig, Edge, Profit              decimal.Decimal
	Status                         string
	NodeCount                      int
	LatencyUS                      int64
	CreatedAt                      time.Time
}

func toRow(rec domain.SummaryRecord) summaryRow {
	return summaryRow{
		ID:         rec.ID,
		ExchangeID: rec.ExchangeID,
		Symbol:     rec.Symbol,
		RootID:     rec.RootID,
		Vig:        decimal.NewFromFloat(rec.Summary.Vig).Round(10),
		Edge:       decimal.NewFromFloat(rec.Summary.Edge).Round(10),
		Profit:     decimal.NewFromFloat(rec.Summary.ProfitPotential).Round(6),
		Status:     string(rec.Summary.Status),
		NodeCount:  rec.NodeCount,
		LatencyUS:  rec.BuildLatency.Microseconds(),
		CreatedAt:  rec.CreatedAt,
	}
}

func (r summaryRow) record() domain.SummaryRecord {
	return domain.SummaryRecord{
		ID:         r.ID,
		ExchangeID: r.ExchangeID,
		Symbol:     r.Symbol,
		RootID:     r.RootID,
		Summary: domain.ArbitrageSummary{
			Vig:             r.Vig.InexactFloat64(),
			Edge:            r.Edge.InexactFloat64(),
			ProfitPotential: r.Profit.InexactFloat64(),
			Status:          domain.ArbStatus(r.Status),
		},
		NodeCount:    r.NodeCount,
		BuildLatency: time.Duration(r.LatencyUS) * time.Microsecond,
		CreatedAt:    r.CreatedAt,
	}
}

// Insert stores one summary row.
func (s *SummaryStore) Insert(ctx context.Context, rec domain.SummaryRecord) error {
	const query = `
		INSERT INTO market_summaries (
			id, exchange_id, symbol, root_id,
			vig, edge, profit_potential, status,
			node_count, build_latency_us, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r := toRow(rec)
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.ExchangeID, r.Symbol, r.RootID,
		r.Vig, r.Edge, r.Profit, r.Status,
		r.NodeCount, r.LatencyUS, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert summary %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns one row or domain.ErrNotFound.
func (s *SummaryStore) GetByID(ctx context.Context, id string) (domain.SummaryRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+summarySelectCols+` FROM market_summaries WHERE id = $1`, id)
	rec, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SummaryRecord{}, fmt.Errorf("postgres: summary %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("postgres: get summary %s: %w", id, err)
	}
	return rec, nil
}

// ListBySymbol returns one market's history, newest first.
func (s *SummaryStore) ListBySymbol(ctx context.Context, exchangeID, symbol string, opts domain.ListOpts) ([]domain.SummaryRecord, error) {
	q := newListQuery(`SELECT `+summarySelectCols+` FROM market_summaries`).
		and("exchange_id = %s", exchangeID).
		and("symbol = %s", symbol).
		window("created_at", opts).
		page("created_at DESC", opts)
	return s.list(ctx, "list summaries by symbol", q)
}

// ListHigh returns HIGH-status rows across all markets, newest first.
func (s *SummaryStore) ListHigh(ctx context.Context, opts domain.ListOpts) ([]domain.SummaryRecord, error) {
	q := newListQuery(`SELECT `+summarySelectCols+` FROM market_summaries`).
		and("status = %s", string(domain.ArbStatusHigh)).
		window("created_at", opts).
		page("created_at DESC", opts)
	return s.list(ctx, "list high summaries", q)
}

// ListBefore returns every row created strictly before cutoff, oldest first.
func (s *SummaryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SummaryRecord, error) {
	q := newListQuery(`SELECT `+summarySelectCols+` FROM market_summaries`).
		and("created_at < %s", before).
		page("created_at ASC", domain.ListOpts{})
	return s.list(ctx, "list summaries before", q)
}

func (s *SummaryStore) list(ctx context.Context, op string, q *listQuery) ([]domain.SummaryRecord, error) {
	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.SummaryRecord
	for rows.Next() {
		rec, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanSummary(row pgx.Row) (domain.SummaryRecord, error) {
	var r summaryRow
	if err := row.Scan(
		&r.ID, &r.ExchangeID, &r.Symbol, &r.RootID,
		&r.Vig, &r.Edge, &r.Profit, &r.Status,
		&r.NodeCount, &r.LatencyUS, &r.CreatedAt,
	); err != nil {
		return domain.SummaryRecord{}, err
	}
	return r.record(), nil
}
