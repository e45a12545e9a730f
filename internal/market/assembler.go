// Package market turns exchange quote snapshots into property subtrees: one
// market root, a primitive per quote field and the derived arbitrage nodes.
package market

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/engine"
)

// Node names of the arbitrage children.
const (
	PropImpliedProb     = "impliedProb"
	PropOppImpliedProb  = "oppImpliedProb"
	PropVig             = "vig"
	PropEdge            = "edge"
	PropProfitPotential = "profitPotential"
	PropArbStatus       = "arbStatus"
)

// Node names of the fixed quote primitives.
const (
	PropLastPrice = "lastPrice"
	PropBid       = "bid"
	PropAsk       = "ask"
	PropVolume    = "volume"
	PropTimestamp = "timestamp"
)

// Tags attached to assembled nodes.
const (
	TagMarket    = "market"
	TagPrimitive = "primitive"
	TagArbitrage = "arbitrage"
)

// Tree is the subset of the engine the assembler drives.
type Tree interface {
	Advance()
	CreateNode(spec engine.NodeSpec) (*domain.PropertyNode, error)
	GetNode(id string) (*domain.PropertyNode, bool)
	ResolveBulk(ids []string) (map[string]any, error)
}

// Config holds the scoring parameters.
type Config struct {
	Stake         float64
	EdgeThreshold float64
	// Now overrides time.Now (tests).
	Now func() time.Time
}

// DefaultConfig returns the default scoring parameters.
func DefaultConfig() Config {
	return Config{Stake: DefaultStake, EdgeThreshold: DefaultEdgeThreshold}
}

// Assembler builds market hierarchies inside one engine.
type Assembler struct {
	tree   Tree
	cfg    Config
	logger *slog.Logger
}

// NewAssembler creates an Assembler over tree. Non-positive fields of cfg
// fall back to the defaults.
func NewAssembler(tree Tree, cfg Config, logger *slog.Logger) *Assembler {
	if cfg.Stake <= 0 {
		cfg.Stake = DefaultStake
	}
	if cfg.EdgeThreshold <= 0 {
		cfg.EdgeThreshold = DefaultEdgeThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		tree:   tree,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "market_assembler")),
	}
}

// Build assembles the subtree for snap, resolves it and returns the handle.
// Each call starts a new engine epoch so every snapshot gets its own nodes.
// Quotes are validated before anything is allocated.
//
// A constraint violation while resolving is returned together with the
// partially resolved hierarchy.
func (a *Assembler) Build(snap domain.MarketSnapshot) (*domain.MarketHierarchy, error) {
	start := a.cfg.Now()

	if snap.Symbol == "" {
		return nil, fmt.Errorf("market: build: empty symbol: %w", domain.ErrInvalidQuote)
	}
	arb, err := ComputeArbitrage(snap.Bid, snap.Ask, a.cfg.Stake, a.cfg.EdgeThreshold)
	if err != nil {
		return nil, fmt.Errorf("market: build %s: %w", snap.Symbol, err)
	}

	a.tree.Advance()

	root, err := a.tree.CreateNode(engine.NodeSpec{
		Name:   snap.Symbol,
		Type:   domain.NodeTypeMarket,
		Value:  map[string]any{"symbol": snap.Symbol, "exchange": snap.ExchangeID},
		Tags:   []string{TagMarket, snap.Symbol},
		Source: snap.ExchangeID,
	})
	if err != nil {
		return nil, fmt.Errorf("market: build %s: root: %w", snap.Symbol, err)
	}

	h := &domain.MarketHierarchy{
		ID:         uuid.NewString(),
		RootID:     root.ID,
		MarketID:   snap.Symbol,
		ExchangeID: snap.ExchangeID,
	}

	for _, f := range quoteFields(snap) {
		n, err := a.tree.CreateNode(engine.NodeSpec{
			Name:     f.name,
			Type:     domain.NodeTypePrimitive,
			Value:    f.value,
			ParentID: root.ID,
			Tags:     []string{TagMarket, TagPrimitive},
			Source:   snap.ExchangeID,
		})
		if err != nil {
			return nil, fmt.Errorf("market: build %s: field %s: %w", snap.Symbol, f.name, err)
		}
		h.MarketProps = append(h.MarketProps, n.ID)
	}

	arbIDs := make(map[string]string, 6)
	for _, f := range arbitrageFields(arb) {
		n, err := a.tree.CreateNode(engine.NodeSpec{
			Name:     f.name,
			Type:     domain.NodeTypeArbitrage,
			Value:    f.value,
			ParentID: root.ID,
			Tags:     []string{TagArbitrage},
			Source:   snap.ExchangeID,
		})
		if err != nil {
			return nil, fmt.Errorf("market: build %s: arbitrage %s: %w", snap.Symbol, f.name, err)
		}
		h.ArbProps = append(h.ArbProps, n.ID)
		arbIDs[f.name] = n.ID
	}

	resolved, resolveErr := a.tree.ResolveBulk(h.NodeIDs())
	h.Resolved = resolved
	h.Arbitrage = a.extractSummary(resolved, arbIDs, arb)
	h.CreatedAt = a.cfg.Now()
	h.BuildLatency = h.CreatedAt.Sub(start)

	if resolveErr != nil {
		a.logger.Warn("market: resolve subtree failed",
			slog.String("symbol", snap.Symbol),
			slog.String("error", resolveErr.Error()),
		)
		return h, fmt.Errorf("market: build %s: %w", snap.Symbol, resolveErr)
	}

	a.logger.Debug("market hierarchy built",
		slog.String("symbol", snap.Symbol),
		slog.String("exchange", snap.ExchangeID),
		slog.String("status", string(h.Arbitrage.Status)),
		slog.Duration("latency", h.BuildLatency),
	)
	return h, nil
}

// extractSummary reads the scored values from the resolved map, falling back
// to the node's raw value and finally to the computed value.
func (a *Assembler) extractSummary(resolved map[string]any, ids map[string]string, arb Arbitrage) domain.ArbitrageSummary {
	lookup := func(name string) any {
		id := ids[name]
		if v, ok := resolved[id]; ok && v != nil {
			return v
		}
		if n, ok := a.tree.GetNode(id); ok {
			return n.Value
		}
		return nil
	}
	num := func(name string, fallback float64) float64 {
		if f, ok := lookup(name).(float64); ok {
			return f
		}
		return fallback
	}

	s := domain.ArbitrageSummary{
		Vig:             num(PropVig, arb.Vig),
		Edge:            num(PropEdge, arb.Edge),
		ProfitPotential: num(PropProfitPotential, arb.ProfitPotential),
		Status:          arb.Status,
	}
	if st, ok := lookup(PropArbStatus).(string); ok && st != "" {
		s.Status = domain.ArbStatus(st)
	}
	return s
}

type field struct {
	name  string
	value any
}

// quoteFields lists the fixed quote fields followed by the extension keys in
// sorted order. Extension keys that shadow a fixed field are dropped.
func quoteFields(snap domain.MarketSnapshot) []field {
	out := []field{
		{PropLastPrice, snap.LastPrice},
		{PropBid, snap.Bid},
		{PropAsk, snap.Ask},
		{PropVolume, snap.Volume},
		{PropTimestamp, snap.Timestamp.UnixMilli()},
	}
	fixed := len(out)
	for _, k := range slices.Sorted(maps.Keys(snap.Extensions)) {
		if slices.ContainsFunc(out[:fixed], func(f field) bool { return f.name == k }) {
			continue
		}
		out = append(out, field{k, domain.CloneValue(snap.Extensions[k])})
	}
	return out
}

func arbitrageFields(a Arbitrage) []field {
	return []field{
		{PropImpliedProb, a.ImpliedProb},
		{PropOppImpliedProb, a.OppImpliedProb},
		{PropVig, a.Vig},
		{PropEdge, a.Edge},
		{PropProfitPotential, a.ProfitPotential},
		{PropArbStatus, string(a.Status)},
	}
}
