package service

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/engine"
	"github.com/alanyoungcy/propengine/internal/market"
)

// slowBatch is a slow ResolveBulk observed while the shard lock was held.
type slowBatch struct {
	size    int
	elapsed time.Duration
}

// Shard serialises access to one exchange's engine. Every method that touches
// the engine holds mu; nothing in here does I/O.
type Shard struct {
	mu sync.Mutex

	exchangeID string
	engine     *engine.Engine
	assembler  *market.Assembler
	latest     map[string]domain.MarketHierarchy
	slow       []slowBatch
}

func newShard(exchangeID string, ecfg engine.Config, mcfg market.Config, logger *slog.Logger) *Shard {
	s := &Shard{
		exchangeID: exchangeID,
		latest:     make(map[string]domain.MarketHierarchy),
	}
	logger = logger.With(slog.String("exchange", exchangeID))

	// Called from inside ResolveBulk, so mu is already held.
	ecfg.OnSlowBatch = func(size int, elapsed time.Duration) {
		s.slow = append(s.slow, slowBatch{size: size, elapsed: elapsed})
	}
	s.engine = engine.New(ecfg, logger)
	s.assembler = market.NewAssembler(s.engine, mcfg, logger)
	return s
}

// ExchangeID returns the exchange this shard serves.
func (s *Shard) ExchangeID() string { return s.exchangeID }

// buildResult is what Ingest needs to finish outside the lock.
type buildResult struct {
	hierarchy *domain.MarketHierarchy
	nodes     []*domain.PropertyNode
	clamps    []clampEvent
	slow      []slowBatch
}

type clampEvent struct {
	nodeID string
	name   string
	record domain.ClampRecord
}

func (s *Shard) build(snap domain.MarketSnapshot) (buildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.assembler.Build(snap)
	res := buildResult{hierarchy: h, slow: s.takeSlow()}
	if h == nil {
		return res, err
	}

	s.latest[h.MarketID] = *h
	for _, id := range h.NodeIDs() {
		n, ok := s.engine.GetNode(id)
		if !ok {
			continue
		}
		res.nodes = append(res.nodes, n)
		for _, c := range n.Metadata.Clamps {
			res.clamps = append(res.clamps, clampEvent{nodeID: n.ID, name: n.Name, record: c})
		}
	}
	return res, err
}

func (s *Shard) takeSlow() []slowBatch {
	out := s.slow
	s.slow = nil
	return out
}

func (s *Shard) create(spec engine.NodeSpec) (*domain.PropertyNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CreateNode(spec)
}

func (s *Shard) node(id string) (*domain.PropertyNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.GetNode(id)
}

func (s *Shard) children(parentID string) []*domain.PropertyNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.GetChildren(parentID)
}

// resolve resolves id and reports a clamp recorded by this call, if any.
func (s *Shard) resolve(id string) (any, bool, *clampEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, _ := s.engine.GetNode(id)
	v, ok, err := s.engine.Resolve(id)
	if !ok || err != nil {
		return v, ok, nil, err
	}
	after, _ := s.engine.GetNode(id)
	if c, fresh := newClamp(before, after); fresh {
		return v, ok, &clampEvent{nodeID: id, name: after.Name, record: c}, nil
	}
	return v, ok, nil, nil
}

// newClamp compares the newest clamp record of two copies of the same node.
func newClamp(before, after *domain.PropertyNode) (domain.ClampRecord, bool) {
	if after == nil || len(after.Metadata.Clamps) == 0 {
		return domain.ClampRecord{}, false
	}
	last := after.Metadata.Clamps[len(after.Metadata.Clamps)-1]
	if before == nil || len(before.Metadata.Clamps) == 0 {
		return last, true
	}
	prev := before.Metadata.Clamps[len(before.Metadata.Clamps)-1]
	if len(after.Metadata.Clamps) != len(before.Metadata.Clamps) || !prev.At.Equal(last.At) {
		return last, true
	}
	return domain.ClampRecord{}, false
}

func (s *Shard) update(id string, value any) (domain.UpdateEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.UpdateValue(id, value)
}

func (s *Shard) latestFor(symbol string) (domain.MarketHierarchy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.latest[symbol]
	return h, ok
}

func (s *Shard) metrics() (domain.MetricsSnapshot, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Metrics(), s.engine.Len(), s.engine.CacheLen()
}

func (s *Shard) resetMetrics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.ResetMetrics()
}

// state copies everything an export needs.
func (s *Shard) state(now time.Time) snapshotState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := snapshotState{epoch: s.engine.Epoch(), at: now}
	for _, n := range s.engine.Nodes() {
		st.nodes = append(st.nodes, *n)
	}
	for _, h := range s.latest {
		st.markets = append(st.markets, h)
	}
	slices.SortFunc(st.markets, func(a, b domain.MarketHierarchy) int {
		return strings.Compare(a.MarketID, b.MarketID)
	})
	return st
}

type snapshotState struct {
	epoch   uint64
	at      time.Time
	nodes   []domain.PropertyNode
	markets []domain.MarketHierarchy
}

// restore swaps in a verified tree. The latest handles are replaced by the
// ones carried in the export.
func (s *Shard) restore(nodes []domain.PropertyNode, epoch uint64, markets []domain.MarketHierarchy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.Restore(nodes, epoch); err != nil {
		return err
	}
	s.latest = make(map[string]domain.MarketHierarchy, len(markets))
	for _, h := range markets {
		s.latest[h.MarketID] = h
	}
	return nil
}
