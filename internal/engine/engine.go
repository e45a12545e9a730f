// Package engine implements the hierarchical property resolution engine: a
// single-parent tree of typed nodes, an LRU resolution cache, a chunked bulk
// traverser and the per-engine metrics collector.
//
// An Engine owns all of its state and shares nothing with other engines. It
// is not safe for concurrent use; callers that need concurrency serialise
// access per engine (see service.Shard).
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/propengine/internal/cache/lru"
	"github.com/alanyoungcy/propengine/internal/domain"
)

// Config tunes one Engine.
type Config struct {
	// CacheCapacity bounds the number of cached resolutions.
	CacheCapacity int
	// DefaultTTL applies to nodes without their own CacheTTL.
	DefaultTTL time.Duration
	// SlowBatchThreshold triggers the slow-batch warning in ResolveBulk.
	// Zero disables it.
	SlowBatchThreshold time.Duration
	// LatencyWindow is the number of samples in the rolling average.
	LatencyWindow int
	// TraverseWidth is the traverser chunk width.
	TraverseWidth int
	// IDKey seeds the keyed hash used for node ids.
	IDKey string
	// OnSlowBatch, when set, is called after a slow ResolveBulk.
	OnSlowBatch func(batchSize int, elapsed time.Duration)
	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		CacheCapacity:      10_000,
		DefaultTTL:         30 * time.Second,
		SlowBatchThreshold: 5 * time.Millisecond,
		LatencyWindow:      DefaultLatencyWindow,
		TraverseWidth:      DefaultTraverseWidth,
		IDKey:              "propengine",
	}
}

// Engine is one independent hierarchy instance.
type Engine struct {
	cfg       Config
	store     *nodeStore
	cache     *lru.Cache
	metrics   *Metrics
	traverser Traverser
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an Engine. Zero-valued fields of cfg fall back to
// DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = def.CacheCapacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = def.LatencyWindow
	}
	if cfg.TraverseWidth <= 0 {
		cfg.TraverseWidth = def.TraverseWidth
	}
	if cfg.IDKey == "" {
		cfg.IDKey = def.IDKey
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:       cfg,
		store:     newNodeStore(cfg.IDKey, now),
		cache:     lru.New(cfg.CacheCapacity, cfg.DefaultTTL, lru.WithClock(now)),
		metrics:   NewMetrics(cfg.LatencyWindow),
		traverser: Traverser{Width: cfg.TraverseWidth},
		now:       now,
		logger:    logger.With(slog.String("component", "engine")),
	}
}

// CreateNode creates a node or, when the same (name, type, parent) tuple was
// already created since the last mutation, returns that node unchanged. The
// returned node is a copy.
func (e *Engine) CreateNode(spec NodeSpec) (*domain.PropertyNode, error) {
	n, _, err := e.store.create(spec)
	if err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// GetNode returns a copy of the node with id.
func (e *Engine) GetNode(id string) (*domain.PropertyNode, bool) {
	n := e.store.get(id)
	if n == nil {
		return nil, false
	}
	return n.Clone(), true
}

// GetChildren returns copies of parentID's children in insertion order. An
// empty parentID lists the roots.
func (e *Engine) GetChildren(parentID string) []*domain.PropertyNode {
	return e.store.materialize(e.store.byParent[parentID])
}

// GetSiblings returns copies of parentID's children that have type typ.
func (e *Engine) GetSiblings(parentID string, typ domain.NodeType) []*domain.PropertyNode {
	ids := e.store.byParent[parentID]
	out := make([]*domain.PropertyNode, 0, len(ids))
	for _, id := range ids {
		if n := e.store.get(id); n != nil && n.Type == typ {
			out = append(out, n.Clone())
		}
	}
	return out
}

// GetNodesByType returns copies of every node of type typ.
func (e *Engine) GetNodesByType(typ domain.NodeType) []*domain.PropertyNode {
	return e.store.materialize(e.store.byType[typ])
}

// GetNodesByName returns copies of every node called name.
func (e *Engine) GetNodesByName(name string) []*domain.PropertyNode {
	return e.store.materialize(e.store.byName[name])
}

// Nodes returns copies of all nodes in insertion order.
func (e *Engine) Nodes() []*domain.PropertyNode {
	return e.store.materialize(e.store.order)
}

// Len returns the number of nodes.
func (e *Engine) Len() int {
	return e.store.len()
}

// Epoch returns the current mutation epoch used as the id nonce.
func (e *Engine) Epoch() uint64 {
	return e.store.epoch
}

// Advance starts a new mutation epoch. Nodes created afterwards get fresh
// ids even for tuples that already exist.
func (e *Engine) Advance() {
	e.store.mutate()
}

// UpdateValue replaces a node's own value, starts a new epoch and drops the
// cached resolutions of the node and its descendants. The returned event is
// for the caller to publish.
func (e *Engine) UpdateValue(id string, value any) (domain.UpdateEvent, error) {
	n := e.store.get(id)
	if n == nil {
		return domain.UpdateEvent{}, fmt.Errorf("engine: update node %s: %w", id, domain.ErrNotFound)
	}

	old := n.Value
	n.Value = domain.CloneValue(value)
	n.Metadata.UpdatedAt = e.now()
	e.store.mutate()
	e.invalidateSubtree(id)

	return domain.NewUpdateEvent(n, domain.ChangeUpdated, old, value), nil
}

// Restore replaces the engine's tree with nodes, which must satisfy every
// tree invariant. Nothing is loaded when validation fails. The cache and the
// metrics are cleared.
func (e *Engine) Restore(nodes []domain.PropertyNode, epoch uint64) error {
	if err := validateTree(nodes); err != nil {
		return err
	}

	fresh := newNodeStore(e.cfg.IDKey, e.now)
	for i := range nodes {
		fresh.insert(nodes[i].Clone())
	}
	fresh.epoch = epoch
	fresh.mutate()

	e.store = fresh
	e.cache.Clear()
	e.metrics.Reset()
	return nil
}

// Traverser returns the engine's configured traverser.
func (e *Engine) Traverser() Traverser {
	return e.traverser
}

// TraverseBulk filters nodes with the engine's traverser.
func (e *Engine) TraverseBulk(nodes []*domain.PropertyNode, pred Predicate) []*domain.PropertyNode {
	return e.traverser.TraverseBulk(nodes, pred)
}

// Metrics returns the current metrics snapshot.
func (e *Engine) Metrics() domain.MetricsSnapshot {
	return e.metrics.Snapshot()
}

// ResetMetrics zeroes the counters and latency window. Cached resolutions
// are kept.
func (e *Engine) ResetMetrics() {
	e.metrics.Reset()
}

// CacheLen returns the number of cached resolutions.
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}

func (e *Engine) invalidateSubtree(id string) {
	for _, sub := range e.store.subtree(id) {
		e.cache.Delete(sub)
	}
}
