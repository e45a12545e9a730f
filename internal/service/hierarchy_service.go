// Package service coordinates the per-exchange engines with the external
// adapters. Engine work happens under a shard lock; cache writes, persistence,
// publishing and alerts happen after the lock is released.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/engine"
	"github.com/alanyoungcy/propengine/internal/market"
	"github.com/alanyoungcy/propengine/internal/notify"
	"github.com/alanyoungcy/propengine/internal/snapshot"
)

// DefaultExportLockTTL bounds how long one replica may hold an export lock.
const DefaultExportLockTTL = 30 * time.Second

// Audit event names.
const (
	AuditClamp          = "clamp"
	AuditSnapshotExport = "snapshot_export"
	AuditRestore        = "snapshot_restore"
)

// Broadcaster delivers update events to in-process listeners.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

// Config tunes the engines the service creates.
type Config struct {
	Engine        engine.Config
	Market        market.Config
	ExportLockTTL time.Duration
}

// Deps are the optional external adapters. Any of them may be nil.
type Deps struct {
	Cache       domain.HierarchyCache
	Summaries   domain.SummaryStore
	Audit       domain.AuditStore
	Bus         domain.EventBus
	Broadcaster Broadcaster
	Notifier    *notify.Notifier
	Exporter    *snapshot.Exporter
	Loader      *snapshot.Loader
	Locks       domain.LockManager
}

// ShardMetrics is one exchange's metrics plus its sizes.
type ShardMetrics struct {
	ExchangeID string                 `json:"exchange_id"`
	Nodes      int                    `json:"nodes"`
	CacheSize  int                    `json:"cache_size"`
	Metrics    domain.MetricsSnapshot `json:"metrics"`
}

// HierarchyService owns one Shard per exchange.
type HierarchyService struct {
	cfg  Config
	deps Deps

	mu     sync.RWMutex
	shards map[string]*Shard

	now    func() time.Time
	logger *slog.Logger
}

// NewHierarchyService creates a HierarchyService.
func NewHierarchyService(cfg Config, deps Deps, logger *slog.Logger) *HierarchyService {
	if cfg.ExportLockTTL <= 0 {
		cfg.ExportLockTTL = DefaultExportLockTTL
	}
	now := time.Now
	if cfg.Engine.Clock != nil {
		now = cfg.Engine.Clock
	}
	return &HierarchyService{
		cfg:    cfg,
		deps:   deps,
		shards: make(map[string]*Shard),
		now:    now,
		logger: logger.With(slog.String("component", "hierarchy_service")),
	}
}

// shard returns the shard for exchangeID, creating it on first use.
func (s *HierarchyService) shard(exchangeID string) *Shard {
	s.mu.RLock()
	sh, ok := s.shards[exchangeID]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[exchangeID]; ok {
		return sh
	}
	sh = newShard(exchangeID, s.cfg.Engine, s.cfg.Market, s.logger)
	s.shards[exchangeID] = sh
	return sh
}

// existing returns the shard for exchangeID without creating one.
func (s *HierarchyService) existing(exchangeID string) (*Shard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shards[exchangeID]
	if !ok {
		return nil, fmt.Errorf("service: exchange %q: %w", exchangeID, domain.ErrNotFound)
	}
	return sh, nil
}

// Exchanges lists the exchanges that have a shard, sorted.
func (s *HierarchyService) Exchanges() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.shards))
	for id := range s.shards {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Ingest assembles snap into its exchange's engine. A constraint violation
// during resolution is returned with the hierarchy; an invalid quote returns
// no hierarchy. Failures of the external adapters are logged only.
func (s *HierarchyService) Ingest(ctx context.Context, snap domain.MarketSnapshot) (*domain.MarketHierarchy, error) {
	if snap.ExchangeID == "" {
		return nil, fmt.Errorf("service: ingest: empty exchange id: %w", domain.ErrInvalidQuote)
	}
	sh := s.shard(snap.ExchangeID)
	res, err := sh.build(snap)
	s.notifySlow(ctx, snap.ExchangeID, res.slow)
	if res.hierarchy == nil {
		return nil, err
	}
	h := res.hierarchy

	if s.deps.Cache != nil {
		if cerr := s.deps.Cache.SetLatest(ctx, *h); cerr != nil {
			s.logger.WarnContext(ctx, "service: cache hierarchy failed",
				slog.String("hierarchy_id", h.ID),
				slog.String("error", cerr.Error()),
			)
		}
	}
	if s.deps.Summaries != nil {
		if serr := s.deps.Summaries.Insert(ctx, domain.SummaryFromHierarchy(*h)); serr != nil {
			s.logger.WarnContext(ctx, "service: persist summary failed",
				slog.String("hierarchy_id", h.ID),
				slog.String("error", serr.Error()),
			)
		}
	}
	for _, c := range res.clamps {
		s.auditClamp(ctx, snap.ExchangeID, c)
	}
	for _, n := range res.nodes {
		s.publish(ctx, snap.ExchangeID, domain.NewUpdateEvent(n, domain.ChangeCreated, nil, n.Value))
	}
	if h.Arbitrage.Status == domain.ArbStatusHigh {
		title, msg := notify.ArbHighAlert(*h)
		if nerr := s.deps.Notifier.Notify(ctx, notify.EventArbHigh, title, msg); nerr != nil {
			s.logger.WarnContext(ctx, "service: arb alert failed", slog.String("error", nerr.Error()))
		}
	}
	return h, err
}

// Latest returns the newest hierarchy handle for a market, from memory first
// and then from the shared cache.
func (s *HierarchyService) Latest(ctx context.Context, exchangeID, symbol string) (domain.MarketHierarchy, error) {
	if sh, err := s.existing(exchangeID); err == nil {
		if h, ok := sh.latestFor(symbol); ok {
			return h, nil
		}
	}
	if s.deps.Cache != nil {
		h, err := s.deps.Cache.GetLatest(ctx, exchangeID, symbol)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.MarketHierarchy{}, fmt.Errorf("service: latest %s/%s: %w", exchangeID, symbol, err)
		}
	}
	return domain.MarketHierarchy{}, fmt.Errorf("service: latest %s/%s: %w", exchangeID, symbol, domain.ErrNotFound)
}

// CreateNode adds a node to an exchange's tree and publishes a created event.
func (s *HierarchyService) CreateNode(ctx context.Context, exchangeID string, spec engine.NodeSpec) (*domain.PropertyNode, error) {
	n, err := s.shard(exchangeID).create(spec)
	if err != nil {
		return nil, fmt.Errorf("service: create node: %w", err)
	}
	s.publish(ctx, exchangeID, domain.NewUpdateEvent(n, domain.ChangeCreated, nil, n.Value))
	return n, nil
}

// Node returns a copy of one node.
func (s *HierarchyService) Node(exchangeID, id string) (*domain.PropertyNode, error) {
	sh, err := s.existing(exchangeID)
	if err != nil {
		return nil, err
	}
	n, ok := sh.node(id)
	if !ok {
		return nil, fmt.Errorf("service: node %s: %w", id, domain.ErrNotFound)
	}
	return n, nil
}

// Children lists a node's children; an empty parentID lists the roots.
func (s *HierarchyService) Children(exchangeID, parentID string) ([]*domain.PropertyNode, error) {
	sh, err := s.existing(exchangeID)
	if err != nil {
		return nil, err
	}
	return sh.children(parentID), nil
}

// Resolve returns the effective value of a node. A clamp applied by this
// resolution is written to the audit log.
func (s *HierarchyService) Resolve(ctx context.Context, exchangeID, id string) (any, error) {
	sh, err := s.existing(exchangeID)
	if err != nil {
		return nil, err
	}
	v, ok, clamp, err := sh.resolve(id)
	if err != nil {
		return nil, fmt.Errorf("service: resolve %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("service: resolve %s: %w", id, domain.ErrNotFound)
	}
	if clamp != nil {
		s.auditClamp(ctx, exchangeID, *clamp)
	}
	return v, nil
}

// UpdateValue replaces a node's own value and publishes the update event.
func (s *HierarchyService) UpdateValue(ctx context.Context, exchangeID, id string, value any) (domain.UpdateEvent, error) {
	sh, err := s.existing(exchangeID)
	if err != nil {
		return domain.UpdateEvent{}, err
	}
	ev, err := sh.update(id, value)
	if err != nil {
		return domain.UpdateEvent{}, fmt.Errorf("service: update: %w", err)
	}
	s.publish(ctx, exchangeID, ev)
	return ev, nil
}

// Metrics returns one exchange's metrics.
func (s *HierarchyService) Metrics(exchangeID string) (ShardMetrics, error) {
	sh, err := s.existing(exchangeID)
	if err != nil {
		return ShardMetrics{}, err
	}
	m, nodes, cached := sh.metrics()
	return ShardMetrics{ExchangeID: exchangeID, Nodes: nodes, CacheSize: cached, Metrics: m}, nil
}

// AllMetrics returns every exchange's metrics sorted by exchange.
func (s *HierarchyService) AllMetrics() []ShardMetrics {
	ids := s.Exchanges()
	out := make([]ShardMetrics, 0, len(ids))
	for _, id := range ids {
		if m, err := s.Metrics(id); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// ResetMetrics zeroes one exchange's counters.
func (s *HierarchyService) ResetMetrics(exchangeID string) error {
	sh, err := s.existing(exchangeID)
	if err != nil {
		return err
	}
	sh.resetMetrics()
	return nil
}

// Export writes a signed snapshot of one exchange. When a lock manager is
// configured only one replica exports an exchange at a time; a held lock
// returns domain.ErrLockHeld.
func (s *HierarchyService) Export(ctx context.Context, exchangeID string) (string, error) {
	if s.deps.Exporter == nil {
		return "", fmt.Errorf("service: export: no exporter configured")
	}
	sh, err := s.existing(exchangeID)
	if err != nil {
		return "", err
	}

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, "export:"+exchangeID, s.cfg.ExportLockTTL)
		if err != nil {
			return "", fmt.Errorf("service: export %s: %w", exchangeID, err)
		}
		defer unlock()
	}

	st := sh.state(s.now().UTC())
	p, err := s.deps.Exporter.Export(ctx, &snapshot.State{
		ExportedAt: st.at,
		ExchangeID: exchangeID,
		Epoch:      st.epoch,
		Nodes:      st.nodes,
		Markets:    st.markets,
	})
	if err != nil {
		return "", fmt.Errorf("service: export %s: %w", exchangeID, err)
	}
	s.audit(ctx, AuditSnapshotExport, map[string]any{
		"exchange": exchangeID,
		"path":     p,
		"nodes":    len(st.nodes),
	})
	return p, nil
}

// ExportAll exports every exchange and joins the failures. Exchanges locked
// by another replica are skipped.
func (s *HierarchyService) ExportAll(ctx context.Context) ([]string, error) {
	var paths []string
	var errs []error
	for _, id := range s.Exchanges() {
		p, err := s.Export(ctx, id)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			s.logger.InfoContext(ctx, "service: export skipped, lock held", slog.String("exchange", id))
		case err != nil:
			errs = append(errs, err)
		default:
			paths = append(paths, p)
		}
	}
	return paths, errors.Join(errs...)
}

// Restore loads a verified snapshot into the exchange named by the export.
// A failed verification leaves the running tree untouched.
func (s *HierarchyService) Restore(ctx context.Context, path string) (*snapshot.State, error) {
	if s.deps.Loader == nil {
		return nil, fmt.Errorf("service: restore: no loader configured")
	}
	st, err := s.deps.Loader.Load(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrity) || errors.Is(err, domain.ErrSignature) {
			if nerr := s.deps.Notifier.Notify(ctx, notify.EventIntegrity, "Snapshot rejected", err.Error()); nerr != nil {
				s.logger.WarnContext(ctx, "service: integrity alert failed", slog.String("error", nerr.Error()))
			}
		}
		return nil, fmt.Errorf("service: restore: %w", err)
	}
	if err := s.shard(st.ExchangeID).restore(st.Nodes, st.Epoch, st.Markets); err != nil {
		return nil, fmt.Errorf("service: restore %s: %w", path, err)
	}
	s.audit(ctx, AuditRestore, map[string]any{
		"exchange": st.ExchangeID,
		"path":     path,
		"nodes":    len(st.Nodes),
	})
	return st, nil
}

func (s *HierarchyService) publish(ctx context.Context, exchangeID string, ev domain.UpdateEvent) {
	if s.deps.Bus != nil {
		if err := s.deps.Bus.PublishEvent(ctx, exchangeID, ev); err != nil {
			s.logger.WarnContext(ctx, "service: publish event failed",
				slog.String("node_id", ev.NodeID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.Broadcaster != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		s.deps.Broadcaster.Broadcast(domain.EventChannel(exchangeID), data)
	}
}

func (s *HierarchyService) auditClamp(ctx context.Context, exchangeID string, c clampEvent) {
	s.audit(ctx, AuditClamp, map[string]any{
		"exchange": exchangeID,
		"node_id":  c.nodeID,
		"name":     c.name,
		"original": c.record.Original,
		"clamped":  c.record.Clamped,
		"bound":    c.record.Bound,
	})
}

func (s *HierarchyService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "service: audit failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *HierarchyService) notifySlow(ctx context.Context, exchangeID string, batches []slowBatch) {
	for _, b := range batches {
		title, msg := notify.SlowBatchAlert(exchangeID, b.size, b.elapsed)
		if err := s.deps.Notifier.Notify(ctx, notify.EventSlowBatch, title, msg); err != nil {
			s.logger.WarnContext(ctx, "service: slow batch alert failed", slog.String("error", err.Error()))
		}
	}
}
