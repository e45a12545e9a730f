package engine

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// Resolve returns the effective value of node id: its own value merged with
// every inheritable ancestor's, with the node's own constraints applied.
//
// ok is false when the node does not exist; that is a lookup miss, not an
// error. err is a *ConstraintError for required or enum violations.
func (e *Engine) Resolve(id string) (value any, ok bool, err error) {
	start := e.now()
	value, ok, err = e.resolve(id)
	e.metrics.observeLatency(e.now().Sub(start))
	return value, ok, err
}

func (e *Engine) resolve(id string) (any, bool, error) {
	e.metrics.incResolutions()

	if v, hit := e.cache.Get(id); hit {
		e.metrics.incHits()
		return domain.CloneValue(v), true, nil
	}
	e.metrics.incMisses()

	n := e.store.get(id)
	if n == nil {
		return nil, false, nil
	}

	merged, chain := e.mergeChain(n)

	value, clamp, err := applyConstraints(n, merged)
	if err != nil {
		return nil, true, err
	}

	now := e.now()
	if clamp != nil {
		n.Metadata.Clamps = append(n.Metadata.Clamps, domain.ClampRecord{
			Original: clamp.original,
			Clamped:  clamp.clamped,
			Bound:    clamp.bound,
			At:       now,
		})
		if len(n.Metadata.Clamps) > maxClampRecords {
			n.Metadata.Clamps = slices.Clone(n.Metadata.Clamps[len(n.Metadata.Clamps)-maxClampRecords:])
		}
	}

	e.cache.Set(id, domain.CloneValue(value), n.CacheTTL)
	n.ResolvedValue = domain.CloneValue(value)
	n.ResolutionChain = chain
	n.ResolvedAt = now

	return value, true, nil
}

// mergeChain walks from n to the root merging ancestor values into n's own.
// The returned chain lists ids root first. The walk is bounded by the store
// size so a corrupted parent link cannot loop.
func (e *Engine) mergeChain(n *domain.PropertyNode) (any, []string) {
	value := domain.CloneValue(n.Value)
	chain := []string{n.ID}

	cur := n
	for steps := 0; cur.ParentID != "" && steps < e.store.len(); steps++ {
		parent := e.store.get(cur.ParentID)
		if parent == nil {
			break
		}
		chain = append(chain, parent.ID)
		if parent.Inheritable {
			value = mergeValues(value, parent.Value)
		}
		cur = parent
	}

	slices.Reverse(chain)
	return value, chain
}

// ResolveBulk resolves every id and returns the values keyed by id. Unknown
// ids are left out of the map. Constraint violations do not stop the batch;
// they are joined into the returned error and their ids are left out too.
//
// Each call records exactly one traversal. A batch slower than the
// configured threshold logs a warning and counts a slow batch.
func (e *Engine) ResolveBulk(ids []string) (map[string]any, error) {
	start := e.now()
	out := make(map[string]any, len(ids))
	var errs []error

	for _, id := range ids {
		v, ok, err := e.Resolve(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			out[id] = v
		}
	}

	e.metrics.incTraversals()
	elapsed := e.now().Sub(start)
	if e.cfg.SlowBatchThreshold > 0 && elapsed > e.cfg.SlowBatchThreshold {
		e.metrics.incSlowBatches()
		e.logger.Warn("engine: slow resolve batch",
			slog.Int("batch_size", len(ids)),
			slog.Duration("elapsed", elapsed),
			slog.Duration("threshold", e.cfg.SlowBatchThreshold),
		)
		if e.cfg.OnSlowBatch != nil {
			e.cfg.OnSlowBatch(len(ids), elapsed)
		}
	}

	return out, errors.Join(errs...)
}
