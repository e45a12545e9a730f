package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// HierarchyCache implements domain.HierarchyCache.
//
// Key schema:
//
//	hierarchy:{exchange}:{symbol} - hash, field "data" holds the JSON handle
//	hierarchy:id:{id}             - string, "{exchange}:{symbol}" of that handle
type HierarchyCache struct {
	rdb *redis.Client
}

// NewHierarchyCache creates a HierarchyCache on c.
func NewHierarchyCache(c *Client) *HierarchyCache {
	return &HierarchyCache{rdb: c.Underlying()}
}

func hierarchyKey(exchangeID, symbol string) string {
	return "hierarchy:" + exchangeID + ":" + symbol
}

func hierarchyIDKey(id string) string { return "hierarchy:id:" + id }

// SetLatest replaces the latest handle for the hierarchy's market.
func (hc *HierarchyCache) SetLatest(ctx context.Context, h domain.MarketHierarchy) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("redis: marshal hierarchy %s: %w", h.ID, err)
	}

	key := hierarchyKey(h.ExchangeID, h.MarketID)
	pipe := hc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, domain.SummaryTTL)
	pipe.Set(ctx, hierarchyIDKey(h.ID), h.ExchangeID+":"+h.MarketID, domain.SummaryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set hierarchy %s: %w", key, err)
	}
	return nil
}

// GetLatest returns the latest handle or domain.ErrNotFound.
func (hc *HierarchyCache) GetLatest(ctx context.Context, exchangeID, symbol string) (domain.MarketHierarchy, error) {
	key := hierarchyKey(exchangeID, symbol)
	data, err := hc.rdb.HGet(ctx, key, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketHierarchy{}, fmt.Errorf("redis: hierarchy %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketHierarchy{}, fmt.Errorf("redis: get hierarchy %s: %w", key, err)
	}

	var h domain.MarketHierarchy
	if err := json.Unmarshal(data, &h); err != nil {
		return domain.MarketHierarchy{}, fmt.Errorf("redis: unmarshal hierarchy %s: %w", key, err)
	}
	return h, nil
}

// Invalidate drops the latest handle for a market.
func (hc *HierarchyCache) Invalidate(ctx context.Context, exchangeID, symbol string) error {
	if err := hc.rdb.Del(ctx, hierarchyKey(exchangeID, symbol)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate hierarchy %s/%s: %w", exchangeID, symbol, err)
	}
	return nil
}

var _ domain.HierarchyCache = (*HierarchyCache)(nil)
