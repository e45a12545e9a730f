package domain

import (
	"context"
	"time"
)

// HierarchyCache keeps the latest MarketHierarchy handle per market so
// repeated reads reuse it instead of rebuilding the subtree.
type HierarchyCache interface {
	SetLatest(ctx context.Context, h MarketHierarchy) error
	GetLatest(ctx context.Context, exchangeID, symbol string) (MarketHierarchy, error)
	Invalidate(ctx context.Context, exchangeID, symbol string) error
}

// EventBus carries UpdateEvents to live-sync consumers.
type EventBus interface {
	PublishEvent(ctx context.Context, exchangeID string, ev UpdateEvent) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// EventChannel is the pub/sub channel name for one exchange's node events.
func EventChannel(exchangeID string) string {
	return "ch:nodes:" + exchangeID
}

// EventChannelPattern matches every exchange's node event channel.
const EventChannelPattern = "ch:nodes:*"

// SummaryTTL is how long cached hierarchy handles live in the shared cache.
const SummaryTTL = 5 * time.Minute

// StreamMessage is one entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventStream is the durable, replayable side of the event bus.
type EventStream interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// EventStreamKey is the durable stream holding one exchange's node events.
func EventStreamKey(exchangeID string) string {
	return "stream:nodes:" + exchangeID
}

// LockManager hands out short-lived distributed locks, used so that only one
// replica exports a given exchange at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// QuoteChannel is the pub/sub channel exchange adapters publish quote
// snapshots on.
func QuoteChannel(exchangeID string) string {
	return "ch:quotes:" + exchangeID
}

// QuoteChannelPattern matches every exchange's quote channel.
const QuoteChannelPattern = "ch:quotes:*"
