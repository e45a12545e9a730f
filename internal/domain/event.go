package domain

import "time"

// ChangeType describes what happened to a node in an UpdateEvent.
type ChangeType string

const (
	ChangeCreated   ChangeType = "created"
	ChangeUpdated   ChangeType = "updated"
	ChangeDeleted   ChangeType = "deleted"
	ChangeInherited ChangeType = "inherited"
)

// UpdateEvent is the boundary shape adopted by live-sync layers. The engine
// never emits these on its own; callers build them after a mutation.
type UpdateEvent struct {
	NodeID     string        `json:"node_id"`
	Node       *PropertyNode `json:"node"`
	ChangeType ChangeType    `json:"change_type"`
	OldValue   any           `json:"old_value,omitempty"`
	NewValue   any           `json:"new_value,omitempty"`
	At         time.Time     `json:"at"`
}

// NewUpdateEvent builds an event for node. The node is cloned so later
// mutations of the tree do not leak into the event.
func NewUpdateEvent(node *PropertyNode, change ChangeType, oldValue, newValue any) UpdateEvent {
	ev := UpdateEvent{
		ChangeType: change,
		OldValue:   CloneValue(oldValue),
		NewValue:   CloneValue(newValue),
		At:         time.Now().UTC(),
	}
	if node != nil {
		ev.NodeID = node.ID
		ev.Node = node.Clone()
	}
	return ev
}

// MetricsSnapshot is a point-in-time view of one engine's counters.
type MetricsSnapshot struct {
	Resolutions          uint64        `json:"resolutions"`
	CacheHits            uint64        `json:"cache_hits"`
	CacheMisses          uint64        `json:"cache_misses"`
	Traversals           uint64        `json:"traversals"`
	SlowBatches          uint64        `json:"slow_batches"`
	AvgResolutionLatency time.Duration `json:"avg_resolution_latency"`
	CacheHitRatio        float64       `json:"cache_hit_ratio"`
}
