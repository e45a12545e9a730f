package domain

import (
	"slices"
	"time"
)

// NodeType classifies a property node.
type NodeType string

const (
	NodeTypePrimitive NodeType = "primitive"
	NodeTypeObject    NodeType = "object"
	NodeTypeMarket    NodeType = "market"
	NodeTypeArbitrage NodeType = "arbitrage"
	NodeTypeComputed  NodeType = "computed"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypePrimitive, NodeTypeObject, NodeTypeMarket, NodeTypeArbitrage, NodeTypeComputed:
		return true
	default:
		return false
	}
}

// Constraints are applied to a node's merged value during resolution. Only the
// resolved node's own constraints are consulted, never its ancestors'.
type Constraints struct {
	Required bool     `json:"required,omitempty"`
	Default  any      `json:"default,omitempty"`
	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`
	Enum     []any    `json:"enum,omitempty"`
}

// ClampRecord notes a numeric value that was silently corrected into range.
type ClampRecord struct {
	Original any       `json:"original"`
	Clamped  any       `json:"clamped"`
	Bound    string    `json:"bound"` // "min" or "max"
	At       time.Time `json:"at"`
}

// Metadata is bookkeeping attached to every node.
type Metadata struct {
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Tags      []string      `json:"tags,omitempty"`
	Source    string        `json:"source,omitempty"`
	Clamps    []ClampRecord `json:"clamps,omitempty"`
}

// PropertyNode is a typed, named unit of the property tree.
//
// ResolvedValue and ResolutionChain hold the outcome of the last resolution
// and may be stale. Callers that need a trustworthy value must resolve the
// node through the engine instead of reading these fields.
type PropertyNode struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Type            NodeType      `json:"type"`
	Value           any           `json:"value,omitempty"`
	ParentID        string        `json:"parent_id,omitempty"`
	Children        []string      `json:"children,omitempty"`
	ResolvedValue   any           `json:"resolved_value,omitempty"`
	ResolutionChain []string      `json:"resolution_chain,omitempty"`
	ResolvedAt      time.Time     `json:"resolved_at,omitempty"`
	Final           bool          `json:"final,omitempty"`
	Inheritable     bool          `json:"inheritable"`
	Constraints     *Constraints  `json:"constraints,omitempty"`
	CacheTTL        time.Duration `json:"cache_ttl,omitempty"`
	Metadata        Metadata      `json:"metadata"`
}

// IsRoot reports whether the node has no parent.
func (n *PropertyNode) IsRoot() bool {
	return n.ParentID == ""
}

// IsLeaf reports whether the node has no children.
func (n *PropertyNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// HasTag reports whether tag is present in the node's metadata tags.
func (n *PropertyNode) HasTag(tag string) bool {
	return slices.Contains(n.Metadata.Tags, tag)
}

// Clone returns a copy of n that shares no slices or record values with the
// original, so the caller may mutate it freely.
func (n *PropertyNode) Clone() *PropertyNode {
	if n == nil {
		return nil
	}
	out := *n
	out.Value = CloneValue(n.Value)
	out.ResolvedValue = CloneValue(n.ResolvedValue)
	out.Children = slices.Clone(n.Children)
	out.ResolutionChain = slices.Clone(n.ResolutionChain)
	out.Metadata.Tags = slices.Clone(n.Metadata.Tags)
	out.Metadata.Clamps = slices.Clone(n.Metadata.Clamps)
	if n.Constraints != nil {
		c := *n.Constraints
		c.Enum = slices.Clone(n.Constraints.Enum)
		out.Constraints = &c
	}
	return &out
}

// CloneValue copies structured records (map[string]any) recursively. Scalars
// and other values are returned as-is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = CloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = CloneValue(inner)
		}
		return out
	default:
		return v
	}
}
