package engine

import "github.com/alanyoungcy/propengine/internal/domain"

// DefaultTraverseWidth is the chunk width used when none is configured.
const DefaultTraverseWidth = 8

// Predicate selects nodes during a traversal.
type Predicate func(*domain.PropertyNode) bool

// AcceptAll keeps every node.
func AcceptAll(*domain.PropertyNode) bool { return true }

// Traverser filters node slices in fixed-width chunks. The chunking only
// batches predicate evaluation; output order always matches input order.
type Traverser struct {
	Width int
}

// TraverseBulk returns the subsequence of nodes accepted by pred. A nil
// predicate accepts everything.
func (t Traverser) TraverseBulk(nodes []*domain.PropertyNode, pred Predicate) []*domain.PropertyNode {
	if pred == nil {
		pred = AcceptAll
	}
	width := t.Width
	if width < 1 {
		width = DefaultTraverseWidth
	}

	out := make([]*domain.PropertyNode, 0, len(nodes))
	keep := make([]bool, width)
	for start := 0; start < len(nodes); start += width {
		chunk := nodes[start:min(start+width, len(nodes))]
		for i, n := range chunk {
			keep[i] = n != nil && pred(n)
		}
		for i, n := range chunk {
			if keep[i] {
				out = append(out, n)
			}
		}
	}
	return out
}

// FilterLeafNodes keeps nodes without children.
func (t Traverser) FilterLeafNodes(nodes []*domain.PropertyNode) []*domain.PropertyNode {
	return t.TraverseBulk(nodes, func(n *domain.PropertyNode) bool { return n.IsLeaf() })
}

// FilterByType keeps nodes of the given type.
func (t Traverser) FilterByType(nodes []*domain.PropertyNode, typ domain.NodeType) []*domain.PropertyNode {
	return t.TraverseBulk(nodes, func(n *domain.PropertyNode) bool { return n.Type == typ })
}

// FilterArbitrageNodes keeps arbitrage nodes.
func (t Traverser) FilterArbitrageNodes(nodes []*domain.PropertyNode) []*domain.PropertyNode {
	return t.FilterByType(nodes, domain.NodeTypeArbitrage)
}

// FilterByTag keeps nodes carrying tag.
func (t Traverser) FilterByTag(nodes []*domain.PropertyNode, tag string) []*domain.PropertyNode {
	return t.TraverseBulk(nodes, func(n *domain.PropertyNode) bool { return n.HasTag(tag) })
}
