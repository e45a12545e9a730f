package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// maxIDAttempts bounds collision stepping before the id space is treated as
// exhausted.
const maxIDAttempts = 16

// NodeSpec describes a node to create. Inheritable defaults to true when nil.
type NodeSpec struct {
	Name        string
	Type        domain.NodeType
	Value       any
	ParentID    string
	Final       bool
	Inheritable *bool
	Constraints *domain.Constraints
	Tags        []string
	Source      string
	CacheTTL    time.Duration
}

// tuple identifies a logical node within one mutation epoch.
type tuple struct {
	name   string
	typ    domain.NodeType
	parent string
}

// nodeStore owns the canonical node records and the name, type and parent
// indexes. Index slices hold ids in insertion order.
type nodeStore struct {
	nodes    map[string]*domain.PropertyNode
	order    []string
	byName   map[string][]string
	byType   map[domain.NodeType][]string
	byParent map[string][]string

	// issued maps tuples created since the last mutation to their ids.
	issued map[tuple]string
	epoch  uint64

	ids *idIssuer
	now func() time.Time
}

func newNodeStore(idKey string, now func() time.Time) *nodeStore {
	return &nodeStore{
		nodes:    make(map[string]*domain.PropertyNode),
		byName:   make(map[string][]string),
		byType:   make(map[domain.NodeType][]string),
		byParent: make(map[string][]string),
		issued:   make(map[tuple]string),
		ids:      newIDIssuer(idKey),
		now:      now,
	}
}

// create inserts a node, or returns the node already issued for the same
// tuple in the current epoch. The returned pointer is the stored record.
func (s *nodeStore) create(spec NodeSpec) (*domain.PropertyNode, bool, error) {
	if !spec.Type.Valid() {
		return nil, false, fmt.Errorf("engine: create node %q: unknown type %q: %w", spec.Name, spec.Type, domain.ErrInvalidTree)
	}

	key := tuple{name: spec.Name, typ: spec.Type, parent: spec.ParentID}
	if id, ok := s.issued[key]; ok {
		if n, ok := s.nodes[id]; ok {
			return n, false, nil
		}
	}

	var parent *domain.PropertyNode
	if spec.ParentID != "" {
		parent = s.nodes[spec.ParentID]
		if parent == nil {
			return nil, false, fmt.Errorf("engine: create node %q: parent %s: %w", spec.Name, spec.ParentID, domain.ErrNotFound)
		}
	}

	id := ""
	for salt := uint32(0); salt < maxIDAttempts; salt++ {
		candidate := s.ids.issue(spec.Name, spec.Type, spec.ParentID, s.epoch, salt)
		if _, taken := s.nodes[candidate]; !taken {
			id = candidate
			break
		}
	}
	if id == "" {
		return nil, false, fmt.Errorf("engine: create node %q: %w", spec.Name, domain.ErrIDSpaceExhausted)
	}

	inheritable := true
	if spec.Inheritable != nil {
		inheritable = *spec.Inheritable
	}

	now := s.now()
	n := &domain.PropertyNode{
		ID:          id,
		Name:        spec.Name,
		Type:        spec.Type,
		Value:       domain.CloneValue(spec.Value),
		ParentID:    spec.ParentID,
		Final:       spec.Final,
		Inheritable: inheritable,
		CacheTTL:    spec.CacheTTL,
		Metadata: domain.Metadata{
			CreatedAt: now,
			UpdatedAt: now,
			Tags:      slices.Clone(spec.Tags),
			Source:    spec.Source,
		},
	}
	if spec.Constraints != nil {
		c := *spec.Constraints
		c.Enum = slices.Clone(spec.Constraints.Enum)
		n.Constraints = &c
	}

	s.insert(n)
	if parent != nil {
		parent.Children = append(parent.Children, id)
	}
	s.issued[key] = id
	return n, true, nil
}

// insert adds n to the primary map and every index. It does not touch the
// parent's Children list.
func (s *nodeStore) insert(n *domain.PropertyNode) {
	s.nodes[n.ID] = n
	s.order = append(s.order, n.ID)
	s.byName[n.Name] = append(s.byName[n.Name], n.ID)
	s.byType[n.Type] = append(s.byType[n.Type], n.ID)
	s.byParent[n.ParentID] = append(s.byParent[n.ParentID], n.ID)
}

func (s *nodeStore) get(id string) *domain.PropertyNode {
	return s.nodes[id]
}

func (s *nodeStore) len() int {
	return len(s.nodes)
}

// mutate starts a new epoch. Tuples issued before it are no longer
// deduplicated.
func (s *nodeStore) mutate() {
	s.epoch++
	clear(s.issued)
}

// materialize clones the nodes behind ids, skipping unknown ones.
func (s *nodeStore) materialize(ids []string) []*domain.PropertyNode {
	out := make([]*domain.PropertyNode, 0, len(ids))
	for _, id := range ids {
		if n := s.nodes[id]; n != nil {
			out = append(out, n.Clone())
		}
	}
	return out
}

// subtree returns id followed by all of its descendants, depth first.
func (s *nodeStore) subtree(id string) []string {
	var out []string
	stack := []string{id}
	seen := make(map[string]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		if n := s.nodes[cur]; n != nil {
			for i := len(n.Children) - 1; i >= 0; i-- {
				stack = append(stack, n.Children[i])
			}
		}
	}
	return out
}

// validateTree checks the tree invariants over a candidate node set: unique
// ids, known types, existing parents, children lists in sync with parent ids,
// and no cycles.
func validateTree(nodes []domain.PropertyNode) error {
	byID := make(map[string]*domain.PropertyNode, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return fmt.Errorf("engine: node %d has empty id: %w", i, domain.ErrInvalidTree)
		}
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("engine: duplicate node id %s: %w", n.ID, domain.ErrInvalidTree)
		}
		if !n.Type.Valid() {
			return fmt.Errorf("engine: node %s has unknown type %q: %w", n.ID, n.Type, domain.ErrInvalidTree)
		}
		byID[n.ID] = n
	}

	for _, n := range byID {
		if n.ParentID != "" {
			p, ok := byID[n.ParentID]
			if !ok {
				return fmt.Errorf("engine: node %s references missing parent %s: %w", n.ID, n.ParentID, domain.ErrInvalidTree)
			}
			if count(p.Children, n.ID) != 1 {
				return fmt.Errorf("engine: parent %s does not list child %s exactly once: %w", p.ID, n.ID, domain.ErrInvalidTree)
			}
		}
		for _, c := range n.Children {
			child, ok := byID[c]
			if !ok || child.ParentID != n.ID {
				return fmt.Errorf("engine: node %s lists child %s whose parent differs: %w", n.ID, c, domain.ErrInvalidTree)
			}
		}
	}

	for _, n := range byID {
		cur := n
		for steps := 0; cur.ParentID != ""; steps++ {
			if steps >= len(byID) {
				return fmt.Errorf("engine: cycle through node %s: %w", n.ID, domain.ErrInvalidTree)
			}
			cur = byID[cur.ParentID]
		}
	}
	return nil
}

func count(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}
