package engine

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// testClock advances by step on every read.
type testClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newTestClock(step time.Duration) *testClock {
	return &testClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), step: step}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) (*Engine, *testClock) {
	t.Helper()
	clk := newTestClock(0)
	cfg := DefaultConfig()
	cfg.Clock = clk.Now
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, discardLogger()), clk
}

func f64(v float64) *float64 { return &v }

func mustCreate(t *testing.T, e *Engine, spec NodeSpec) *domain.PropertyNode {
	t.Helper()
	n, err := e.CreateNode(spec)
	require.NoError(t, err)
	return n
}

func TestCreateNode_IdempotentWithinEpoch(t *testing.T) {
	e, _ := newTestEngine(t)

	root := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypeObject})
	a := mustCreate(t, e, NodeSpec{Name: "fee", Type: domain.NodeTypePrimitive, ParentID: root.ID, Value: 1.0})
	b := mustCreate(t, e, NodeSpec{Name: "fee", Type: domain.NodeTypePrimitive, ParentID: root.ID, Value: 2.0})

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1.0, b.Value, "repeat create returns the existing node unchanged")
	assert.Equal(t, 2, e.Len())

	got, ok := e.GetNode(root.ID)
	require.True(t, ok)
	assert.Equal(t, []string{a.ID}, got.Children)
}

func TestCreateNode_FreshIDAfterMutation(t *testing.T) {
	e, _ := newTestEngine(t)

	first := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypeObject})
	e.Advance()
	second := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypeObject})

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, e.GetNodesByName("root"), 2)
}

func TestCreateNode_DeterministicAcrossEngines(t *testing.T) {
	e1, _ := newTestEngine(t)
	e2, _ := newTestEngine(t)

	a := mustCreate(t, e1, NodeSpec{Name: "root", Type: domain.NodeTypeMarket})
	b := mustCreate(t, e2, NodeSpec{Name: "root", Type: domain.NodeTypeMarket})
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, a.ID, 32)

	e3, _ := newTestEngine(t, func(c *Config) { c.IDKey = "other" })
	c := mustCreate(t, e3, NodeSpec{Name: "root", Type: domain.NodeTypeMarket})
	assert.NotEqual(t, a.ID, c.ID)
}

func TestCreateNode_Errors(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CreateNode(NodeSpec{Name: "orphan", Type: domain.NodeTypePrimitive, ParentID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.CreateNode(NodeSpec{Name: "bad", Type: "bogus"})
	assert.Error(t, err)
	assert.Zero(t, e.Len())
}

func TestCreateNode_InheritableDefaultsTrue(t *testing.T) {
	e, _ := newTestEngine(t)
	no := false

	a := mustCreate(t, e, NodeSpec{Name: "a", Type: domain.NodeTypeObject})
	b := mustCreate(t, e, NodeSpec{Name: "b", Type: domain.NodeTypeObject, Inheritable: &no})
	assert.True(t, a.Inheritable)
	assert.False(t, b.Inheritable)
}

func TestQueries(t *testing.T) {
	e, _ := newTestEngine(t)

	root := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypeMarket})
	p1 := mustCreate(t, e, NodeSpec{Name: "p1", Type: domain.NodeTypePrimitive, ParentID: root.ID, Tags: []string{"price"}})
	o1 := mustCreate(t, e, NodeSpec{Name: "o1", Type: domain.NodeTypeObject, ParentID: root.ID})
	p2 := mustCreate(t, e, NodeSpec{Name: "p2", Type: domain.NodeTypePrimitive, ParentID: root.ID})

	ids := func(ns []*domain.PropertyNode) []string {
		out := make([]string, len(ns))
		for i, n := range ns {
			out[i] = n.ID
		}
		return out
	}

	assert.Equal(t, []string{p1.ID, o1.ID, p2.ID}, ids(e.GetChildren(root.ID)))
	assert.Equal(t, []string{p1.ID, p2.ID}, ids(e.GetSiblings(root.ID, domain.NodeTypePrimitive)))
	assert.Equal(t, []string{o1.ID}, ids(e.GetNodesByType(domain.NodeTypeObject)))
	assert.Equal(t, []string{root.ID}, ids(e.GetChildren("")))
	assert.Equal(t, []string{p1.ID}, ids(e.TraverseBulk(e.Nodes(), func(n *domain.PropertyNode) bool { return n.HasTag("price") })))

	_, ok := e.GetNode("nope")
	assert.False(t, ok)
}

func TestGetNode_ReturnsCopy(t *testing.T) {
	e, _ := newTestEngine(t)
	n := mustCreate(t, e, NodeSpec{Name: "r", Type: domain.NodeTypeObject, Value: map[string]any{"a": 1.0}})

	n.Value.(map[string]any)["a"] = 99.0
	got, _ := e.GetNode(n.ID)
	assert.Equal(t, map[string]any{"a": 1.0}, got.Value)
}

func TestResolve_MergesRecordsLeafWins(t *testing.T) {
	e, _ := newTestEngine(t)

	root := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypeObject, Value: map[string]any{"a": 1.0, "b": 2.0}})
	mid := mustCreate(t, e, NodeSpec{Name: "mid", Type: domain.NodeTypeObject, ParentID: root.ID, Value: map[string]any{"c": 3.0}})
	leaf := mustCreate(t, e, NodeSpec{Name: "leaf", Type: domain.NodeTypeObject, ParentID: mid.ID, Value: map[string]any{"b": 20.0}})

	v, ok, err := e.Resolve(leaf.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 20.0, "c": 3.0}, v)

	got, _ := e.GetNode(leaf.ID)
	assert.Equal(t, []string{root.ID, mid.ID, leaf.ID}, got.ResolutionChain)
	assert.Equal(t, v, got.ResolvedValue)
}

func TestResolve_ScalarRules(t *testing.T) {
	e, _ := newTestEngine(t)

	root := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypePrimitive, Value: 5.0})
	withValue := mustCreate(t, e, NodeSpec{Name: "own", Type: domain.NodeTypePrimitive, ParentID: root.ID, Value: 7.0})
	undefined := mustCreate(t, e, NodeSpec{Name: "undef", Type: domain.NodeTypePrimitive, ParentID: root.ID})

	v, _, err := e.Resolve(withValue.ID)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	v, _, err = e.Resolve(undefined.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
}

func TestResolve_NonInheritableAncestorSkipped(t *testing.T) {
	e, _ := newTestEngine(t)
	no := false

	root := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypeObject, Value: map[string]any{"a": 1.0}})
	private := mustCreate(t, e, NodeSpec{Name: "private", Type: domain.NodeTypeObject, ParentID: root.ID, Inheritable: &no, Value: map[string]any{"secret": true}})
	leaf := mustCreate(t, e, NodeSpec{Name: "leaf", Type: domain.NodeTypeObject, ParentID: private.ID, Value: map[string]any{"b": 2.0}})

	v, _, err := e.Resolve(leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, v)

	v, _, err = e.Resolve(private.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0, "secret": true}, v, "a node's own value is always used")
}

func TestResolve_Missing(t *testing.T) {
	e, _ := newTestEngine(t)

	v, ok, err := e.Resolve("missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestResolve_RequiredAndDefault(t *testing.T) {
	e, _ := newTestEngine(t)

	req := mustCreate(t, e, NodeSpec{Name: "req", Type: domain.NodeTypePrimitive, Constraints: &domain.Constraints{Required: true}})
	_, ok, err := e.Resolve(req.ID)
	assert.True(t, ok)
	assert.ErrorIs(t, err, domain.ErrRequiredConstraint)
	var ce *ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, req.ID, ce.NodeID)

	def := mustCreate(t, e, NodeSpec{Name: "def", Type: domain.NodeTypePrimitive, Constraints: &domain.Constraints{Required: true, Default: 42.0}})
	v, _, err := e.Resolve(def.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestResolve_ClampRecorded(t *testing.T) {
	e, _ := newTestEngine(t)

	n := mustCreate(t, e, NodeSpec{
		Name:        "pct",
		Type:        domain.NodeTypePrimitive,
		Value:       150.0,
		Constraints: &domain.Constraints{MinValue: f64(0), MaxValue: f64(100)},
	})

	v, _, err := e.Resolve(n.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	got, _ := e.GetNode(n.ID)
	require.Len(t, got.Metadata.Clamps, 1)
	assert.Equal(t, 150.0, got.Metadata.Clamps[0].Original)
	assert.Equal(t, 100.0, got.Metadata.Clamps[0].Clamped)
	assert.Equal(t, "max", got.Metadata.Clamps[0].Bound)
	assert.Equal(t, 150.0, got.Value, "the stored value is not rewritten")

	low := mustCreate(t, e, NodeSpec{Name: "low", Type: domain.NodeTypePrimitive, Value: -3, Constraints: &domain.Constraints{MinValue: f64(0)}})
	v, _, err = e.Resolve(low.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, v, "the numeric kind is kept")
}

func TestResolve_Enum(t *testing.T) {
	e, _ := newTestEngine(t)

	ok := mustCreate(t, e, NodeSpec{Name: "side", Type: domain.NodeTypePrimitive, Value: "buy", Constraints: &domain.Constraints{Enum: []any{"buy", "sell"}}})
	bad := mustCreate(t, e, NodeSpec{Name: "side2", Type: domain.NodeTypePrimitive, Value: "hold", Constraints: &domain.Constraints{Enum: []any{"buy", "sell"}}})
	num := mustCreate(t, e, NodeSpec{Name: "lvl", Type: domain.NodeTypePrimitive, Value: 1, Constraints: &domain.Constraints{Enum: []any{1.0, 2.0}}})

	v, _, err := e.Resolve(ok.ID)
	require.NoError(t, err)
	assert.Equal(t, "buy", v)

	_, _, err = e.Resolve(bad.ID)
	assert.ErrorIs(t, err, domain.ErrEnumConstraint)

	_, _, err = e.Resolve(num.ID)
	assert.NoError(t, err)
}

func TestResolve_CacheBookkeeping(t *testing.T) {
	e, _ := newTestEngine(t)
	n := mustCreate(t, e, NodeSpec{Name: "n", Type: domain.NodeTypePrimitive, Value: 1.0})

	_, _, err := e.Resolve(n.ID)
	require.NoError(t, err)
	_, _, err = e.Resolve(n.ID)
	require.NoError(t, err)

	m := e.Metrics()
	assert.Equal(t, uint64(2), m.Resolutions)
	assert.Equal(t, uint64(1), m.CacheHits)
	assert.Equal(t, uint64(1), m.CacheMisses)
	assert.InDelta(t, 0.5, m.CacheHitRatio, 1e-9)
	assert.Equal(t, 1, e.CacheLen())

	e.ResetMetrics()
	m = e.Metrics()
	assert.Zero(t, m.Resolutions)
	assert.Zero(t, m.CacheHitRatio)
	assert.Equal(t, 1, e.CacheLen(), "reset keeps the cache")
}

func TestResolve_CachedValueIsCopy(t *testing.T) {
	e, _ := newTestEngine(t)
	n := mustCreate(t, e, NodeSpec{Name: "n", Type: domain.NodeTypeObject, Value: map[string]any{"a": 1.0}})

	v, _, err := e.Resolve(n.ID)
	require.NoError(t, err)
	v.(map[string]any)["a"] = 2.0

	v, _, err = e.Resolve(n.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v)
}

func TestResolve_CacheExpires(t *testing.T) {
	e, clk := newTestEngine(t, func(c *Config) { c.DefaultTTL = time.Second })
	n := mustCreate(t, e, NodeSpec{Name: "n", Type: domain.NodeTypePrimitive, Value: 1.0})

	_, _, _ = e.Resolve(n.ID)
	clk.Advance(2 * time.Second)
	_, _, _ = e.Resolve(n.ID)

	m := e.Metrics()
	assert.Equal(t, uint64(0), m.CacheHits)
	assert.Equal(t, uint64(2), m.CacheMisses)
}

func TestUpdateValue_InvalidatesSubtree(t *testing.T) {
	e, _ := newTestEngine(t)

	root := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypeObject, Value: map[string]any{"fee": 0.01}})
	child := mustCreate(t, e, NodeSpec{Name: "child", Type: domain.NodeTypeObject, ParentID: root.ID, Value: map[string]any{"x": 1.0}})

	v, _, err := e.Resolve(child.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.01, v.(map[string]any)["fee"])

	epoch := e.Epoch()
	ev, err := e.UpdateValue(root.ID, map[string]any{"fee": 0.02})
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeUpdated, ev.ChangeType)
	assert.Equal(t, root.ID, ev.NodeID)
	assert.Equal(t, map[string]any{"fee": 0.01}, ev.OldValue)
	assert.Greater(t, e.Epoch(), epoch)
	assert.Zero(t, e.CacheLen())

	v, _, err = e.Resolve(child.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.02, v.(map[string]any)["fee"])

	_, err = e.UpdateValue("missing", 1.0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveBulk(t *testing.T) {
	e, _ := newTestEngine(t)

	good := mustCreate(t, e, NodeSpec{Name: "good", Type: domain.NodeTypePrimitive, Value: 1.0})
	undef := mustCreate(t, e, NodeSpec{Name: "undef", Type: domain.NodeTypePrimitive})
	bad := mustCreate(t, e, NodeSpec{Name: "bad", Type: domain.NodeTypePrimitive, Constraints: &domain.Constraints{Required: true}})

	out, err := e.ResolveBulk([]string{good.ID, "missing", undef.ID, bad.ID})
	assert.ErrorIs(t, err, domain.ErrRequiredConstraint)

	assert.Len(t, out, 2)
	assert.Equal(t, 1.0, out[good.ID])
	v, present := out[undef.ID]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.NotContains(t, out, "missing")
	assert.NotContains(t, out, bad.ID)

	m := e.Metrics()
	assert.Equal(t, uint64(1), m.Traversals)
	assert.Equal(t, uint64(4), m.Resolutions)
}

func TestResolveBulk_Deterministic(t *testing.T) {
	e, _ := newTestEngine(t)
	root := mustCreate(t, e, NodeSpec{Name: "root", Type: domain.NodeTypeObject, Value: map[string]any{"a": 1.0}})
	var ids []string
	for _, name := range []string{"x", "y", "z"} {
		n := mustCreate(t, e, NodeSpec{Name: name, Type: domain.NodeTypeObject, ParentID: root.ID, Value: map[string]any{name: 2.0}})
		ids = append(ids, n.ID)
	}

	first, err := e.ResolveBulk(ids)
	require.NoError(t, err)
	second, err := e.ResolveBulk(ids)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveBulk_SlowBatch(t *testing.T) {
	var calls int
	e, _ := newTestEngine(t, func(c *Config) {
		c.SlowBatchThreshold = time.Millisecond
		c.OnSlowBatch = func(n int, _ time.Duration) { calls += n }
	})
	clk := newTestClock(time.Millisecond)
	e.now = clk.Now

	n := mustCreate(t, e, NodeSpec{Name: "n", Type: domain.NodeTypePrimitive, Value: 1.0})
	_, err := e.ResolveBulk([]string{n.ID, n.ID})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e.Metrics().SlowBatches)
	assert.Equal(t, 2, calls)
	assert.Greater(t, e.Metrics().AvgResolutionLatency, time.Duration(0))
}

func TestTraverseBulk_PreservesOrder(t *testing.T) {
	nodes := make([]*domain.PropertyNode, 10)
	for i := range nodes {
		typ := domain.NodeTypePrimitive
		if i%3 == 0 {
			typ = domain.NodeTypeArbitrage
		}
		nodes[i] = &domain.PropertyNode{ID: string(rune('a' + i)), Type: typ}
	}

	for _, width := range []int{1, 3, 8, 64} {
		tr := Traverser{Width: width}
		got := tr.FilterArbitrageNodes(nodes)
		require.Len(t, got, 4)
		assert.Equal(t, []string{"a", "d", "g", "j"}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}, "width %d", width)
		assert.Len(t, tr.TraverseBulk(nodes, nil), 10)
	}
	assert.Empty(t, Traverser{}.TraverseBulk(nil, AcceptAll))
}

func TestRestore(t *testing.T) {
	src, _ := newTestEngine(t)
	root := mustCreate(t, src, NodeSpec{Name: "root", Type: domain.NodeTypeObject, Value: map[string]any{"a": 1.0}})
	mustCreate(t, src, NodeSpec{Name: "leaf", Type: domain.NodeTypeObject, ParentID: root.ID, Value: map[string]any{"b": 2.0}})

	var nodes []domain.PropertyNode
	for _, n := range src.Nodes() {
		nodes = append(nodes, *n)
	}

	dst, _ := newTestEngine(t)
	require.NoError(t, dst.Restore(nodes, src.Epoch()))
	assert.Equal(t, 2, dst.Len())
	assert.Greater(t, dst.Epoch(), src.Epoch())

	leaf := dst.GetNodesByName("leaf")[0]
	v, _, err := dst.Resolve(leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, v)
}

func TestRestore_RejectsInvalidTree(t *testing.T) {
	cases := map[string][]domain.PropertyNode{
		"missing parent": {
			{ID: "a", Type: domain.NodeTypeObject, ParentID: "ghost"},
		},
		"duplicate id": {
			{ID: "a", Type: domain.NodeTypeObject},
			{ID: "a", Type: domain.NodeTypeObject},
		},
		"child not listed": {
			{ID: "a", Type: domain.NodeTypeObject},
			{ID: "b", Type: domain.NodeTypeObject, ParentID: "a"},
		},
		"cycle": {
			{ID: "a", Type: domain.NodeTypeObject, ParentID: "b", Children: []string{"b"}},
			{ID: "b", Type: domain.NodeTypeObject, ParentID: "a", Children: []string{"a"}},
		},
		"bad type": {
			{ID: "a", Type: "weird"},
		},
	}

	for name, nodes := range cases {
		t.Run(name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			keep := mustCreate(t, e, NodeSpec{Name: "keep", Type: domain.NodeTypeObject})

			err := e.Restore(nodes, 0)
			assert.True(t, errors.Is(err, domain.ErrInvalidTree), "got %v", err)
			_, ok := e.GetNode(keep.ID)
			assert.True(t, ok, "failed restore leaves the tree untouched")
		})
	}
}
