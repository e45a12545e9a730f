package market

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:     "BTC-USD",
		ExchangeID: "binance",
		LastPrice:  1.95,
		Bid:        1.90,
		Ask:        2.00,
		Volume:     1200,
		Timestamp:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Extensions: map[string]any{"venue": "spot", "depth": 12.0, "bid": 99.0},
	}
}

func TestComputeArbitrage(t *testing.T) {
	a, err := ComputeArbitrage(1.90, 2.00, DefaultStake, DefaultEdgeThreshold)
	require.NoError(t, err)

	assert.InDelta(t, 0.5263, a.ImpliedProb, 1e-4)
	assert.InDelta(t, 0.50, a.OppImpliedProb, 1e-12)
	assert.InDelta(t, 0.0263, a.Vig, 1e-4)
	assert.InDelta(t, 0.0263, a.Edge, 1e-4)
	assert.InDelta(t, 2631.58, a.ProfitPotential, 0.01)
	assert.Equal(t, domain.ArbStatusHigh, a.Status)
}

func TestComputeArbitrage_NoEdge(t *testing.T) {
	a, err := ComputeArbitrage(2.10, 2.10, DefaultStake, DefaultEdgeThreshold)
	require.NoError(t, err)

	assert.Less(t, a.Vig, 0.0)
	assert.Zero(t, a.Edge)
	assert.Zero(t, a.ProfitPotential)
	assert.Equal(t, domain.ArbStatusLow, a.Status)
}

func TestComputeArbitrage_ThresholdIsStrict(t *testing.T) {
	// 1/1.6 + 1/2 - 1 = 0.125
	a, err := ComputeArbitrage(1.6, 2.0, 1, 0.125)
	require.NoError(t, err)
	assert.Equal(t, domain.ArbStatusLow, a.Status)
}

func TestComputeArbitrage_InvalidQuotes(t *testing.T) {
	for name, q := range map[string][2]float64{
		"zero bid":     {0, 2},
		"negative ask": {2, -1},
		"nan bid":      {math.NaN(), 2},
		"inf ask":      {2, math.Inf(1)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ComputeArbitrage(q[0], q[1], DefaultStake, DefaultEdgeThreshold)
			assert.ErrorIs(t, err, domain.ErrInvalidQuote)
		})
	}
}

func TestBuild(t *testing.T) {
	eng := engine.New(engine.DefaultConfig(), testLogger())
	asm := NewAssembler(eng, DefaultConfig(), testLogger())

	h, err := asm.Build(testSnapshot())
	require.NoError(t, err)

	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "BTC-USD", h.MarketID)
	assert.Equal(t, "binance", h.ExchangeID)
	assert.Len(t, h.MarketProps, 7, "five quote fields plus two non-shadowing extensions")
	assert.Len(t, h.ArbProps, 6)
	assert.Len(t, h.Resolved, 14)

	assert.InDelta(t, 0.0263, h.Arbitrage.Vig, 1e-4)
	assert.InDelta(t, 2631.58, h.Arbitrage.ProfitPotential, 0.01)
	assert.Equal(t, domain.ArbStatusHigh, h.Arbitrage.Status)

	root, ok := eng.GetNode(h.RootID)
	require.True(t, ok)
	assert.Equal(t, domain.NodeTypeMarket, root.Type)
	assert.True(t, root.HasTag("BTC-USD"))

	names := make([]string, 0, len(h.MarketProps))
	for _, id := range h.MarketProps {
		n, ok := eng.GetNode(id)
		require.True(t, ok)
		assert.True(t, n.HasTag(TagPrimitive))
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"lastPrice", "bid", "ask", "volume", "timestamp", "depth", "venue"}, names)

	bidNode, _ := eng.GetNode(h.MarketProps[1])
	assert.Equal(t, 1.90, bidNode.Value)

	arb := eng.Traverser().FilterArbitrageNodes(eng.Nodes())
	assert.Len(t, arb, 6)

	m := eng.Metrics()
	assert.Equal(t, uint64(1), m.Traversals)
	assert.Equal(t, uint64(14), m.CacheMisses)
}

func TestBuild_FreshSubtreePerSnapshot(t *testing.T) {
	eng := engine.New(engine.DefaultConfig(), testLogger())
	asm := NewAssembler(eng, DefaultConfig(), testLogger())

	first, err := asm.Build(testSnapshot())
	require.NoError(t, err)

	snap := testSnapshot()
	snap.Bid = 2.5
	second, err := asm.Build(snap)
	require.NoError(t, err)

	assert.NotEqual(t, first.RootID, second.RootID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.ArbStatusLow, second.Arbitrage.Status)
	assert.Equal(t, domain.ArbStatusHigh, first.Arbitrage.Status, "the earlier handle is not mutated")
}

func TestBuild_InvalidQuoteAllocatesNothing(t *testing.T) {
	eng := engine.New(engine.DefaultConfig(), testLogger())
	asm := NewAssembler(eng, DefaultConfig(), testLogger())

	snap := testSnapshot()
	snap.Bid = 0
	_, err := asm.Build(snap)
	assert.ErrorIs(t, err, domain.ErrInvalidQuote)
	assert.Zero(t, eng.Len())

	snap = testSnapshot()
	snap.Symbol = ""
	_, err = asm.Build(snap)
	assert.ErrorIs(t, err, domain.ErrInvalidQuote)
}

func TestBuild_LatencyMeasured(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	eng := engine.New(engine.DefaultConfig(), testLogger())
	asm := NewAssembler(eng, Config{Now: clock}, testLogger())

	h, err := asm.Build(testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, h.BuildLatency)
}
