package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/observability"
	"github.com/alanyoungcy/propengine/internal/server/handler"
	"github.com/alanyoungcy/propengine/internal/service"
)

func newTestServer(t *testing.T, checks map[string]handler.Checker) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewHierarchyService(service.Config{}, service.Deps{}, logger)
	h := NewHandler(Config{}, Handlers{
		Health:    handler.NewHealthHandler(checks, logger),
		Markets:   handler.NewMarketHandler(svc, logger),
		Nodes:     handler.NewNodeHandler(svc, logger),
		Metrics:   handler.NewMetricsHandler(svc, logger),
		Summaries: handler.NewSummaryHandler(nil, logger),
	}, nil, observability.NewRegistry(svc), logger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	srv = newTestServer(t, map[string]handler.Checker{
		"postgres": func(context.Context) error { return errors.New("down") },
	})
	resp, body = do(t, http.MethodGet, srv.URL+"/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"postgres":"down"`)
}

func TestMarketLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	snap := domain.MarketSnapshot{Symbol: "BTC-USD", ExchangeID: "binance", LastPrice: 1.95, Bid: 1.9, Ask: 2.0, Volume: 5}

	resp, body := do(t, http.MethodPost, srv.URL+"/api/markets", snap)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var mh domain.MarketHierarchy
	require.NoError(t, json.Unmarshal(body, &mh))
	assert.Equal(t, domain.ArbStatusHigh, mh.Arbitrage.Status)
	assert.Len(t, mh.ArbProps, 6)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/markets/binance/BTC-USD", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest domain.MarketHierarchy
	require.NoError(t, json.Unmarshal(body, &latest))
	assert.Equal(t, mh.ID, latest.ID)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/markets/binance/ETH-USD", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	snap.Bid = -1
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/markets", snap)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/markets", "not an object")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/metrics/binance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m service.ShardMetrics
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, uint64(1), m.Metrics.Traversals)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/metrics/binance/reset", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/metrics/kraken/reset", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `propengine_engine_nodes{exchange="binance"} 12`)
	assert.Contains(t, string(body), `propengine_http_requests_total`)
}

func TestNodeRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/api/nodes/local"

	resp, body := do(t, http.MethodPost, base, map[string]any{
		"name": "fees", "type": "object", "value": map[string]any{"maker": 0.1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var root domain.PropertyNode
	require.NoError(t, json.Unmarshal(body, &root))

	resp, body = do(t, http.MethodPost, base, map[string]any{
		"name": "lev", "type": "primitive", "value": 150, "parent_id": root.ID,
		"constraints": map[string]any{"max_value": 100},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var leaf domain.PropertyNode
	require.NoError(t, json.Unmarshal(body, &leaf))

	resp, body = do(t, http.MethodGet, base+"/"+leaf.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Node     domain.PropertyNode `json:"node"`
		Resolved any                 `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 100.0, got.Resolved)
	assert.Len(t, got.Node.Metadata.Clamps, 1)

	resp, body = do(t, http.MethodGet, base+"/"+root.ID+"/children", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), leaf.ID)

	resp, body = do(t, http.MethodPut, base+"/"+leaf.ID, map[string]any{"value": 50})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"change_type":"updated"`)

	resp, body = do(t, http.MethodGet, base+"/"+leaf.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 50.0, got.Resolved)

	resp, _ = do(t, http.MethodGet, base+"/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, base, map[string]any{"type": "object"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, base, map[string]any{"name": "x", "type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequiredConstraintIs422(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/api/nodes/local"

	resp, body := do(t, http.MethodPost, base, map[string]any{
		"name": "must", "type": "primitive", "constraints": map[string]any{"required": true},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var n domain.PropertyNode
	require.NoError(t, json.Unmarshal(body, &n))

	resp, body = do(t, http.MethodGet, base+"/"+n.ID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "required"))
}

func TestSummariesUnconfigured(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, _ := do(t, http.MethodGet, srv.URL+"/api/summaries/high", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
