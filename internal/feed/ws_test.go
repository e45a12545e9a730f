package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propengine/internal/domain"
)

func TestDecodeFrame(t *testing.T) {
	one, err := decodeFrame([]byte(` {"symbol":" BTC-USD ","exchange_id":"binance","bid":1.9,"ask":2.0}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "BTC-USD", one[0].Symbol)

	many, err := decodeFrame([]byte(`[{"symbol":"A","exchange_id":"x"},{"symbol":"B ","exchange_id":"x"}]`))
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Equal(t, "B", many[1].Symbol)

	_, err = decodeFrame([]byte(`[{"symbol":1}]`))
	assert.Error(t, err)
}

func TestWSFeed_ReceivesAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	subscribed := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		_, cmd, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(cmd)

		if n == 1 {
			// First session drops after one frame to force a reconnect.
			_ = conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"symbol":"BTC-USD","exchange_id":"binance","bid":1.9,"ask":2.0}`))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`[{"symbol":"ETH-USD","exchange_id":"binance","bid":1.5,"ask":2.5},{"symbol":"SOL-USD","exchange_id":"binance","bid":1.2,"ask":3.0}]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	got := make(chan domain.MarketSnapshot, 8)
	sink := func(_ context.Context, snap domain.MarketSnapshot) error {
		got <- snap
		return nil
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewWSFeed(url, []string{"BTC-USD", "ETH-USD"}, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.baseDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	var symbols []string
	for len(symbols) < 3 {
		select {
		case snap := <-got:
			symbols = append(symbols, snap.Symbol)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", symbols)
		}
	}
	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "SOL-USD"}, symbols)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
	assert.JSONEq(t, `{"type":"subscribe","symbols":["BTC-USD","ETH-USD"]}`, <-subscribed)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
