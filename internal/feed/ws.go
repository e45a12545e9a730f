package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/propengine/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is sent after every (re)connect when symbols are set.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// WSFeed follows an exchange adapter's WebSocket quote stream. Each text
// frame carries one snapshot object or an array of them.
type WSFeed struct {
	url     string
	symbols []string
	sink    Sink
	logger  *slog.Logger

	// baseDelay is the first reconnect delay; tests shorten it.
	baseDelay time.Duration
}

// NewWSFeed creates a feed for url. symbols, when non-empty, are requested
// with a subscribe command on every connect.
func NewWSFeed(url string, symbols []string, sink Sink, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:       url,
		symbols:   symbols,
		sink:      sink,
		logger:    logger.With(slog.String("component", "ws_feed"), slog.String("url", url)),
		baseDelay: reconnectDelay,
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff whenever the connection drops.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := f.baseDelay
	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.baseDelay
		}
		f.logger.Warn("ws feed: disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection. connected reports whether the dial
// succeeded, so a drop after a healthy session resets the backoff.
func (f *WSFeed) session(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()
	f.logger.Info("ws feed: connected")

	if len(f.symbols) > 0 {
		data, err := json.Marshal(subscribeCommand{Type: "subscribe", Symbols: f.symbols})
		if err != nil {
			return true, fmt.Errorf("feed: marshal subscribe: %w", err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return true, fmt.Errorf("feed: subscribe: %w", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Closing the connection unblocks ReadMessage on cancel.
	done := make(chan struct{})
	defer close(done)
	go f.pingLoop(ctx, conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed: read: %w", err)
		}
		f.handle(ctx, msg)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (f *WSFeed) handle(ctx context.Context, msg []byte) {
	snaps, err := decodeFrame(msg)
	if err != nil {
		f.logger.Debug("ws feed: bad frame",
			slog.String("error", err.Error()),
			slog.Int("frame_len", len(msg)),
		)
		return
	}
	for _, snap := range snaps {
		if err := f.sink(ctx, snap); err != nil {
			f.logger.Debug("ws feed: ingest failed",
				slog.String("symbol", snap.Symbol),
				slog.String("exchange", snap.ExchangeID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// decodeFrame accepts a single snapshot or an array of snapshots.
func decodeFrame(msg []byte) ([]domain.MarketSnapshot, error) {
	raw := bytes.TrimSpace(msg)
	if len(raw) == 0 || raw[0] != '[' {
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
		return []domain.MarketSnapshot{snap}, nil
	}

	var out []domain.MarketSnapshot
	if err := sonnet.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	for i := range out {
		trimSnapshot(&out[i])
	}
	return out, nil
}
