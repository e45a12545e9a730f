// Package feed delivers quote snapshots to the hierarchy service: by
// replaying a JSONL file, by following the quote channels on the bus or by
// reading an exchange adapter's WebSocket stream.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// maxLineSize bounds one JSONL record.
const maxLineSize = 1 << 20

// Sink consumes one snapshot.
type Sink func(ctx context.Context, snap domain.MarketSnapshot) error

// ReadSnapshots decodes every snapshot in a JSONL stream. Blank lines are
// skipped; a malformed line fails with its line number.
func ReadSnapshots(r io.Reader) ([]domain.MarketSnapshot, error) {
	var out []domain.MarketSnapshot
	_, err := Replay(context.Background(), r, func(_ context.Context, snap domain.MarketSnapshot) error {
		out = append(out, snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Replay streams a JSONL file into sink and returns how many snapshots were
// delivered. It stops at the first decode or sink error, or when ctx ends.
func Replay(ctx context.Context, r io.Reader, sink Sink) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	delivered, line := 0, 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return delivered, fmt.Errorf("feed: line %d: %w", line, err)
		}
		if err := sink(ctx, snap); err != nil {
			return delivered, fmt.Errorf("feed: line %d: %w", line, err)
		}
		delivered++
	}
	if err := sc.Err(); err != nil {
		return delivered, fmt.Errorf("feed: read after line %d: %w", line, err)
	}
	return delivered, nil
}

func decodeSnapshot(raw []byte) (domain.MarketSnapshot, error) {
	var snap domain.MarketSnapshot
	if err := sonnet.Unmarshal(raw, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	trimSnapshot(&snap)
	return snap, nil
}

func trimSnapshot(snap *domain.MarketSnapshot) {
	snap.Symbol = strings.TrimSpace(snap.Symbol)
	snap.ExchangeID = strings.TrimSpace(snap.ExchangeID)
}
