package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"time"

	"github.com/alanyoungcy/propengine/internal/crypto"
	"github.com/alanyoungcy/propengine/internal/domain"
)

// ContentType is the content type of stored envelopes.
const ContentType = "application/json"

// timeLayout sorts lexicographically in time order.
const timeLayout = "20060102T150405.000000000Z"

// Path returns the blob path for an export of exchangeID taken at t.
func Path(exchangeID string, t time.Time) string {
	return path.Join("snapshots", exchangeID, t.UTC().Format(timeLayout)+".json")
}

// Restorer is the engine surface a loader restores into.
type Restorer interface {
	Restore(nodes []domain.PropertyNode, epoch uint64) error
}

// Exporter writes signed envelopes to blob storage.
type Exporter struct {
	writer domain.BlobWriter
	signer crypto.Signer
	logger *slog.Logger
}

// NewExporter creates an Exporter. signer may be nil for unsigned exports.
func NewExporter(writer domain.BlobWriter, signer crypto.Signer, logger *slog.Logger) *Exporter {
	return &Exporter{
		writer: writer,
		signer: signer,
		logger: logger.With(slog.String("component", "snapshot_exporter")),
	}
}

// Export encodes state and stores it, returning the blob path.
func (e *Exporter) Export(ctx context.Context, state *State) (string, error) {
	if state.ExportedAt.IsZero() {
		state.ExportedAt = time.Now().UTC()
	}
	data, err := Encode(state, e.signer)
	if err != nil {
		return "", err
	}

	p := Path(state.ExchangeID, state.ExportedAt)
	if err := e.writer.Put(ctx, p, bytes.NewReader(data), ContentType); err != nil {
		return "", fmt.Errorf("snapshot: export %s: %w", p, err)
	}

	e.logger.Info("snapshot exported",
		slog.String("path", p),
		slog.String("exchange", state.ExchangeID),
		slog.Int("nodes", len(state.Nodes)),
		slog.Int("markets", len(state.Markets)),
		slog.Int("bytes", len(data)),
	)
	return p, nil
}

// Loader reads and verifies envelopes from blob storage.
type Loader struct {
	reader   domain.BlobReader
	verifier crypto.Verifier
	logger   *slog.Logger
}

// NewLoader creates a Loader. A nil verifier accepts unsigned envelopes but
// still checks the integrity hash.
func NewLoader(reader domain.BlobReader, verifier crypto.Verifier, logger *slog.Logger) *Loader {
	return &Loader{
		reader:   reader,
		verifier: verifier,
		logger:   logger.With(slog.String("component", "snapshot_loader")),
	}
}

// Load fetches and verifies the envelope at p.
func (l *Loader) Load(ctx context.Context, p string) (*State, error) {
	rc, err := l.reader.Get(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load %s: %w", p, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", p, err)
	}
	st, err := Decode(data, l.verifier)
	if err != nil {
		l.logger.Error("snapshot rejected", slog.String("path", p), slog.String("error", err.Error()))
		return nil, fmt.Errorf("snapshot: load %s: %w", p, err)
	}
	return st, nil
}

// Latest returns the path of the newest export for exchangeID.
func (l *Loader) Latest(ctx context.Context, exchangeID string) (string, error) {
	infos, err := l.reader.List(ctx, path.Join("snapshots", exchangeID)+"/")
	if err != nil {
		return "", fmt.Errorf("snapshot: list %s: %w", exchangeID, err)
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("snapshot: no exports for %s: %w", exchangeID, domain.ErrNotFound)
	}
	paths := make([]string, len(infos))
	for i, info := range infos {
		paths[i] = info.Path
	}
	return slices.Max(paths), nil
}

// LoadInto loads p and restores it into dst. Nothing is applied unless the
// envelope verifies and the tree is valid.
func (l *Loader) LoadInto(ctx context.Context, p string, dst Restorer) (*State, error) {
	st, err := l.Load(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := dst.Restore(st.Nodes, st.Epoch); err != nil {
		return nil, fmt.Errorf("snapshot: restore %s: %w", p, err)
	}
	l.logger.Info("snapshot restored",
		slog.String("path", p),
		slog.String("exchange", st.ExchangeID),
		slog.Int("nodes", len(st.Nodes)),
	)
	return st, nil
}
