package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// SummaryArchiveStore is the query the archiver needs from summary history.
type SummaryArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.SummaryRecord, error)
}

// Archiver copies old summary history into the blob store as JSONL. It never
// deletes rows; pruning is a separate step once the archive is verified.
type Archiver struct {
	writer    domain.BlobWriter
	summaries SummaryArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, summaries SummaryArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, summaries: summaries, audit: audit}
}

// ArchiveSummaries uploads every summary older than before to
// archive/summaries/YYYY-MM.jsonl and returns the number written.
func (a *Archiver) ArchiveSummaries(ctx context.Context, before time.Time) (int, error) {
	recs, err := a.summaries.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive summaries query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive summaries marshal: %w", err)
	}

	path := ArchivePath("summaries", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive summaries upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.summaries", map[string]any{
			"path":   path,
			"count":  len(recs),
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return len(recs), fmt.Errorf("s3blob: archive summaries audit: %w", err)
		}
	}
	return len(recs), nil
}

// ArchivePath partitions archives by the cutoff's year and month.
func ArchivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
