package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propengine/internal/domain"
)

type memWriter struct {
	puts map[string][]byte
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.puts == nil {
		m.puts = map[string][]byte{}
	}
	m.puts[path] = b
	return nil
}

type fakeSummaries struct {
	recs []domain.SummaryRecord
	err  error
}

func (f fakeSummaries) ListBefore(context.Context, time.Time) ([]domain.SummaryRecord, error) {
	return f.recs, f.err
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveSummaries(t *testing.T) {
	w := &memWriter{}
	audit := &fakeAudit{}
	recs := []domain.SummaryRecord{
		{ID: "a", Symbol: "BTC-USD", Summary: domain.ArbitrageSummary{Status: domain.ArbStatusHigh}},
		{ID: "b", Symbol: "ETH-USD"},
	}
	cutoff := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	n, err := NewArchiver(w, fakeSummaries{recs: recs}, audit).ArchiveSummaries(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	body, ok := w.puts["archive/summaries/2025-02.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 2)
	assert.True(t, bytes.Contains(body, []byte(`"BTC-USD"`)))
	assert.Equal(t, []string{"archive.summaries"}, audit.events)
}

func TestArchiveSummaries_EmptyAndError(t *testing.T) {
	w := &memWriter{}
	n, err := NewArchiver(w, fakeSummaries{}, nil).ArchiveSummaries(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.puts)

	boom := errors.New("boom")
	_, err = NewArchiver(w, fakeSummaries{err: boom}, nil).ArchiveSummaries(context.Background(), time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
}
