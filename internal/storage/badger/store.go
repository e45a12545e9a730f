package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/alanyoungcy/propengine/internal/domain"
)

const (
	dataPrefix = "blob/"
	metaPrefix = "meta/"
)

type blobMeta struct {
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

// Store implements domain.BlobStore on a badger database. Each object is two
// keys written in one transaction: the bytes and a small metadata record.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	gcDone chan struct{}
}

// NewStore opens the database and starts value-log GC when configured.
func NewStore(cfg Config) (*Store, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		var logger *slog.Logger
		if cfg.Logger != nil {
			logger = cfg.Logger.With(slog.String("component", "badger"))
		}
		go runGC(db, cfg.GCInterval, ratio, s.stopGC, s.gcDone, logger)
	}
	return s, nil
}

// Put stores data under path, replacing any previous object.
func (s *Store) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("badger: read body for %s: %w", path, err)
	}
	meta, err := json.Marshal(blobMeta{
		Size:         int64(len(body)),
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("badger: encode meta for %s: %w", path, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataPrefix+path), body); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+path), meta)
	})
	if err != nil {
		return fmt.Errorf("badger: put %s: %w", path, err)
	}
	return nil
}

// Get returns the object at path. A missing object is domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataPrefix + path))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("badger: get %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get %s: %w", path, err)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// List returns every object whose path starts with prefix, in key order.
func (s *Store) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.BlobInfo
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix + prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var meta blobMeta
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
				return err
			}
			out = append(out, domain.BlobInfo{
				Path:         strings.TrimPrefix(string(item.Key()), metaPrefix),
				Size:         meta.Size,
				ContentType:  meta.ContentType,
				LastModified: meta.LastModified,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list %s: %w", prefix, err)
	}
	return out, nil
}

// Exists reports whether an object is stored at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(metaPrefix + path))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger: exists %s: %w", path, err)
	}
	return true, nil
}

// Delete removes the object at path. Deleting a missing object is not an
// error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(dataPrefix + path)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + path))
	})
	if err != nil {
		return fmt.Errorf("badger: delete %s: %w", path, err)
	}
	return nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}
