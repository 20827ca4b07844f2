package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"autoreply/internal/domain"
	"autoreply/internal/vectorstore"
)

// FileName is the collection document inside the store directory.
const FileName = "store.json"

// Storage keeps the whole collection in memory and snapshots it to a single
// JSON array on every add. The snapshot replaces store.json atomically via
// rename, so a crash mid-write never leaves a truncated collection.
//
// Several handles, in one process or many, may share a directory. Every
// operation holds a flock on LockName and reloads store.json first when
// another handle has rewritten it since this one last read or wrote it.
type Storage struct {
	embedder domain.Embedder
	path     string
	lockPath string
	index    *vectorstore.Index

	mu   sync.Mutex
	seen os.FileInfo
}

// LockName is the lock file guarding the collection document.
const LockName = ".store.lock"

// Open loads dir/store.json, creating it as an empty collection if absent.
func Open(dir string, embedder domain.Embedder) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.StorageError("vectorstore.open", err)
	}
	ix, err := vectorstore.NewIndex(embedder.Dimension(), nil)
	if err != nil {
		return nil, domain.StorageError("vectorstore.open", err)
	}
	s := &Storage{
		embedder: embedder,
		path:     filepath.Join(dir, FileName),
		lockPath: filepath.Join(dir, LockName),
		index:    ix,
	}
	err = s.withLock(true, func() error {
		if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
			if err := writeAtomic(s.path, []domain.Record{}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		return s.refresh()
	})
	if err != nil {
		return nil, domain.StorageError("vectorstore.open", err)
	}
	return s, nil
}

func (s *Storage) Dimension() int { return s.index.Dimension() }

// Path returns the location of the collection document.
func (s *Storage) Path() string { return s.path }

// Add stores text under its content-derived id and persists the collection.
// Re-adding the same text returns the existing id without writing.
func (s *Storage) Add(ctx context.Context, text string, metadata map[string]any) (string, error) {
	rec, err := vectorstore.NewRecord(ctx, s.embedder, s.index.Dimension(), text, metadata)
	if err != nil {
		return "", err
	}
	err = s.withLock(true, func() error {
		if err := s.refresh(); err != nil {
			return err
		}
		added, err := s.index.Insert(rec, func(all []domain.Record) error {
			return writeAtomic(s.path, all)
		})
		if err != nil || !added {
			return err
		}
		return s.remember()
	})
	if err != nil {
		return "", domain.StorageError("vectorstore.add", err)
	}
	return rec.ID, nil
}

func (s *Storage) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	vec, err := vectorstore.EmbedQuery(ctx, s.embedder, s.index.Dimension(), query)
	if err != nil {
		return nil, err
	}
	if err := s.withLock(false, s.refresh); err != nil {
		return nil, domain.StorageError("vectorstore.search", err)
	}
	return s.index.Search(vec, limit), nil
}

// Len returns the number of records loaded by this handle.
func (s *Storage) Len() int { return s.index.Len() }

func (s *Storage) Close() error { return nil }

// withLock runs fn holding an exclusive or shared lock on the collection.
func (s *Storage) withLock(exclusive bool, fn func() error) error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock: %w", err)
	}
	defer f.Close()
	if err := lockFile(f, exclusive); err != nil {
		return fmt.Errorf("lock %s: %w", s.lockPath, err)
	}
	defer unlockFile(f)
	return fn()
}

// refresh reloads store.json unless it is the file this handle last saw.
// Callers hold the collection lock.
func (s *Storage) refresh() error {
	fi, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen != nil && os.SameFile(s.seen, fi) && s.seen.ModTime().Equal(fi.ModTime()) && s.seen.Size() == fi.Size() {
		return nil
	}
	records, err := load(s.path)
	if err != nil {
		return err
	}
	if err := s.index.Replace(records); err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	s.seen = fi
	return nil
}

// remember marks the snapshot this handle just wrote as already loaded.
func (s *Storage) remember() error {
	fi, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.seen = fi
	s.mu.Unlock()
	return nil
}

func load(path string) ([]domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("malformed collection %s: %w", path, err)
	}
	return records, nil
}

func writeAtomic(path string, records []domain.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal collection: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".store-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace collection: %w", err)
	}
	return nil
}
