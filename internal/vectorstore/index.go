package vectorstore

import (
	"fmt"
	"sync"

	"autoreply/internal/domain"
)

// Index is an in-memory, insertion-ordered record collection with a single writer.
// Backends that persist hand a snapshot func to Insert; it runs under the write
// lock so concurrent adds can never lose each other's records.
type Index struct {
	mu        sync.RWMutex
	dimension int
	records   []domain.Record
	ids       map[string]struct{}
}

// NewIndex builds an index over existing records, rejecting wrong dimensions and duplicate ids.
func NewIndex(dimension int, records []domain.Record) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	ix := &Index{dimension: dimension, ids: make(map[string]struct{}, len(records))}
	for i, rec := range records {
		if len(rec.Vector) != dimension {
			return nil, fmt.Errorf("record %d (%s) has %d dimensions, want %d", i, rec.ID, len(rec.Vector), dimension)
		}
		if _, dup := ix.ids[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate record id %s", rec.ID)
		}
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		ix.ids[rec.ID] = struct{}{}
		ix.records = append(ix.records, rec)
	}
	return ix, nil
}

// Replace swaps the whole collection, e.g. after another process rewrote the
// backing file. Invalid collections are rejected and leave the index as it was.
func (ix *Index) Replace(records []domain.Record) error {
	next, err := NewIndex(ix.dimension, records)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.records = next.records
	ix.ids = next.ids
	return nil
}

// Dimension returns the fixed vector length of the index.
func (ix *Index) Dimension() int { return ix.dimension }

// Len returns the number of stored records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Insert appends rec unless a record with the same id exists. When snapshot is
// non-nil it receives the full collection after the append; if it fails the
// append is undone.
func (ix *Index) Insert(rec domain.Record, snapshot func([]domain.Record) error) (added bool, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.ids[rec.ID]; ok {
		return false, nil
	}
	ix.records = append(ix.records, rec)
	if snapshot != nil {
		if err := snapshot(ix.records); err != nil {
			ix.records = ix.records[:len(ix.records)-1]
			return false, err
		}
	}
	ix.ids[rec.ID] = struct{}{}
	return true, nil
}

// Search ranks all records against the query vector.
func (ix *Index) Search(query []float64, limit int) []domain.SearchResult {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Rank(query, ix.records, limit)
}

// Records returns a copy of the stored records in insertion order.
func (ix *Index) Records() []domain.Record {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]domain.Record, len(ix.records))
	for i, rec := range ix.records {
		out[i] = cloneRecord(rec)
	}
	return out
}
