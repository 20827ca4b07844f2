package memory

import (
	"context"

	"autoreply/internal/domain"
	"autoreply/internal/vectorstore"
)

// Storage is an in-memory vector store using brute-force cosine similarity.
// Nothing survives a restart; use it for tests and throwaway sessions.
type Storage struct {
	embedder domain.Embedder
	index    *vectorstore.Index
}

// NewStorage creates an empty store whose dimension follows the embedder.
func NewStorage(embedder domain.Embedder) (*Storage, error) {
	ix, err := vectorstore.NewIndex(embedder.Dimension(), nil)
	if err != nil {
		return nil, err
	}
	return &Storage{embedder: embedder, index: ix}, nil
}

func (s *Storage) Dimension() int { return s.index.Dimension() }

// Add stores text under its content-derived id. Re-adding the same text is a no-op.
func (s *Storage) Add(ctx context.Context, text string, metadata map[string]any) (string, error) {
	rec, err := vectorstore.NewRecord(ctx, s.embedder, s.index.Dimension(), text, metadata)
	if err != nil {
		return "", err
	}
	if _, err := s.index.Insert(rec, nil); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *Storage) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	vec, err := vectorstore.EmbedQuery(ctx, s.embedder, s.index.Dimension(), query)
	if err != nil {
		return nil, err
	}
	return s.index.Search(vec, limit), nil
}

// Len returns the number of stored records.
func (s *Storage) Len() int { return s.index.Len() }

func (s *Storage) Close() error { return nil }
