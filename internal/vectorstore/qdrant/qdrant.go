package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"autoreply/internal/domain"
	"autoreply/internal/vectorstore"
)

// pointNamespace scopes the UUIDv5 point ids derived from record ids.
var pointNamespace = uuid.MustParse("6f1c9a52-3d0e-4a8b-9a57-2f5b8f0d7c41")

var errNotFound = errors.New("not found")

// Storage is a minimal REST client to Qdrant.
// It uses cosine distance and creates the collection if missing. Qdrant
// normalizes stored vectors, so returned records carry unit-length vectors,
// and equal scores are ordered by the server.
type Storage struct {
	url        string
	apiKey     string
	collection string
	embedder   domain.Embedder
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Open connects to Qdrant and ensures the collection exists with the embedder's dimension.
func Open(ctx context.Context, cfg Config, embedder domain.Embedder) (*Storage, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "knowledge"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	s := &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		embedder:   embedder,
		client:     &http.Client{Timeout: timeout},
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, domain.StorageError("qdrant.open", err)
	}
	return s, nil
}

// PointID maps a record id onto the UUID Qdrant requires.
func PointID(recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(recordID)).String()
}

func (s *Storage) Dimension() int { return s.embedder.Dimension() }

func (s *Storage) ensureCollection(ctx context.Context) error {
	err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.embedder.Dimension(),
			"distance": "Cosine",
		},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL(), body, nil)
}

// Add upserts the record as a point unless a point for the same text exists.
func (s *Storage) Add(ctx context.Context, text string, metadata map[string]any) (string, error) {
	rec, err := vectorstore.NewRecord(ctx, s.embedder, s.embedder.Dimension(), text, metadata)
	if err != nil {
		return "", err
	}
	pointID := PointID(rec.ID)
	err = s.do(ctx, http.MethodGet, s.collectionURL()+"/points/"+pointID, nil, nil)
	switch {
	case err == nil:
		return rec.ID, nil
	case !errors.Is(err, errNotFound):
		return "", domain.StorageError("qdrant.add", err)
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":     pointID,
			"vector": rec.Vector,
			"payload": map[string]any{
				"record_id": rec.ID,
				"text":      rec.Text,
				"metadata":  rec.Metadata,
			},
		}},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil); err != nil {
		return "", domain.StorageError("qdrant.add", err)
	}
	return rec.ID, nil
}

func (s *Storage) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		return []domain.SearchResult{}, nil
	}
	vec, err := vectorstore.EmbedQuery(ctx, s.embedder, s.embedder.Dimension(), query)
	if err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       vec,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []struct {
			Score   float64   `json:"score"`
			Vector  []float64 `json:"vector"`
			Payload struct {
				RecordID string         `json:"record_id"`
				Text     string         `json:"text"`
				Metadata map[string]any `json:"metadata"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, domain.StorageError("qdrant.search", err)
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		meta := r.Payload.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		results = append(results, domain.SearchResult{
			Record: domain.Record{
				ID:       r.Payload.RecordID,
				Text:     r.Payload.Text,
				Metadata: meta,
				Vector:   r.Vector,
			},
			Score: r.Score,
		})
	}
	return results, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
