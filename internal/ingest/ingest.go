package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"autoreply/internal/domain"
)

// Result reports the ids of the stored chunks and a short extractive summary.
type Result struct {
	IDs     []string `json:"doc_ids"`
	Summary string   `json:"summary,omitempty"`
}

// Service splits knowledge text into chunks and feeds them to a vector store.
type Service struct {
	chunker             domain.Chunker
	store               domain.VectorStore
	summarizer          domain.Summarizer
	summaryMaxSentences int
}

// NewService wires the ingestion collaborators. summarizer may be nil.
func NewService(chunker domain.Chunker, store domain.VectorStore, summarizer domain.Summarizer, summaryMaxSentences int) *Service {
	return &Service{chunker: chunker, store: store, summarizer: summarizer, summaryMaxSentences: summaryMaxSentences}
}

// IngestText stores text under the given title. Every chunk carries a copy of
// metadata with "title" set unless the caller already provided one.
func (s *Service) IngestText(ctx context.Context, title, text string, metadata map[string]any) (*Result, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domain.ValidationError("ingest.text", "title is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ValidationError("ingest.text", "text payload is empty")
	}
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if _, ok := meta["title"]; !ok {
		meta["title"] = title
	}

	res := &Result{IDs: []string{}}
	for _, chunk := range s.chunker.Chunk(text) {
		id, err := s.store.Add(ctx, chunk, meta)
		if err != nil {
			return nil, fmt.Errorf("ingest %q: %w", title, err)
		}
		res.IDs = append(res.IDs, id)
	}
	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(text, s.summaryMaxSentences)
		if err != nil {
			return nil, fmt.Errorf("summarize %q: %w", title, err)
		}
		res.Summary = summary
	}
	return res, nil
}

// IngestFile reads an uploaded document and ingests it titled by its base name.
// Bytes that are not valid UTF-8 are dropped.
func (s *Service) IngestFile(ctx context.Context, filename string, r io.Reader, metadata map[string]any) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	text := strings.ToValidUTF8(string(data), "")
	return s.IngestText(ctx, filepath.Base(filename), text, metadata)
}

// IngestPaths expands glob patterns and ingests every .txt and .md file found.
// A pattern without glob characters is taken as a literal path.
func (s *Service) IngestPaths(ctx context.Context, patterns []string) (map[string]*Result, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, domain.ValidationError("ingest.paths", err.Error())
		}
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if !isTextFile(m) {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, domain.ValidationError("ingest.paths", "no .txt or .md documents found")
	}
	sort.Strings(files)

	out := make(map[string]*Result, len(files))
	for _, path := range files {
		res, err := s.ingestPath(ctx, path)
		if err != nil {
			return nil, err
		}
		out[path] = res
	}
	return out, nil
}

func (s *Service) ingestPath(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.IngestFile(ctx, path, f, map[string]any{"source": path})
}

func isTextFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	}
	return false
}
