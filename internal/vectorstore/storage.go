package vectorstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"autoreply/internal/domain"
)

// Storage is the contract every vector store backend satisfies.
type Storage = domain.VectorStore

// RecordID derives a short stable id from the record text.
func RecordID(text string) string {
	h, _ := blake2b.New(8, nil)
	_, _ = h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NewRecord embeds text and checks the vector against the store dimension.
func NewRecord(ctx context.Context, emb domain.Embedder, dimension int, text string, metadata map[string]any) (domain.Record, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Record{}, domain.ValidationError("vectorstore.add", "text is empty")
	}
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return domain.Record{}, err
	}
	if len(vec) != dimension {
		return domain.Record{}, domain.EmbeddingError("vectorstore.add",
			fmt.Errorf("%s produced %d dimensions, store expects %d", emb.Name(), len(vec), dimension))
	}
	return domain.Record{
		ID:       RecordID(text),
		Text:     text,
		Metadata: cloneMetadata(metadata),
		Vector:   vec,
	}, nil
}

// EmbedQuery embeds a search query and checks its length.
func EmbedQuery(ctx context.Context, emb domain.Embedder, dimension int, query string) ([]float64, error) {
	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) != dimension {
		return nil, domain.EmbeddingError("vectorstore.search",
			fmt.Errorf("%s produced %d dimensions, store expects %d", emb.Name(), len(vec), dimension))
	}
	return vec, nil
}

// Cosine returns the cosine similarity of a and b. Zero vectors and
// mismatched lengths score 0 rather than NaN.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// rounding can push |sim| a hair past 1
	return math.Max(-1, math.Min(1, sim))
}

// Rank orders records by descending similarity to query and keeps at most limit.
// Equal scores keep insertion order. Results own copies of the record's
// metadata and vector.
func Rank(query []float64, records []domain.Record, limit int) []domain.SearchResult {
	if limit <= 0 || len(records) == 0 {
		return []domain.SearchResult{}
	}
	results := make([]domain.SearchResult, len(records))
	for i, rec := range records {
		results[i] = domain.SearchResult{Record: rec, Score: Cosine(query, rec.Vector)}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit < len(results) {
		results = results[:limit]
	}
	for i := range results {
		results[i].Record = cloneRecord(results[i].Record)
	}
	return results
}

func cloneRecord(rec domain.Record) domain.Record {
	rec.Metadata = cloneMetadata(rec.Metadata)
	rec.Vector = append([]float64(nil), rec.Vector...)
	return rec
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
