package hash

import (
	"context"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// DefaultDimension matches the size of common sentence-embedding models.
const DefaultDimension = 384

// Embedder derives a vector from the BLAKE2b-256 digest of the text.
// It is deterministic and needs no network, but carries no semantic signal:
// identical text always maps to the identical vector.
type Embedder struct {
	dimension int
}

// NewEmbedder creates a hash embedder producing vectors of the given dimension.
func NewEmbedder(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	return &Embedder{dimension: dimension}, nil
}

func (e *Embedder) Name() string { return "hash" }

func (e *Embedder) Dimension() int { return e.dimension }

// Embed tiles the digest bytes to the configured dimension and scales each byte into [0,1].
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	digest := blake2b.Sum256([]byte(text))
	vec := make([]float64, e.dimension)
	for i := range vec {
		vec[i] = float64(digest[i%len(digest)]) / 255.0
	}
	return vec, nil
}
