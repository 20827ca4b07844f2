package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/embedding/hash"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	emb, err := hash.NewEmbedder(hash.DefaultDimension)
	require.NoError(t, err)
	s, err := NewStorage(emb)
	require.NoError(t, err)
	return s
}

func TestSearchEmptyStore(t *testing.T) {
	res, err := newStorage(t).Search(context.Background(), "hello", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestAddThenSearch(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	id, err := s.Add(ctx, "Refunds take 5 business days.", map[string]any{"title": "faq"})
	require.NoError(t, err)

	res, err := s.Search(ctx, "How long for a refund?", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, id, res[0].ID)
	assert.Equal(t, "faq", res[0].Metadata["title"])
	assert.Len(t, res[0].Vector, s.Dimension())
}

func TestAddIsIdempotentByContent(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	a, err := s.Add(ctx, "same text", nil)
	require.NoError(t, err)
	b, err := s.Add(ctx, "same text", map[string]any{"other": true})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, s.Len())
}
