package hash

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestEmbedIsDeterministic(t *testing.T) {
	e, err := NewEmbedder(DefaultDimension)
	require.NoError(t, err)

	for _, text := range []string{"", "hello", "Refunds take 5 business days.", "héllo wörld ✓"} {
		a, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		b, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, a, b, "text %q", text)
		assert.Len(t, a, DefaultDimension)
	}
}

func TestEmbedTilesDigest(t *testing.T) {
	e, err := NewEmbedder(70)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "tile me")
	require.NoError(t, err)

	digest := blake2b.Sum256([]byte("tile me"))
	for i, v := range vec {
		assert.Equal(t, float64(digest[i%32])/255.0, v)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestEmbedDistinguishesText(t *testing.T) {
	e, err := NewEmbedder(16)
	require.NoError(t, err)

	a, _ := e.Embed(context.Background(), "a")
	b, _ := e.Embed(context.Background(), "b")
	assert.NotEqual(t, a, b)
}

func TestNewEmbedderRejectsBadDimension(t *testing.T) {
	_, err := NewEmbedder(0)
	assert.Error(t, err)
	_, err = NewEmbedder(-3)
	assert.Error(t, err)
}
