package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/config"
)

func TestNewSelectsImplementation(t *testing.T) {
	emb, err := New(config.EmbedderConfig{Type: "hash", Dimension: 8})
	require.NoError(t, err)
	assert.Equal(t, "hash", emb.Name())
	assert.Equal(t, 8, emb.Dimension())

	t.Setenv("EMBED_FACTORY_KEY", "k")
	emb, err = New(config.EmbedderConfig{Type: "openai", Dimension: 4, OpenAI: &config.OpenAIEmbedderConfig{APIKeyEnv: "EMBED_FACTORY_KEY"}})
	require.NoError(t, err)
	assert.Equal(t, "openai", emb.Name())
}

func TestNewRejectsUnknownOrIncomplete(t *testing.T) {
	_, err := New(config.EmbedderConfig{Type: "word2vec", Dimension: 8})
	assert.Error(t, err)
	_, err = New(config.EmbedderConfig{Type: "openai", Dimension: 8})
	assert.Error(t, err)
}
