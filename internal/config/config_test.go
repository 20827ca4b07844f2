package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, 3, cfg.Drafting.MaxContextSnippets)
	assert.Equal(t, []string{"friendly", "concise"}, cfg.Drafting.AnswerTone)
}

func TestParseOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
environment: staging
embedder:
  type: openai
  dimension: 1536
  openai:
    model: nomic-embed-text
drafting:
  answer_tone: [formal]
  min_confidence: 0
vector_store:
  type: qdrant
  qdrant:
    url: http://localhost:6333
`))
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 1536, cfg.Embedder.Dimension)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, []string{"formal"}, cfg.Drafting.AnswerTone)
	assert.Equal(t, 0.0, cfg.Drafting.MinConfidence)
	assert.Equal(t, 3, cfg.Drafting.MaxContextSnippets)
	assert.Equal(t, "knowledge", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, 800, cfg.Chunker.Width)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"negative dimension": "embedder:\n  dimension: -1\n",
		"confidence above 1": "drafting:\n  min_confidence: 1.5\n",
		"unknown fallback":   "drafting:\n  generation_fallback: retry\n",
		"unknown store":      "conversations:\n  type: redis\n",
		"bad yaml":           "embedder: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Server.Addr = ":9090"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", loaded.Server.Addr)
}

func TestSecretReadsEnvironment(t *testing.T) {
	t.Setenv("AUTOREPLY_TEST_SECRET", "s3cr3t")
	assert.Equal(t, "s3cr3t", Secret("AUTOREPLY_TEST_SECRET"))
	assert.Equal(t, "", Secret(""))
}
