package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how ingested text is split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	Width             int    `yaml:"width"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Path   string        `yaml:"path"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// DraftingConfig tunes retrieval and the escalation policy.
type DraftingConfig struct {
	AnswerTone         []string `yaml:"answer_tone"`
	MaxContextSnippets int      `yaml:"max_context_snippets"`
	MinConfidence      float64  `yaml:"min_confidence"`
	// GenerationFallback is "template" or "escalate".
	GenerationFallback string `yaml:"generation_fallback"`
}

// GenerationConfig configures the remote text generator. Type "none" keeps drafting local.
type GenerationConfig struct {
	Type        string  `yaml:"type"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// ConversationsConfig selects the conversation-state store: memory, bolt, postgres or mysql.
type ConversationsConfig struct {
	Type            string `yaml:"type"`
	Path            string `yaml:"path"`
	DSNEnv          string `yaml:"dsn_env"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_lifetime_mins"`
}

// MessengerConfig holds webhook verification and Graph API settings.
type MessengerConfig struct {
	VerifyToken        string `yaml:"verify_token"`
	PageAccessTokenEnv string `yaml:"page_access_token_env"`
	AppSecretEnv       string `yaml:"app_secret_env"`
	GraphAPIBaseURL    string `yaml:"graph_api_base_url"`
	TimeoutSecs        int    `yaml:"timeout_secs"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Environment   string              `yaml:"environment"`
	Embedder      EmbedderConfig      `yaml:"embedder"`
	Chunker       ChunkerConfig       `yaml:"chunker"`
	VectorStore   VectorStoreConfig   `yaml:"vector_store"`
	Summarizer    SummarizerConfig    `yaml:"summarizer"`
	Drafting      DraftingConfig      `yaml:"drafting"`
	Generation    GenerationConfig    `yaml:"generation"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Messenger     MessengerConfig     `yaml:"messenger"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, fills defaults for unset fields and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/autoreply/config.yaml.
// If neither exists, it writes defaults to ~/.config/autoreply/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values no component can run with.
func (c *AppConfig) Validate() error {
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder.dimension must be > 0, got %d", c.Embedder.Dimension)
	}
	if c.Drafting.MaxContextSnippets <= 0 {
		return fmt.Errorf("drafting.max_context_snippets must be > 0, got %d", c.Drafting.MaxContextSnippets)
	}
	if c.Drafting.MinConfidence < 0 || c.Drafting.MinConfidence > 1 {
		return fmt.Errorf("drafting.min_confidence must be within [0,1], got %v", c.Drafting.MinConfidence)
	}
	switch c.Drafting.GenerationFallback {
	case "template", "escalate":
	default:
		return fmt.Errorf("drafting.generation_fallback must be template or escalate, got %q", c.Drafting.GenerationFallback)
	}
	switch c.Conversations.Type {
	case "memory", "bolt", "postgres", "mysql":
	default:
		return fmt.Errorf("conversations.type must be memory, bolt, postgres or mysql, got %q", c.Conversations.Type)
	}
	if c.Chunker.Width <= 0 {
		return fmt.Errorf("chunker.width must be > 0, got %d", c.Chunker.Width)
	}
	return nil
}

// Secret reads the value of the named environment variable. An empty name yields "".
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "autoreply", "config.yaml"), nil
}

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	return &AppConfig{
		Environment: "development",
		Embedder:    EmbedderConfig{Type: "hash", Dimension: 384},
		Chunker:     ChunkerConfig{Type: "wrap", Width: 800, SentencesPerChunk: 5, OverlapSentences: 1},
		VectorStore: VectorStoreConfig{Type: "file", Path: filepath.Join("data", "vectorstore")},
		Summarizer:  SummarizerConfig{Type: "frequency", MaxSentences: 3},
		Drafting: DraftingConfig{
			AnswerTone:         []string{"friendly", "concise"},
			MaxContextSnippets: 3,
			MinConfidence:      0.4,
			GenerationFallback: "template",
		},
		Generation: GenerationConfig{
			Type:        "none",
			BaseURL:     "https://api.x.ai/v1",
			APIKeyEnv:   "XAI_API_KEY",
			Model:       "grok-2",
			Temperature: 0.2,
			TimeoutSecs: 30,
		},
		Conversations: ConversationsConfig{
			Type:            "memory",
			Path:            filepath.Join("data", "conversations.bolt"),
			DSNEnv:          "DATABASE_URL",
			MaxIdleConns:    10,
			MaxOpenConns:    50,
			ConnMaxLifeMins: 60,
		},
		Messenger: MessengerConfig{
			VerifyToken:        "dev-verify-token",
			PageAccessTokenEnv: "PAGE_ACCESS_TOKEN",
			AppSecretEnv:       "APP_SECRET",
			GraphAPIBaseURL:    "https://graph.facebook.com/v18.0",
			TimeoutSecs:        10,
		},
		Server:  ServerConfig{Addr: ":8000", Mode: "debug"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = def.Embedder.Type
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = def.Embedder.Dimension
	}
	if cfg.Chunker.Width == 0 {
		cfg.Chunker.Width = def.Chunker.Width
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = def.Chunker.SentencesPerChunk
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = def.VectorStore.Path
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = def.Summarizer.MaxSentences
	}
	if cfg.Conversations.Type == "" {
		cfg.Conversations.Type = def.Conversations.Type
	}
	if cfg.Conversations.Path == "" {
		cfg.Conversations.Path = def.Conversations.Path
	}
	if cfg.Drafting.MaxContextSnippets == 0 {
		cfg.Drafting.MaxContextSnippets = def.Drafting.MaxContextSnippets
	}
	if cfg.Drafting.GenerationFallback == "" {
		cfg.Drafting.GenerationFallback = def.Drafting.GenerationFallback
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 5
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "knowledge"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Generation.TimeoutSecs == 0 {
		cfg.Generation.TimeoutSecs = def.Generation.TimeoutSecs
	}
	if cfg.Messenger.TimeoutSecs == 0 {
		cfg.Messenger.TimeoutSecs = def.Messenger.TimeoutSecs
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
}
