package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autoreply/internal/chunker"
	"autoreply/internal/compose"
	"autoreply/internal/config"
	"autoreply/internal/conversation/boltstore"
	"autoreply/internal/conversation/gormstore"
	"autoreply/internal/conversation/memory"
	"autoreply/internal/domain"
	"autoreply/internal/embedding"
	"autoreply/internal/generation/xai"
	"autoreply/internal/ingest"
	"autoreply/internal/messenger"
	"autoreply/internal/metrics"
	"autoreply/internal/pipeline"
	"autoreply/internal/summarizer"
	vsfile "autoreply/internal/vectorstore/file"
	vsmemory "autoreply/internal/vectorstore/memory"
	"autoreply/internal/vectorstore/qdrant"
)

// app holds the assembled components for one command invocation.
type app struct {
	cfg           *config.AppConfig
	store         domain.VectorStore
	conversations domain.ConversationStore
	ingest        *ingest.Service
	pipeline      *pipeline.Pipeline
	metrics       *metrics.Metrics
}

func (a *app) Close() error {
	var errs []error
	if a.conversations != nil {
		errs = append(errs, a.conversations.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// buildApp assembles the components selected by cfg.
func buildApp(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*app, error) {
	emb, err := embedding.New(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	a := &app{cfg: cfg, metrics: metrics.New("autoreply")}
	store, err := newVectorStore(ctx, cfg.VectorStore, emb)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	a.store = store
	ch, err := newChunker(cfg.Chunker)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	sum, err := newSummarizer(cfg.Summarizer)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	a.ingest = ingest.NewService(ch, a.store, sum, cfg.Summarizer.MaxSentences)

	conversations, err := newConversationStore(cfg.Conversations)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("conversation store: %w", err), a.Close())
	}
	a.conversations = conversations
	composer, err := newComposer(cfg.Drafting, cfg.Generation)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("generator: %w", err), a.Close())
	}
	a.pipeline = pipeline.New(pipeline.Config{
		MaxContextSnippets: cfg.Drafting.MaxContextSnippets,
		MinConfidence:      cfg.Drafting.MinConfidence,
		GenerationFallback: cfg.Drafting.GenerationFallback,
	}, a.store, a.conversations, composer,
		pipeline.WithLogger(log),
		pipeline.WithRecorder(a.metrics),
	)
	log.Debug("components ready",
		slog.String("embedder", emb.Name()),
		slog.String("vector_store", cfg.VectorStore.Type),
		slog.String("conversations", cfg.Conversations.Type),
		slog.Bool("remote_generation", composer.Remote()),
	)
	return a, nil
}

func newVectorStore(ctx context.Context, cfg config.VectorStoreConfig, emb domain.Embedder) (domain.VectorStore, error) {
	switch cfg.Type {
	case "file", "":
		st, err := vsfile.Open(cfg.Path, emb)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		st, err := vsmemory.NewStorage(emb)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, errors.New("qdrant config missing")
		}
		st, err := qdrant.Open(ctx, qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     config.Secret(cfg.Qdrant.APIKeyEnv),
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}, emb)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}

func newChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "wrap", "":
		return chunker.NewWrapChunker(cfg.Width), nil
	case "sentence":
		return chunker.NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Type)
	}
}

func newSummarizer(cfg config.SummarizerConfig) (domain.Summarizer, error) {
	switch cfg.Type {
	case "frequency", "":
		return summarizer.NewFrequencySummarizer(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Type)
	}
}

func newConversationStore(cfg config.ConversationsConfig) (domain.ConversationStore, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.New(), nil
	case "bolt":
		st, err := boltstore.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres", "mysql":
		st, err := gormstore.Open(gormstore.Config{
			Driver:          cfg.Type,
			DSN:             config.Secret(cfg.DSNEnv),
			MaxIdleConns:    cfg.MaxIdleConns,
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifeMins) * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown conversation store: %s", cfg.Type)
	}
}

func newComposer(drafting config.DraftingConfig, gen config.GenerationConfig) (*compose.Composer, error) {
	opts := []compose.Option{compose.WithTimeout(time.Duration(gen.TimeoutSecs) * time.Second)}
	switch gen.Type {
	case "none", "":
	case "xai":
		g, err := xai.New(xai.Config{
			APIKey:      config.Secret(gen.APIKeyEnv),
			BaseURL:     gen.BaseURL,
			Model:       gen.Model,
			Temperature: gen.Temperature,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, compose.WithGenerator(g))
	default:
		return nil, fmt.Errorf("unknown generation type: %s", gen.Type)
	}
	return compose.New(drafting.AnswerTone, opts...), nil
}

func newMessenger(cfg config.MessengerConfig) *messenger.Client {
	return messenger.NewClient(
		cfg.GraphAPIBaseURL,
		cfg.VerifyToken,
		config.Secret(cfg.PageAccessTokenEnv),
		time.Duration(cfg.TimeoutSecs)*time.Second,
	)
}
