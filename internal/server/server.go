package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"autoreply/internal/ingest"
	"autoreply/internal/messenger"
	"autoreply/internal/metrics"
	"autoreply/internal/pipeline"
)

// Config configures the HTTP transport.
type Config struct {
	Addr string
	// Mode is a gin mode: debug, release or test.
	Mode string
	// AppSecret enables X-Hub-Signature-256 checks on webhook deliveries.
	AppSecret string
	// ReplyTimeout bounds the background handling of one inbound message.
	ReplyTimeout time.Duration
}

// Dependencies are the components the routes drive.
type Dependencies struct {
	Pipeline  *pipeline.Pipeline
	Ingest    *ingest.Service
	Messenger *messenger.Client
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Server exposes the webhook, admin and health endpoints.
type Server struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
	router *gin.Engine

	// base is the parent of background reply contexts; it outlives requests.
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New wires middleware and routes.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Pipeline == nil || deps.Ingest == nil || deps.Messenger == nil {
		return nil, errors.New("server: pipeline, ingest and messenger are required")
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		router: gin.New(),
		base:   base,
		cancel: cancel,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(recoveryMiddleware(s.logger))
	s.router.Use(requestIDMiddleware())
	s.router.Use(loggingMiddleware(s.logger))
	if s.deps.Metrics != nil {
		s.router.Use(s.deps.Metrics.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.health)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", s.deps.Metrics.Handler())
	}

	meta := s.router.Group("/meta")
	{
		meta.GET("/webhook", s.verifyWebhook)
		meta.POST("/webhook", s.receiveWebhook)
	}

	admin := s.router.Group("/admin")
	{
		admin.POST("/knowledge/text", s.ingestText)
		admin.POST("/knowledge/file", s.ingestFile)
		admin.GET("/conversations", s.listConversations)
	}
}

// Run serves until ctx is cancelled, then drains requests and background replies.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Wait()
		s.cancel()
		s.logger.Info("http server stopped")
		return err
	})
	return g.Wait()
}

// Wait blocks until all queued inbound messages have been handled.
func (s *Server) Wait() { s.inflight.Wait() }

// dispatch handles one inbound message in the background.
func (s *Server) dispatch(in messenger.Inbound, requestID string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(s.base, s.cfg.ReplyTimeout)
		defer cancel()
		s.handleInbound(ctx, in, s.logger.With("request_id", requestID, "sender", in.SenderID))
	}()
}

func (s *Server) handleInbound(ctx context.Context, in messenger.Inbound, log *slog.Logger) {
	out, err := s.deps.Pipeline.HandleInbound(ctx, in.SenderID, in.Text)
	if err != nil {
		log.Error("inbound message failed", "error", err)
		return
	}
	if !out.Deliver {
		log.Info("reply withheld", "conversation_id", out.Conversation.ID, "status", out.Conversation.Status)
		return
	}
	if !s.deps.Messenger.CanSend() {
		log.Warn("page access token missing, reply not sent", "conversation_id", out.Conversation.ID)
		return
	}
	res, err := s.deps.Messenger.SendMessage(ctx, in.SenderID, out.Draft.Answer)
	if err != nil {
		log.Error("send reply failed", "conversation_id", out.Conversation.ID, "error", err)
		return
	}
	log.Info("reply sent", "conversation_id", out.Conversation.ID, "message_id", res.MessageID)
}
