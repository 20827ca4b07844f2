package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"autoreply/internal/compose"
	"autoreply/internal/domain"
)

const (
	// NoConversation is reported as the conversation id of drafts made outside a conversation.
	NoConversation int64 = -1

	previewRunes = 500

	ReasonGenerationFailed = "generation_failed"
	ReasonLowConfidence    = "low_confidence"

	FallbackTemplate = "template"
	FallbackEscalate = "escalate"
)

// Config carries the drafting policy.
type Config struct {
	MaxContextSnippets int
	MinConfidence      float64
	// GenerationFallback decides what happens when remote generation fails.
	GenerationFallback string
}

// Recorder receives pipeline events, typically to export them as metrics.
type Recorder interface {
	Draft(source domain.DraftSource, confidence float64)
	Escalation(reason string)
	GenerationFailure()
}

type nopRecorder struct{}

func (nopRecorder) Draft(domain.DraftSource, float64) {}
func (nopRecorder) Escalation(string)                 {}
func (nopRecorder) GenerationFailure()                {}

// Pipeline coordinates retrieval, drafting and escalation for one channel.
// It holds no conversation state of its own.
type Pipeline struct {
	cfg           Config
	store         domain.VectorStore
	conversations domain.ConversationStore
	composer      *compose.Composer
	logger        *slog.Logger
	recorder      Recorder
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// New builds a pipeline. Zero config values fall back to 3 snippets and the template fallback.
func New(cfg Config, store domain.VectorStore, conversations domain.ConversationStore, composer *compose.Composer, opts ...Option) *Pipeline {
	if cfg.MaxContextSnippets <= 0 {
		cfg.MaxContextSnippets = 3
	}
	if cfg.GenerationFallback == "" {
		cfg.GenerationFallback = FallbackTemplate
	}
	p := &Pipeline{
		cfg:           cfg,
		store:         store,
		conversations: conversations,
		composer:      composer,
		logger:        slog.Default(),
		recorder:      nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the knowledge store drafts are retrieved from.
func (p *Pipeline) Store() domain.VectorStore { return p.store }

// Conversations returns the conversation-state collaborator.
func (p *Pipeline) Conversations() domain.ConversationStore { return p.conversations }

// EnsureConversation finds or creates the sender's open conversation and logs
// the inbound text to it.
func (p *Pipeline) EnsureConversation(ctx context.Context, senderKey, text string) (*domain.Conversation, error) {
	if strings.TrimSpace(senderKey) == "" {
		return nil, domain.ValidationError("pipeline.ensure_conversation", "sender key is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.ValidationError("pipeline.ensure_conversation", "message text is empty")
	}
	user, err := p.conversations.FindOrCreateUser(ctx, senderKey)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	conv, err := p.conversations.FindOpenConversation(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if conv == nil {
		if conv, err = p.conversations.CreateConversation(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		p.logger.Info("conversation opened", "conversation_id", conv.ID, "user_id", user.ID)
	}
	if err := p.conversations.AppendMessage(ctx, conv.ID, domain.RoleUser, text, map[string]any{}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	preview := truncateRunes(text, previewRunes)
	if err := p.conversations.UpdateConversation(ctx, conv.ID, domain.ConversationUpdate{LastMessagePreview: &preview}); err != nil {
		return nil, fmt.Errorf("update preview: %w", err)
	}
	conv.LastMessagePreview = preview
	return conv, nil
}

// DraftReply retrieves context for text and composes a reply. It mutates nothing.
func (p *Pipeline) DraftReply(ctx context.Context, text string, conversationID int64) (*domain.DraftResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ValidationError("pipeline.draft_reply", "message text is empty")
	}
	contexts, err := p.store.Search(ctx, text, p.cfg.MaxContextSnippets)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	answer, source, err := p.composer.Compose(ctx, text, contexts)
	if err != nil {
		return nil, err
	}
	return newDraft(conversationID, answer, source, contexts), nil
}

// RecordAssistantReply stores the draft confidence and logs the reply to the conversation.
func (p *Pipeline) RecordAssistantReply(ctx context.Context, conv *domain.Conversation, draft *domain.DraftResult) error {
	confidence := draft.Confidence
	if err := p.conversations.UpdateConversation(ctx, conv.ID, domain.ConversationUpdate{Confidence: &confidence}); err != nil {
		return fmt.Errorf("update confidence: %w", err)
	}
	meta := map[string]any{
		"citations": draft.Citations,
		"source":    string(draft.Source),
	}
	if err := p.conversations.AppendMessage(ctx, conv.ID, domain.RoleAssistant, draft.Answer, meta); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	conv.Confidence = &confidence
	return nil
}

// Escalate hands the conversation to a human. There is no way back to open;
// escalating twice raises two tickets.
func (p *Pipeline) Escalate(ctx context.Context, conv *domain.Conversation, reason string, payload map[string]any) (*domain.EscalationTicket, error) {
	status := domain.StatusEscalated
	if err := p.conversations.UpdateConversation(ctx, conv.ID, domain.ConversationUpdate{Status: &status}); err != nil {
		return nil, fmt.Errorf("escalate conversation: %w", err)
	}
	ticket, err := p.conversations.CreateEscalationTicket(ctx, conv.ID, reason, payload)
	if err != nil {
		return nil, fmt.Errorf("create escalation ticket: %w", err)
	}
	conv.Status = status
	p.recorder.Escalation(reason)
	p.logger.Info("conversation escalated", "conversation_id", conv.ID, "reason", reason, "ticket_id", ticket.ID)
	return ticket, nil
}

// Outcome describes what happened to one inbound message.
type Outcome struct {
	Conversation *domain.Conversation
	Draft        *domain.DraftResult
	Ticket       *domain.EscalationTicket
	// Fallback is set when the template answered after remote generation failed.
	Fallback bool
	// Deliver is true only while the conversation is still open.
	Deliver bool
}

// HandleInbound runs the whole automated flow for one message from senderKey.
func (p *Pipeline) HandleInbound(ctx context.Context, senderKey, text string) (*Outcome, error) {
	conv, err := p.EnsureConversation(ctx, senderKey, text)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Conversation: conv}

	draft, err := p.DraftReply(ctx, text, conv.ID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrGeneration):
		p.recorder.GenerationFailure()
		if p.cfg.GenerationFallback == FallbackEscalate {
			p.logger.Warn("generation failed, escalating", "conversation_id", conv.ID, "error", err)
			ticket, escErr := p.Escalate(ctx, conv, ReasonGenerationFailed, map[string]any{
				"question": text,
				"error":    err.Error(),
			})
			if escErr != nil {
				return nil, escErr
			}
			out.Ticket = ticket
			return out, nil
		}
		p.logger.Warn("generation failed, using template", "conversation_id", conv.ID, "error", err)
		if draft, err = p.templateDraft(ctx, text, conv.ID); err != nil {
			return nil, err
		}
		out.Fallback = true
	default:
		return nil, err
	}
	out.Draft = draft
	p.recorder.Draft(draft.Source, draft.Confidence)
	p.logger.Debug("draft composed",
		"conversation_id", conv.ID,
		"source", draft.Source,
		"confidence", draft.Confidence,
		"citations", len(draft.Citations))

	if err := p.RecordAssistantReply(ctx, conv, draft); err != nil {
		return nil, err
	}

	if draft.Confidence < p.cfg.MinConfidence {
		ticket, err := p.Escalate(ctx, conv, ReasonLowConfidence, map[string]any{
			"confidence": draft.Confidence,
			"question":   text,
			"citations":  draft.Citations,
		})
		if err != nil {
			return nil, err
		}
		out.Ticket = ticket
	}
	out.Deliver = conv.Status == domain.StatusOpen
	return out, nil
}

func (p *Pipeline) templateDraft(ctx context.Context, text string, conversationID int64) (*domain.DraftResult, error) {
	contexts, err := p.store.Search(ctx, text, p.cfg.MaxContextSnippets)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	return newDraft(conversationID, p.composer.Template(text, contexts), domain.SourceTemplate, contexts), nil
}

func newDraft(conversationID int64, answer string, source domain.DraftSource, contexts []domain.SearchResult) *domain.DraftResult {
	if conversationID == 0 {
		conversationID = NoConversation
	}
	return &domain.DraftResult{
		ConversationID: conversationID,
		Answer:         answer,
		Confidence:     compose.Confidence(len(contexts)),
		Citations:      compose.Citations(contexts),
		Source:         source,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
