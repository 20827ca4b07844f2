package compose

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"autoreply/internal/domain"
)

const (
	baseConfidence    = 0.35
	confidenceStep    = 0.10
	maxConfidence     = 0.95
	snippetRunes      = 200
	defaultTone       = "helpful"
	defaultTimeout    = 30 * time.Second
	noKnowledgeBlock  = "No prior knowledge."
	noKnowledgePrompt = "No stored knowledge available."
)

// SystemPrompt frames the remote model as the page's support assistant.
const SystemPrompt = "You are a helpful assistant answering customer questions for a Facebook Page. " +
	"Use the provided knowledge snippets when possible. Keep replies concise and natural."

// Composer turns a question and retrieved contexts into a reply draft.
// Without a generator every draft comes from the local template.
type Composer struct {
	generator domain.Generator
	tones     []string
	timeout   time.Duration
}

// Option customizes a Composer.
type Option func(*Composer)

// WithGenerator routes Compose through a remote generator.
func WithGenerator(g domain.Generator) Option {
	return func(c *Composer) { c.generator = g }
}

// WithTimeout bounds each remote generation call.
func WithTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a composer using the given tone list; the first tone is used.
func New(tones []string, opts ...Option) *Composer {
	c := &Composer{tones: append([]string(nil), tones...), timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Remote reports whether Compose calls a remote generator.
func (c *Composer) Remote() bool { return c.generator != nil }

// Tone returns the first configured tone, or "helpful".
func (c *Composer) Tone() string {
	if len(c.tones) == 0 || strings.TrimSpace(c.tones[0]) == "" {
		return defaultTone
	}
	return c.tones[0]
}

// Confidence grows by a tenth per retrieved context from 0.35 and is capped at 0.95.
func Confidence(contexts int) float64 {
	if contexts < 0 {
		contexts = 0
	}
	return math.Min(maxConfidence, baseConfidence+confidenceStep*float64(contexts))
}

// Citations lists the retrieved records in ranking order.
func Citations(contexts []domain.SearchResult) []domain.Citation {
	out := make([]domain.Citation, 0, len(contexts))
	for _, r := range contexts {
		out = append(out, domain.Citation{DocID: r.ID, Metadata: r.Metadata})
	}
	return out
}

// Compose drafts an answer. With a generator configured its failures come back
// as generation errors and are never replaced by the template here.
func (c *Composer) Compose(ctx context.Context, query string, contexts []domain.SearchResult) (string, domain.DraftSource, error) {
	if c.generator == nil {
		return c.Template(query, contexts), domain.SourceTemplate, nil
	}
	answer, err := c.Generate(ctx, query, contexts)
	if err != nil {
		return "", "", err
	}
	return answer, domain.SourceGenerated, nil
}

// Template renders the deterministic local answer.
func (c *Composer) Template(query string, contexts []domain.SearchResult) string {
	block := noKnowledgeBlock
	if len(contexts) > 0 {
		parts := make([]string, 0, len(contexts))
		for _, r := range contexts {
			parts = append(parts, truncateRunes(r.Text, snippetRunes))
		}
		block = strings.Join(parts, "\n---\n")
	}
	return fmt.Sprintf("[Tone: %s] Based on the knowledge base I found:\n%s\n\n"+
		"My reply to the customer would be: Thanks for reaching out! %s (contextualized above).",
		c.Tone(), block, strings.TrimSpace(query))
}

// Generate asks the remote generator for an answer under the configured timeout.
func (c *Composer) Generate(ctx context.Context, query string, contexts []domain.SearchResult) (string, error) {
	if c.generator == nil {
		return "", domain.GenerationError("compose.generate", fmt.Errorf("no generator configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	answer, err := c.generator.Generate(ctx, SystemPrompt, UserPrompt(query, contexts, c.Tone()))
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w (%v)", ctx.Err(), err)
		}
		return "", domain.GenerationError("compose.generate", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", domain.GenerationError("compose.generate", fmt.Errorf("empty reply"))
	}
	return answer, nil
}

// UserPrompt lists the question, the full retrieved snippets and the tone.
func UserPrompt(query string, contexts []domain.SearchResult, tone string) string {
	knowledge := noKnowledgePrompt
	if len(contexts) > 0 {
		lines := make([]string, 0, len(contexts))
		for _, r := range contexts {
			lines = append(lines, "- "+r.Text)
		}
		knowledge = strings.Join(lines, "\n")
	}
	return fmt.Sprintf("Answer the customer's question succinctly.\n\nQuestion: %s\n\nRelevant knowledge:\n%s\n\nReply tone: %s.",
		query, knowledge, tone)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
