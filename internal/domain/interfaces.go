package domain

import (
	"context"
	"time"
)

// Record is a stored knowledge snippet together with its embedding.
// Records are immutable once added to a store.
type Record struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Vector   []float64      `json:"vector"`
}

// SearchResult represents a matching record with its cosine similarity to the query.
type SearchResult struct {
	Record
	Score float64 `json:"score"`
}

// Citation points an answer back to the record it was drafted from.
type Citation struct {
	DocID    string         `json:"doc_id"`
	Metadata map[string]any `json:"metadata"`
}

// DraftSource tells which composition path produced an answer.
type DraftSource string

const (
	SourceTemplate  DraftSource = "template"
	SourceGenerated DraftSource = "generated"
)

// DraftResult is a candidate reply. It is never persisted by the pipeline itself.
type DraftResult struct {
	ConversationID int64       `json:"conversation_id"`
	Answer         string      `json:"answer"`
	Confidence     float64     `json:"confidence"`
	Citations      []Citation  `json:"citations"`
	Source         DraftSource `json:"source"`
}

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User is an external sender, keyed by the channel's sender id.
type User struct {
	ID          int64
	SenderKey   string
	DisplayName string
	CreatedAt   time.Time
}

// Conversation groups the messages exchanged with one user.
type Conversation struct {
	ID                 int64
	UserID             int64
	Status             Status
	Confidence         *float64
	LastMessagePreview string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Message is one turn of a conversation.
type Message struct {
	ID             int64
	ConversationID int64
	Role           Role
	Content        string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// EscalationTicket records a handoff to a human operator.
type EscalationTicket struct {
	ID             int64
	ConversationID int64
	Reason         string
	Payload        map[string]any
	CreatedAt      time.Time
}

// ConversationUpdate carries the fields to change; nil fields are left untouched.
type ConversationUpdate struct {
	Status             *Status
	Confidence         *float64
	LastMessagePreview *string
}

// ConversationSummary is a conversation plus the content of its latest message.
type ConversationSummary struct {
	Conversation
	LastMessage *string
}

// Embedder converts free text into a fixed-length numeric vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorStore persists records and supports k-nearest-neighbour search by cosine similarity.
type VectorStore interface {
	Dimension() int
	Add(ctx context.Context, text string, metadata map[string]any) (string, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Close() error
}

// Chunker splits long text into bounded pieces suitable for indexing.
type Chunker interface {
	Chunk(text string) []string
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Generator is a remote text-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ConversationStore owns users, conversations, messages and escalation tickets.
// Implementations decide their own transactional boundaries.
type ConversationStore interface {
	FindOrCreateUser(ctx context.Context, senderKey string) (*User, error)
	// FindOpenConversation returns the most recently updated open conversation,
	// or nil without error when the user has none.
	FindOpenConversation(ctx context.Context, userID int64) (*Conversation, error)
	CreateConversation(ctx context.Context, userID int64) (*Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (*Conversation, error)
	AppendMessage(ctx context.Context, conversationID int64, role Role, content string, metadata map[string]any) error
	UpdateConversation(ctx context.Context, conversationID int64, update ConversationUpdate) error
	CreateEscalationTicket(ctx context.Context, conversationID int64, reason string, payload map[string]any) (*EscalationTicket, error)
	ListConversations(ctx context.Context, limit int) ([]ConversationSummary, error)
	Close() error
}
