package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autoreply/internal/domain"
)

// Store keeps conversation state in process memory. All operations are
// serialized by one mutex, so FindOrCreateUser never creates two users for
// the same sender key.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	nextID        int64
	last          time.Time
	users         map[string]*domain.User
	conversations map[int64]*domain.Conversation
	messages      map[int64][]domain.Message
	tickets       map[int64][]domain.EscalationTicket
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:           time.Now,
		users:         map[string]*domain.User{},
		conversations: map[int64]*domain.Conversation{},
		messages:      map[int64][]domain.Message{},
		tickets:       map[int64][]domain.EscalationTicket{},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// tick returns a timestamp strictly after every one handed out before, so
// "most recently updated" stays well defined on coarse clocks.
func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) FindOrCreateUser(_ context.Context, senderKey string) (*domain.User, error) {
	if strings.TrimSpace(senderKey) == "" {
		return nil, domain.ValidationError("conversation.user", "sender key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[senderKey]; ok {
		cp := *u
		return &cp, nil
	}
	u := &domain.User{ID: s.id(), SenderKey: senderKey, CreatedAt: s.now().UTC()}
	s.users[senderKey] = u
	cp := *u
	return &cp, nil
}

func (s *Store) FindOpenConversation(_ context.Context, userID int64) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Conversation
	for _, c := range s.conversations {
		if c.UserID != userID || c.Status != domain.StatusOpen {
			continue
		}
		if best == nil || c.UpdatedAt.After(best.UpdatedAt) || (c.UpdatedAt.Equal(best.UpdatedAt) && c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneConversation(best), nil
}

func (s *Store) CreateConversation(_ context.Context, userID int64) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	c := &domain.Conversation{ID: s.id(), UserID: userID, Status: domain.StatusOpen, CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = c
	return cloneConversation(c), nil
}

func (s *Store) GetConversation(_ context.Context, conversationID int64) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, domain.NotFoundError("conversation.get", fmt.Errorf("conversation %d", conversationID))
	}
	return cloneConversation(c), nil
}

func (s *Store) AppendMessage(_ context.Context, conversationID int64, role domain.Role, content string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return domain.NotFoundError("conversation.append", fmt.Errorf("conversation %d", conversationID))
	}
	now := s.tick()
	s.messages[conversationID] = append(s.messages[conversationID], domain.Message{
		ID:             s.id(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       cloneMap(metadata),
		CreatedAt:      now,
	})
	c.UpdatedAt = now
	return nil
}

func (s *Store) UpdateConversation(_ context.Context, conversationID int64, update domain.ConversationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return domain.NotFoundError("conversation.update", fmt.Errorf("conversation %d", conversationID))
	}
	if update.Status != nil {
		c.Status = *update.Status
	}
	if update.Confidence != nil {
		v := *update.Confidence
		c.Confidence = &v
	}
	if update.LastMessagePreview != nil {
		c.LastMessagePreview = *update.LastMessagePreview
	}
	c.UpdatedAt = s.tick()
	return nil
}

func (s *Store) CreateEscalationTicket(_ context.Context, conversationID int64, reason string, payload map[string]any) (*domain.EscalationTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, domain.NotFoundError("conversation.escalate", fmt.Errorf("conversation %d", conversationID))
	}
	if payload == nil {
		payload = map[string]any{}
	}
	t := domain.EscalationTicket{
		ID:             s.id(),
		ConversationID: conversationID,
		Reason:         reason,
		Payload:        cloneMap(payload),
		CreatedAt:      s.now().UTC(),
	}
	s.tickets[conversationID] = append(s.tickets[conversationID], t)
	return &t, nil
}

// ListConversations returns up to limit conversations, most recently updated first.
func (s *Store) ListConversations(_ context.Context, limit int) ([]domain.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]domain.ConversationSummary, 0, len(all))
	for _, c := range all {
		sum := domain.ConversationSummary{Conversation: *cloneConversation(c)}
		if msgs := s.messages[c.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1].Content
			sum.LastMessage = &last
		}
		out = append(out, sum)
	}
	return out, nil
}

// Messages returns a copy of the conversation transcript in append order.
func (s *Store) Messages(conversationID int64) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages[conversationID]...)
}

// Tickets returns the escalation tickets raised for a conversation.
func (s *Store) Tickets(conversationID int64) []domain.EscalationTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EscalationTicket(nil), s.tickets[conversationID]...)
}

func (s *Store) Close() error { return nil }

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	if c.Confidence != nil {
		v := *c.Confidence
		cp.Confidence = &v
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
