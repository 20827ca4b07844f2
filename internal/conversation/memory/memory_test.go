package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
)

func TestFindOrCreateUserIsUniquePerSender(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	ids := make([]int64, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.FindOrCreateUser(ctx, "psid-1")
			assert.NoError(t, err)
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	_, err := s.FindOrCreateUser(ctx, "  ")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestFindOpenConversationPrefersMostRecent(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, err := s.FindOrCreateUser(ctx, "psid-1")
	require.NoError(t, err)

	none, err := s.FindOpenConversation(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := s.CreateConversation(ctx, u.ID)
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx, u.ID)
	require.NoError(t, err)

	got, err := s.FindOpenConversation(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	require.NoError(t, s.AppendMessage(ctx, first.ID, domain.RoleUser, "bump", nil))
	got, err = s.FindOpenConversation(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	escalated := domain.StatusEscalated
	require.NoError(t, s.UpdateConversation(ctx, first.ID, domain.ConversationUpdate{Status: &escalated}))
	got, err = s.FindOpenConversation(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestUpdateAndList(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, _ := s.FindOrCreateUser(ctx, "psid-1")
	c, err := s.CreateConversation(ctx, u.ID)
	require.NoError(t, err)

	conf := 0.65
	preview := "hello"
	require.NoError(t, s.UpdateConversation(ctx, c.ID, domain.ConversationUpdate{Confidence: &conf, LastMessagePreview: &preview}))
	require.NoError(t, s.AppendMessage(ctx, c.ID, domain.RoleUser, "hello", nil))
	require.NoError(t, s.AppendMessage(ctx, c.ID, domain.RoleAssistant, "hi there", map[string]any{"source": "template"}))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.65, *got.Confidence, 1e-9)
	assert.Equal(t, "hello", got.LastMessagePreview)

	list, err := s.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "hi there", *list[0].LastMessage)

	msgs := s.Messages(c.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
}

func TestUnknownConversation(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetConversation(ctx, 42)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(s.AppendMessage(ctx, 42, domain.RoleUser, "x", nil), domain.ErrNotFound))
	_, err = s.CreateEscalationTicket(ctx, 42, "low_confidence", nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
