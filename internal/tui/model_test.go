package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
	"autoreply/internal/pipeline"
)

type stubPort struct {
	outcome *pipeline.Outcome
	err     error
	sender  string
}

func (p *stubPort) HandleInbound(_ context.Context, senderKey, _ string) (*pipeline.Outcome, error) {
	p.sender = senderKey
	return p.outcome, p.err
}

func (p *stubPort) Search(context.Context, string, int) ([]domain.SearchResult, error) {
	return []domain.SearchResult{{Record: domain.Record{ID: "abc", Text: "We open at 9. We close at 5."}, Score: 0.8}}, nil
}

func typeAndSend(t *testing.T, m Model, text string) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m = next.(Model)
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	next, _ = next.(Model).Update(cmd())
	return next.(Model)
}

func TestConsoleRecordsDeliveredTurn(t *testing.T) {
	port := &stubPort{outcome: &pipeline.Outcome{
		Conversation: &domain.Conversation{ID: 1, Status: domain.StatusOpen},
		Draft:        &domain.DraftResult{Answer: "Thanks!", Confidence: 0.45, Source: domain.SourceTemplate},
		Deliver:      true,
	}}
	m := typeAndSend(t, New(context.Background(), port, "console", 3), "When do you open?")

	require.Len(t, m.Turns(), 1)
	assert.Equal(t, "console", port.sender)
	assert.Equal(t, "Reply delivered", m.status)
	view := m.renderCurrentTurn()
	assert.Contains(t, view, "Thanks!")
	assert.Contains(t, view, "confidence=0.45")
	assert.Contains(t, view, "abc")
	assert.Equal(t, "", m.input.Value())
}

func TestConsoleShowsEscalationAndErrors(t *testing.T) {
	port := &stubPort{outcome: &pipeline.Outcome{
		Conversation: &domain.Conversation{ID: 1, Status: domain.StatusEscalated},
		Draft:        &domain.DraftResult{Answer: "draft", Confidence: 0.35},
		Ticket:       &domain.EscalationTicket{ID: 9, Reason: pipeline.ReasonLowConfidence},
	}}
	m := typeAndSend(t, New(context.Background(), port, "console", 3), "hello")
	assert.True(t, strings.HasPrefix(m.status, "Escalated (low_confidence)"))

	port.outcome, port.err = nil, errors.New("storage down")
	m = typeAndSend(t, m, "again")
	require.Len(t, m.Turns(), 2)
	assert.Equal(t, "Error: storage down", m.status)
	assert.Contains(t, m.renderCurrentTurn(), "storage down")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Contains(t, next.(Model).renderCurrentTurn(), "ticket #9")
}

func TestHighlightBestSentence(t *testing.T) {
	got := highlightBestSentence("We open at 9. Refunds take five days.", "how long do refunds take")
	assert.Contains(t, got, "We open at 9.")
	assert.Contains(t, got, "Refunds take five days.")
	assert.Equal(t, "", highlightBestSentence("", "q"))
}
