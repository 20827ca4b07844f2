package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"autoreply/internal/domain"
	"autoreply/internal/pipeline"
)

// Port is the console-facing subset of the automation pipeline.
type Port interface {
	HandleInbound(ctx context.Context, senderKey, text string) (*pipeline.Outcome, error)
	Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
}

// Turn is one simulated customer message and what the pipeline did with it.
type Turn struct {
	Question string
	Outcome  *pipeline.Outcome
	Contexts []domain.SearchResult
	Err      error
}

type turnMsg Turn

// Model is the Bubble Tea model for the operator console. It plays the
// customer side of a conversation against the live pipeline.
type Model struct {
	ctx      context.Context
	port     Port
	sender   string
	limit    int
	input    textinput.Model
	viewport viewport.Model
	turns    []Turn
	status   string
	cursor   int
	busy     bool
	ready    bool
}

// New creates a console that sends messages as sender.
func New(ctx context.Context, port Port, sender string, limit int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a customer message and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	if limit <= 0 {
		limit = 3
	}
	return Model{
		ctx:      ctx,
		port:     port,
		sender:   sender,
		limit:    limit,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   fmt.Sprintf("Chatting as %q. Up/down browse turns, Ctrl+C quits.", sender),
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Turns returns the conversation so far.
func (m Model) Turns() []Turn { return m.turns }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around the turn and input boxes
		_, rh := turnBoxStyle.GetFrameSize()
		_, qh := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentTurn())
		return m, nil
	case turnMsg:
		m.busy = false
		m.turns = append(m.turns, Turn(msg))
		m.cursor = len(m.turns) - 1
		m.status = statusLine(Turn(msg))
		m.viewport.SetContent(m.renderCurrentTurn())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.input.SetValue("")
			m.status = "Drafting..."
			return m, m.send(q)
		case "down":
			if len(m.turns) > 0 {
				m.cursor = (m.cursor + 1) % len(m.turns)
				m.viewport.SetContent(m.renderCurrentTurn())
				return m, nil
			}
		case "up":
			if len(m.turns) > 0 {
				m.cursor = (m.cursor - 1 + len(m.turns)) % len(m.turns)
				m.viewport.SetContent(m.renderCurrentTurn())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) send(q string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.port.HandleInbound(m.ctx, m.sender, q)
		t := Turn{Question: q, Outcome: out, Err: err}
		if err == nil {
			// contexts are shown for review only; a failed lookup leaves them empty
			t.Contexts, _ = m.port.Search(m.ctx, q, m.limit)
		}
		return turnMsg(t)
	}
}

// View renders the console layout and the selected turn.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Auto-reply operator console")
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + turnBoxStyle.Render(m.viewport.View()) + "\n" + input + "\n" + status
}

func statusLine(t Turn) string {
	switch {
	case t.Err != nil:
		return "Error: " + t.Err.Error()
	case t.Outcome.Ticket != nil:
		return fmt.Sprintf("Escalated (%s), reply withheld", t.Outcome.Ticket.Reason)
	case t.Outcome.Fallback:
		return "Generation failed, template reply delivered"
	default:
		return "Reply delivered"
	}
}

func (m Model) renderCurrentTurn() string {
	if len(m.turns) == 0 {
		return "No messages yet."
	}
	t := m.turns[m.cursor]
	var b strings.Builder
	fmt.Fprintf(&b, "Turn %d/%d\n\n", m.cursor+1, len(m.turns))
	fmt.Fprintf(&b, "%s %s\n\n", customerStyle.Render("Customer:"), t.Question)
	if t.Err != nil {
		b.WriteString(errorStyle.Render("Error: " + t.Err.Error()))
		return b.String()
	}
	out := t.Outcome
	if out.Draft != nil {
		fmt.Fprintf(&b, "%s (%s, confidence=%.2f)\n%s\n", assistantStyle.Render("Draft:"), out.Draft.Source, out.Draft.Confidence, out.Draft.Answer)
	}
	if out.Ticket != nil {
		fmt.Fprintf(&b, "\n%s ticket #%d, reason %s\n", errorStyle.Render("Escalated:"), out.Ticket.ID, out.Ticket.Reason)
	} else if out.Deliver {
		b.WriteString("\n" + deliveredStyle.Render("Delivered") + "\n")
	}
	for i, r := range t.Contexts {
		fmt.Fprintf(&b, "\n[%d] %s  score=%.3f\n%s\n", i+1, r.ID, r.Score, highlightBestSentence(r.Text, t.Question))
	}
	return b.String()
}

var (
	turnBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	customerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	deliveredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasizes the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
