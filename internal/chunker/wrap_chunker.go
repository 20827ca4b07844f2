package chunker

import (
	"strings"
	"unicode"
)

// DefaultWidth is the maximum chunk length, in runes, used for ingestion.
const DefaultWidth = 800

// WrapChunker breaks text on whitespace into chunks of at most width runes.
// Whitespace between words is kept; words longer than width are split.
type WrapChunker struct {
	width int
}

func NewWrapChunker(width int) *WrapChunker {
	if width <= 0 {
		width = DefaultWidth
	}
	return &WrapChunker{width: width}
}

func (c *WrapChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var (
		chunks []string
		cur    []rune
	)
	flush := func() {
		if strings.TrimSpace(string(cur)) != "" {
			chunks = append(chunks, string(cur))
		}
		cur = cur[:0]
	}
	for _, tok := range splitRuns(text) {
		for len(tok) > 0 {
			room := c.width - len(cur)
			if len(tok) <= room {
				cur = append(cur, tok...)
				break
			}
			if len(cur) > 0 {
				flush()
				continue
			}
			cur = append(cur, tok[:c.width]...)
			tok = tok[c.width:]
			flush()
		}
	}
	flush()
	return chunks
}

// splitRuns returns alternating runs of whitespace and non-whitespace.
// Every whitespace rune becomes a single space.
func splitRuns(text string) [][]rune {
	var (
		runs    [][]rune
		cur     []rune
		inSpace bool
	)
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i > 0 && space != inSpace {
			runs = append(runs, cur)
			cur = nil
		}
		inSpace = space
		if space {
			r = ' '
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}
