package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapChunkerShortText(t *testing.T) {
	c := NewWrapChunker(DefaultWidth)
	assert.Equal(t, []string{"Refunds take 5 business days."}, c.Chunk("  Refunds take 5 business days.\n"))
	assert.Nil(t, c.Chunk("   \n\t "))
}

func TestWrapChunkerBoundsChunks(t *testing.T) {
	c := NewWrapChunker(20)
	text := strings.Repeat("lorem ipsum dolor ", 30)
	chunks := c.Chunk(text)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 20)
		assert.NotEmpty(t, strings.TrimSpace(ch))
	}
	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")))
}

func TestWrapChunkerSplitsLongWords(t *testing.T) {
	c := NewWrapChunker(4)
	chunks := c.Chunk("abcdefghij xy")
	assert.Equal(t, []string{"abcd", "efgh", "ij ", "xy"}, chunks)
}

func TestWrapChunkerCountsRunes(t *testing.T) {
	c := NewWrapChunker(3)
	chunks := c.Chunk("éééééé")
	assert.Equal(t, []string{"ééé", "ééé"}, chunks)
}

func TestWrapChunkerNormalizesWhitespace(t *testing.T) {
	c := NewWrapChunker(100)
	assert.Equal(t, []string{"a  b c"}, c.Chunk("a\t\nb\nc"))
}

func TestSentenceChunkerOverlap(t *testing.T) {
	c := NewSentenceChunker(2, 1)
	chunks := c.Chunk("One. Two. Three. Four.")
	assert.Equal(t, []string{"One. Two.", "Two. Three.", "Three. Four."}, chunks)
}

func TestSentenceChunkerWithoutPunctuation(t *testing.T) {
	c := NewSentenceChunker(3, 0)
	assert.Equal(t, []string{"no punctuation here"}, c.Chunk(" no punctuation here "))
	assert.Nil(t, c.Chunk("  "))
}
