package ingest

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestChunkTextRoundTrip(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40) +
		"\n\n" + strings.Repeat("Pack my box with five dozen liquor jugs! ", 30)

	for _, size := range []int{50, 120, 333, 1000} {
		chunks := ChunkText(text, size)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), size)
			assert.Equal(t, strings.TrimSpace(c), c, "chunk keeps no edge whitespace")
		}
		assert.Equal(t, stripSpace(text), stripSpace(strings.Join(chunks, "")), "size %d", size)
	}
}

func TestChunkTextShortInput(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, ChunkText("  hello world \n", 100))
	assert.Empty(t, ChunkText("   \n\t ", 100))
}

func TestChunkTextPrefersParagraph(t *testing.T) {
	first := strings.Repeat("a", 30) + ". " + strings.Repeat("b", 20)
	text := first + "\n\n" + strings.Repeat("c", 40)

	chunks := ChunkText(text, 60)
	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0])
	assert.Equal(t, strings.Repeat("c", 40), chunks[1])
}

func TestChunkTextPrefersSentence(t *testing.T) {
	text := "One sentence here. Two sentence here and then some more words"
	chunks := ChunkText(text, 30)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "One sentence here.", chunks[0])
}

func TestChunkTextHardCutIsRuneSafe(t *testing.T) {
	text := strings.Repeat("日本語", 20)
	chunks := ChunkText(text, 7)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 7)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestStripHTML(t *testing.T) {
	in := `<p>Hello <b>world</b></p><script>alert(1)</script><p>Second&amp;last</p>`
	assert.Equal(t, "Hello world Second&last", StripHTML(in))
	assert.Equal(t, "plain text", StripHTML("  plain \n text "))
}
