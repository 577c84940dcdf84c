package ingest

import (
	"strings"
	"unicode"
)

// DefaultChunkSize is the window, in runes, used when none is configured.
const DefaultChunkSize = 4000

// ChunkText splits text into pieces of at most maxLen runes. Each cut lands
// on the last paragraph break in the back half of the window, else the last
// sentence end, else the last whitespace, else a hard cut. Whitespace at a
// cut is dropped; no other text is lost.
func ChunkText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultChunkSize
	}
	rs := []rune(strings.TrimSpace(text))

	var chunks []string
	for len(rs) > 0 {
		if len(rs) <= maxLen {
			chunks = append(chunks, string(rs))
			break
		}
		cut := breakPoint(rs[:maxLen])
		if chunk := strings.TrimRightFunc(string(rs[:cut]), unicode.IsSpace); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rs = trimLeftSpace(rs[cut:])
	}
	return chunks
}

func breakPoint(window []rune) int {
	n := len(window)
	half := n / 2

	for i := n - 1; i > half; i-- {
		if window[i] == '\n' && window[i-1] == '\n' {
			return i + 1
		}
	}
	for i := n - 2; i >= half; i-- {
		switch window[i] {
		case '.', '!', '?':
			if unicode.IsSpace(window[i+1]) {
				return i + 1
			}
		}
	}
	for i := n - 1; i >= half && i > 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return n
}

func trimLeftSpace(rs []rune) []rune {
	for len(rs) > 0 && unicode.IsSpace(rs[0]) {
		rs = rs[1:]
	}
	return rs
}
