package script

import (
	"strings"
	"unicode"
)

// DefaultMaxChars is the per-request text limit of the TTS provider.
const DefaultMaxChars = 450

// Split cuts text into trimmed, non-empty pieces of at most maxChars runes,
// breaking at the last whitespace that keeps the piece within the limit.
// A run of non-space characters longer than maxChars is cut hard at
// maxChars. Whitespace-only input yields no pieces.
func Split(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	rest := []rune(strings.TrimSpace(text))
	var chunks []string
	for len(rest) > maxChars {
		cut := lastSpace(rest, maxChars)
		if cut <= 0 {
			cut = maxChars
		}
		if piece := strings.TrimSpace(string(rest[:cut])); piece != "" {
			chunks = append(chunks, piece)
		}
		rest = []rune(strings.TrimSpace(string(rest[cut:])))
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}

// lastSpace returns the index of the last whitespace rune at or before
// position limit, or -1.
func lastSpace(r []rune, limit int) int {
	if limit >= len(r) {
		limit = len(r) - 1
	}
	for i := limit; i >= 0; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return -1
}
