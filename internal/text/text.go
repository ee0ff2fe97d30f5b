// Package text prepares narration input: normalization and deterministic
// splitting into bounded segments for chunked synthesis.
package text

import (
	"errors"
	"strings"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize converts CRLF and bare CR line endings to LF, trims surrounding
// whitespace and rejects empty input.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(lineEndings.Replace(s))
	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}

// ChunkBySentence returns the texts of SplitNarration(input, maxChars).
// A non-positive maxChars returns the trimmed input as a single chunk.
func ChunkBySentence(input string, maxChars int) []string {
	segments := SplitNarration(input, maxChars)
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}

	return out
}
