// Package segment splits text into ordered chunks sized for speech synthesis.
package segment

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultSize is the target chunk length in characters.
const DefaultSize = 1000

// LargeTextWords is the word count above which a text is considered large.
const LargeTextWords = 2000

// ErrNoText is returned by callers when a text yields no chunks.
var ErrNoText = errors.New("nothing to read")

var (
	sentencePattern   = regexp.MustCompile(`[^.!?]*[.!?]+|[^.!?]+$`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Split divides text into chunks of roughly size characters, preferring
// sentence boundaries and falling back to word boundaries for long sentences.
// Empty or whitespace-only input yields an empty slice. Split is pure.
func Split(text string, size int) []string {
	if size < 1 {
		size = DefaultSize
	}

	text = Normalize(text)
	if text == "" {
		return []string{}
	}

	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	chunks := []string{}
	var buf string

	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		if buf != "" && runes(buf)+1+runes(s) > size {
			chunks = append(chunks, buf)
			buf = ""
		}

		if buf == "" {
			buf = s
		} else {
			buf += " " + s
		}

		// A single sentence can be far longer than the target; cut it on words.
		if float64(runes(buf)) > float64(size)*1.5 {
			var rest string
			chunks, rest = splitWords(chunks, buf, size)
			buf = rest
		}
	}

	if buf = strings.TrimSpace(buf); buf != "" {
		chunks = append(chunks, buf)
	}

	return chunks
}

// splitWords appends word-bounded pieces of text to chunks and returns the
// trailing remainder that still fits within size.
func splitWords(chunks []string, text string, size int) ([]string, string) {
	var cur string
	for _, w := range strings.Fields(text) {
		if cur != "" && runes(cur)+1+runes(w) > size {
			chunks = append(chunks, cur)
			cur = ""
		}
		if cur == "" {
			cur = w
		} else {
			cur += " " + w
		}
	}
	return chunks, cur
}

func runes(s string) int {
	return utf8.RuneCountInString(s)
}

// Normalize applies NFC normalization, collapses whitespace runs and trims.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// IsLarge reports whether text exceeds LargeTextWords.
func IsLarge(text string) bool {
	return CountWords(text) > LargeTextWords
}
