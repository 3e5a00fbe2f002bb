// ABOUTME: Reply delivery helpers: markdown to HTML rendering for platforms
// ABOUTME: with rich formatting, and human-paced typing delay estimation

package responder

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"
)

const (
	typingBase    = 400 * time.Millisecond
	typingPerRune = 80 * time.Millisecond
	typingMax     = 4 * time.Second
)

// RenderHTML converts a markdown reply segment to HTML for platforms that
// support formatted bodies.
func RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// TypingDelay estimates how long a person would take to type text, so
// multi-segment replies land with a human cadence instead of all at once.
func TypingDelay(text string) time.Duration {
	d := typingBase + time.Duration(utf8.RuneCountInString(text))*typingPerRune
	if d > typingMax {
		return typingMax
	}
	return d
}
