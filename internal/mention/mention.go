// Package mention extracts phone-number mention tokens ("@5512345678") from
// chat text, normalizes them into canonical addresses, and resolves them to
// recipients through a Directory.
package mention

import (
	"regexp"
	"strings"
)

// DefaultMaxTokens is the default cap on tokens taken from a single message.
const DefaultMaxTokens = 10

const (
	minTokenDigits = 10
	maxTokenDigits = 15
)

// tokenRe matches the marker and the full digit run after it. The length
// check happens afterwards so a 17-digit run is rejected instead of being
// silently truncated to its first 15 digits.
var tokenRe = regexp.MustCompile(`@(\d+)`)

// Token is one raw mention found in a message.
type Token struct {
	Raw   string // the digits, without the "@" marker
	Start int    // byte offset of the "@" in the source text
	End   int    // byte offset just past the last digit
}

// ExtractTokens returns the mention tokens of text in order of appearance.
// At most max tokens are returned; the rest are ignored. A max <= 0 uses
// DefaultMaxTokens.
func ExtractTokens(text string, max int) []Token {
	if max <= 0 {
		max = DefaultMaxTokens
	}
	var tokens []Token
	for _, loc := range tokenRe.FindAllStringSubmatchIndex(text, -1) {
		digits := text[loc[2]:loc[3]]
		if len(digits) < minTokenDigits || len(digits) > maxTokenDigits {
			continue
		}
		tokens = append(tokens, Token{Raw: digits, Start: loc[0], End: loc[1]})
		if len(tokens) == max {
			break
		}
	}
	return tokens
}

// Span locates one substituted mention in rendered text.
type Span struct {
	Start     int // byte offset of the "@"
	End       int // byte offset just past the display number
	Recipient Recipient
}

// Substitute rewrites text so every resolved token is replaced by "@" plus
// its recipient's display number. Replacement is positional: each
// occurrence uses its own result, so repeated tokens or tokens sharing a
// prefix never affect each other. Unresolved tokens are left untouched.
func Substitute(text string, batch Batch) string {
	out, _ := SubstituteSpans(text, batch)
	return out
}

// SubstituteSpans is Substitute that also reports where each resolved
// mention landed in the returned text, in order.
func SubstituteSpans(text string, batch Batch) (string, []Span) {
	var b strings.Builder
	b.Grow(len(text))
	var spans []Span
	last := 0
	for _, res := range batch {
		if res.Err != nil {
			continue
		}
		if res.Token.Start < last || res.Token.End > len(text) {
			continue
		}
		b.WriteString(text[last:res.Token.Start])
		start := b.Len()
		b.WriteString("@")
		b.WriteString(res.Recipient.Number)
		spans = append(spans, Span{Start: start, End: b.Len(), Recipient: res.Recipient})
		last = res.Token.End
	}
	b.WriteString(text[last:])
	return b.String(), spans
}
