// Package sanitize turns free-text input into plain text before it is stored.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// maxPasses bounds both entity decoding and the outer fixpoint loop.
const maxPasses = 8

var policy = bluemonday.StrictPolicy()

// Text drops all markup (and the contents of script/style elements), decodes
// entities, removes control characters and trims surrounding whitespace.
// Encoded markup is decoded before stripping, so it never survives as live
// tags. The result is stable: Text(Text(s)) == Text(s).
func Text(input string) string {
	out := input
	for i := 0; i < maxPasses; i++ {
		next := pass(out)
		if next == out {
			return out
		}
		out = next
	}
	// Still changing: nested encodings deeper than maxPasses.
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, out))
}

func pass(s string) string {
	s = stripControl(unescapeAll(s))
	// bluemonday escapes the text it keeps; decode only that layer.
	s = html.UnescapeString(policy.Sanitize(s))
	return strings.TrimSpace(s)
}

func unescapeAll(s string) string {
	for i := 0; i < maxPasses; i++ {
		next := html.UnescapeString(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
