package textutil

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// maxUnescapePasses bounds how many layers of entity encoding stripMarkup peels off.
const maxUnescapePasses = 4

// PlainText strips markup, applies NFKC normalisation, removes control characters and collapses
// runs of whitespace. The result is trimmed.
func PlainText(value string) string {
	if value == "" {
		return ""
	}
	stripped := stripMarkup(value)
	normalised := norm.NFKC.String(stripped)

	var b strings.Builder
	b.Grow(len(normalised))
	pendingSpace := false
	for _, r := range normalised {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r) || r == utf8.RuneError:
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripMarkup sanitises and unescapes until the text is stable, so entity-encoded tags cannot
// reappear as markup after unescaping. Input still changing after the last pass keeps its escaped form.
func stripMarkup(value string) string {
	current := value
	for i := 0; i < maxUnescapePasses; i++ {
		sanitized := plainTextPolicy.Sanitize(current)
		next := html.UnescapeString(sanitized)
		if next == current {
			return next
		}
		if i == maxUnescapePasses-1 {
			return sanitized
		}
		current = next
	}
	return current
}

// RuneLen reports the number of runes in value.
func RuneLen(value string) int {
	return utf8.RuneCountInString(value)
}
