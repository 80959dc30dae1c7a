// Package sanitize strips dangerous markup from client-supplied chat
// content before it is published to a room. Agent-produced content is
// never passed through this package (§6).
package sanitize

import (
	"regexp"
	"strings"
)

var (
	scriptTagRe   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	eventAttrDQRe = regexp.MustCompile(`(?i)\bon\w+\s*=\s*"[^"]*"`)
	eventAttrSQRe = regexp.MustCompile(`(?i)\bon\w+\s*=\s*'[^']*'`)
)

// Content strips <script>...</script> blocks and inline event-handler
// attributes, then entity-escapes the five reserved HTML characters. The
// entity-escaping step is idempotent: running Content twice yields the same
// output as running it once (§8 invariant 6), which rules out a naive
// strings.Replace("&", "&amp;", ...) pass — that would double-escape an
// already-escaped "&amp;" on the second call.
func Content(s string) string {
	s = scriptTagRe.ReplaceAllString(s, "")
	s = eventAttrDQRe.ReplaceAllString(s, "")
	s = eventAttrSQRe.ReplaceAllString(s, "")
	return escapeEntities(s)
}

var namedEntities = []string{"amp;", "lt;", "gt;", "quot;", "#39;"}

func escapeEntities(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '&':
			if hasEntityAt(s, i+1) {
				b.WriteByte(c)
			} else {
				b.WriteString("&amp;")
			}
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// hasEntityAt reports whether s[pos:] begins with one of the named entity
// suffixes this package ever produces, meaning the '&' right before pos is
// already the head of an escaped sequence and must not be re-escaped.
func hasEntityAt(s string, pos int) bool {
	rest := s[pos:]
	for _, ent := range namedEntities {
		if strings.HasPrefix(rest, ent) {
			return true
		}
	}
	return false
}
