package replace

import (
	"strings"

	"github.com/sha1n/mcp-replace-server/internal/domain"
)

// Replacer substitutes every match of a Matcher in a string.
type Replacer struct {
	matcher      *Matcher
	replacement  string
	preserveCase bool
}

// NewReplacer creates a replacer.
// In regex mode, replacement may reference capture groups ($1, ${name}).
func NewReplacer(m *Matcher, replacement string, preserveCase bool) *Replacer {
	return &Replacer{
		matcher:      m,
		replacement:  replacement,
		preserveCase: preserveCase,
	}
}

// Replace returns text with all matches substituted and the number of matches.
func (r *Replacer) Replace(text string) (string, int) {
	locs := r.matcher.re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, 0
	}

	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, loc := range locs {
		sb.WriteString(text[last:loc[0]])

		repl := r.replacement
		if r.matcher.mode == domain.ModeRegex {
			repl = string(r.matcher.re.ExpandString(nil, r.replacement, text, loc))
		}
		if r.preserveCase {
			repl = PreserveCase(text[loc[0]:loc[1]], repl)
		}
		sb.WriteString(repl)
		last = loc[1]
	}
	sb.WriteString(text[last:])

	return sb.String(), len(locs)
}
