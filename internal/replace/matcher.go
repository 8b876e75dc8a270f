// Package replace implements the find-and-replace engine: rule compilation,
// case-preserving replacement and the schema-less document walker that
// rewrites CMS entries.
package replace

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sha1n/mcp-replace-server/internal/domain"
)

// DefaultMaxPatternLength is the longest find pattern accepted by default.
const DefaultMaxPatternLength = 512

var (
	// ErrEmptyPattern indicates the find pattern is empty
	ErrEmptyPattern = errors.New("find pattern cannot be empty")

	// ErrPatternTooLong indicates the find pattern exceeds the configured limit
	ErrPatternTooLong = errors.New("find pattern is too long")

	// ErrInvalidPattern indicates a regex pattern that cannot be compiled
	ErrInvalidPattern = errors.New("invalid regular expression")

	// ErrUnknownMode indicates a mode other than literal or regex
	ErrUnknownMode = errors.New("unknown match mode")
)

// MatchOptions controls how a find pattern is compiled.
type MatchOptions struct {
	CaseSensitive bool
	// WholeWord wraps literal patterns in word boundaries. Ignored in regex mode.
	WholeWord bool
	// MaxPatternLength rejects longer patterns. Zero disables the check.
	MaxPatternLength int
}

// Matcher is a compiled find pattern. It always matches globally.
//
// A Matcher holds no scan state, so it can be shared between goroutines and
// reused across calls without affecting results.
type Matcher struct {
	re   *regexp.Regexp
	mode domain.Mode
	find string
}

// BuildMatcher compiles find according to mode.
//
// Literal patterns have every metacharacter escaped. Regex patterns are used
// as-is; the engine is RE2 so matching time stays linear in the input.
func BuildMatcher(find string, mode domain.Mode, opts MatchOptions) (*Matcher, error) {
	if find == "" {
		return nil, ErrEmptyPattern
	}
	if opts.MaxPatternLength > 0 && len(find) > opts.MaxPatternLength {
		return nil, fmt.Errorf("%w: %d characters, limit is %d", ErrPatternTooLong, len(find), opts.MaxPatternLength)
	}

	var src string
	switch mode {
	case domain.ModeLiteral, "":
		mode = domain.ModeLiteral
		src = regexp.QuoteMeta(find)
		if opts.WholeWord {
			src = `\b` + src + `\b`
		}
	case domain.ModeRegex:
		src = find
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	if !opts.CaseSensitive {
		src = "(?i)" + src
	}

	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPattern, strings.TrimPrefix(err.Error(), "error parsing regexp: "))
	}

	return &Matcher{re: re, mode: mode, find: find}, nil
}

// MatcherForRule compiles the matcher described by a replacement rule.
func MatcherForRule(rule domain.ReplacementRule, maxPatternLength int) (*Matcher, error) {
	return BuildMatcher(rule.Find, rule.EffectiveMode(), MatchOptions{
		CaseSensitive:    rule.CaseSensitive,
		WholeWord:        rule.WholeWord,
		MaxPatternLength: maxPatternLength,
	})
}

// CountMatches returns the number of non-overlapping matches in text.
func (m *Matcher) CountMatches(text string) int {
	return len(m.re.FindAllStringIndex(text, -1))
}

// Mode returns the mode the matcher was compiled with.
func (m *Matcher) Mode() domain.Mode {
	return m.mode
}

// Find returns the original, uncompiled pattern.
func (m *Matcher) Find() string {
	return m.find
}

// String returns the compiled expression source.
func (m *Matcher) String() string {
	return m.re.String()
}
