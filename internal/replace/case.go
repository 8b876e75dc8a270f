package replace

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PreserveCase adapts replacement to the casing of match:
//   - all upper case match -> upper case replacement
//   - all lower case match -> lower case replacement
//   - match starting with an upper case letter -> replacement with its first letter upper cased
//   - anything else -> replacement unchanged
//
// Matches without any cased letter leave the replacement unchanged.
// Mixed and camel case are not carried over.
func PreserveCase(match, replacement string) string {
	if replacement == "" || !hasCasedLetter(match) {
		return replacement
	}

	if strings.ToUpper(match) == match {
		return strings.ToUpper(replacement)
	}
	if strings.ToLower(match) == match {
		return strings.ToLower(replacement)
	}

	first, _ := utf8.DecodeRuneInString(match)
	if unicode.IsUpper(first) {
		r, size := utf8.DecodeRuneInString(replacement)
		return string(unicode.ToUpper(r)) + replacement[size:]
	}
	return replacement
}

func hasCasedLetter(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) || unicode.IsLower(r) {
			return true
		}
	}
	return false
}
