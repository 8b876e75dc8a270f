package replace

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// Matches absolute http(s) URLs and bare www. hostnames
	urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)

	// Matches email addresses
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// Matches a scheme repeated by a replacement, e.g. https://https://host
	repeatedSchemePattern = regexp.MustCompile(`(?i)^(?:https?://)+(https?://)`)
)

// containsURL reports whether s contains an absolute URL or www. hostname.
func containsURL(s string) bool {
	return urlPattern.MatchString(s)
}

// containsEmail reports whether s contains an email address.
func containsEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// canonicalizeURLs normalizes every URL found in after, using the URLs of
// before (the same string prior to replacement) for the trailing-slash policy:
// the i-th URL keeps or drops its trailing slash like the i-th original URL.
func canonicalizeURLs(before, after string) string {
	original := urlPattern.FindAllString(before, -1)
	aligned := len(original) == len(urlPattern.FindAllString(after, -1))
	i := 0
	return urlPattern.ReplaceAllStringFunc(after, func(u string) string {
		var prev string
		if aligned {
			prev = original[i]
		}
		i++
		return canonicalizeURL(u, prev)
	})
}

// canonicalizeURL collapses repeated schemes, lower-cases scheme and host and
// applies the trailing-slash policy of prev when prev is not empty.
func canonicalizeURL(u, prev string) string {
	u = repeatedSchemePattern.ReplaceAllString(u, "$1")

	if strings.Contains(u, "://") {
		if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
			prefix := parsed.Scheme + "://" + parsed.Host
			if len(u) >= len(prefix) && strings.EqualFold(u[:len(prefix)], prefix) {
				u = strings.ToLower(prefix) + u[len(prefix):]
			}
		}
	} else {
		host, rest, _ := strings.Cut(u, "/")
		if rest != "" || strings.HasSuffix(u, "/") {
			u = strings.ToLower(host) + "/" + rest
		} else {
			u = strings.ToLower(host)
		}
	}

	if prev == "" {
		return u
	}
	hadSlash := strings.HasSuffix(prev, "/")
	hasSlash := strings.HasSuffix(u, "/")
	switch {
	case hadSlash && !hasSlash:
		u += "/"
	case !hadSlash && hasSlash:
		u = strings.TrimSuffix(u, "/")
	}
	return u
}
