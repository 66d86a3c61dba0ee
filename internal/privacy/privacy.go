// Package privacy removes credentials from tile URLs before they reach logs,
// progress snapshots or API responses. Commercial tile servers embed API keys
// in the query string or the userinfo part of the template.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

// Redacted replaces secret values
const Redacted = "REDACTED"

var (
	// URLs inside free text, such as *url.Error messages
	urlPattern = regexp.MustCompile(`\bhttps?://[^\s"']+`)

	// Query parameters that carry credentials on common tile providers
	sensitiveParams = map[string]struct{}{
		"access_token": {},
		"api_key":      {},
		"apikey":       {},
		"key":          {},
		"token":        {},
		"signature":    {},
		"sig":          {},
		"client_id":    {},
		"secret":       {},
	}
)

// isSensitiveParam reports whether a query parameter name holds a secret
func isSensitiveParam(name string) bool {
	_, ok := sensitiveParams[strings.ToLower(name)]
	return ok
}

// RedactURL strips userinfo and masks credential query values. Template
// placeholders such as {z} survive so redacted templates stay readable.
// Unparseable input is returned with every query string removed.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexByte(rawURL, '?'); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	if u.User != nil {
		u.User = url.User(Redacted)
	}
	if u.RawQuery == "" {
		return unescapePlaceholders(u.String())
	}

	parts := strings.Split(u.RawQuery, "&")
	for i, p := range parts {
		name, _, found := strings.Cut(p, "=")
		if found && isSensitiveParam(name) {
			parts[i] = name + "=" + Redacted
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	return unescapePlaceholders(u.String())
}

// unescapePlaceholders restores braces escaped by url.URL.String
func unescapePlaceholders(s string) string {
	return strings.NewReplacer("%7B", "{", "%7D", "}").Replace(s)
}

// ScrubMessage redacts every URL found in message
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, RedactURL)
}
