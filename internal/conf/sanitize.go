package conf

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackID is used when a name sanitizes to nothing
const FallbackID = "tile-server"

var (
	separatorRe = regexp.MustCompile(`[\s_]+`)
	invalidIDRe = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRunRe = regexp.MustCompile(`-{2,}`)
)

// stripDiacritics folds "Küste" to "Kuste"
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// SanitizeID turns a display name into an identifier of lowercase letters,
// digits and single hyphens.
func SanitizeID(name string) string {
	id := strings.ToLower(stripDiacritics(strings.TrimSpace(name)))
	id = separatorRe.ReplaceAllString(id, "-")
	id = invalidIDRe.ReplaceAllString(id, "")
	id = hyphenRunRe.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")
	if id == "" {
		return FallbackID
	}
	return id
}

// UniqueID appends -1, -2, ... to base until it does not collide with existing.
func UniqueID(base string, existing []string) string {
	if !slices.Contains(existing, base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !slices.Contains(existing, candidate) {
			return candidate
		}
	}
}
