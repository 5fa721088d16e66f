package model

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	profilePathRe = regexp.MustCompile(`(?i)linkedin\.com/in/([^/?#]+)`)
	vanityRe      = regexp.MustCompile(`^[A-Za-z0-9\-_%.]+$`)
)

// IsProviderID reports whether s already is a stable provider id rather than
// a vanity slug or a profile URL.
func IsProviderID(s string) bool {
	s = trimmed(s)
	return len(s) > 10 && (strings.HasPrefix(s, "ACo") || strings.HasPrefix(s, "ACw"))
}

// VanityFromLocator extracts the vanity slug from a profile URL, or returns a
// bare slug unchanged. ok is false when nothing usable is found.
func VanityFromLocator(locator string) (string, bool) {
	locator = trimmed(locator)
	if locator == "" {
		return "", false
	}
	if m := profilePathRe.FindStringSubmatch(locator); m != nil {
		slug, err := url.PathUnescape(m[1])
		if err != nil {
			slug = m[1]
		}
		return slug, slug != ""
	}
	if strings.Contains(locator, "/") || !vanityRe.MatchString(locator) {
		return "", false
	}
	return locator, true
}

// NormalizeLocator is used for duplicate detection inside a campaign.
func NormalizeLocator(locator string) string {
	locator = strings.ToLower(trimmed(locator))
	locator = strings.TrimPrefix(locator, "https://")
	locator = strings.TrimPrefix(locator, "http://")
	locator = strings.TrimPrefix(locator, "www.")
	return strings.TrimRight(locator, "/")
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
