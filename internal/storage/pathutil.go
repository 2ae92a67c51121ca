package storage

import (
	"net/url"
	"strings"
)

// TransformURLToPathSegment transforms a URL path into a filesystem-safe path segment.
func TransformURLToPathSegment(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	path := strings.TrimPrefix(parsed.Path, "/")
	if path == "" {
		return "root", nil
	}
	path = strings.TrimSuffix(path, "/")
	path = strings.ReplaceAll(path, "/", "_")
	return path, nil
}

// BrowserIDFromTargetID returns the first 8 chars of a CDP target ID.
func BrowserIDFromTargetID(targetID string) string {
	if len(targetID) >= 8 {
		return targetID[:8]
	}
	return targetID
}

// IsAPIResource reports whether a CDP ResourceType carries API traffic
// rather than page assets.
func IsAPIResource(resourceType string) bool {
	switch resourceType {
	case "XHR", "Fetch", "EventSource":
		return true
	}
	return false
}

// MatchesAny reports whether rawURL contains any of hints, case-insensitively.
// No hints matches everything.
func MatchesAny(rawURL string, hints []string) bool {
	if len(hints) == 0 {
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, h := range hints {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" && strings.Contains(lower, h) {
			return true
		}
	}
	return false
}
