package utils

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags reduces raw chat input to plain text: markup is removed,
// HTML entities are decoded, and surrounding whitespace is trimmed.
// No tag survives, so nothing script-like can reach clients.
func StripTags(input string) string {
	stripped := tagPattern.ReplaceAllString(input, "")
	return strings.TrimSpace(html.UnescapeString(stripped))
}
