package pipeline

import (
	"regexp"
	"strings"
)

var filenamePrefixDisallowed = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizeFilenamePrefix enforces the invariant that a filename prefix
// contains only [A-Za-z0-9_-], is at most 50 characters, and never starts or
// ends with an underscore — the same cleanup _sanitize_filename_prefix
// performs before the prefix is folded into an uploaded file's name.
func sanitizeFilenamePrefix(raw string) string {
	cleaned := filenamePrefixDisallowed.ReplaceAllString(raw, "_")
	cleaned = strings.Trim(cleaned, "_")
	if len(cleaned) > 50 {
		cleaned = strings.TrimRight(cleaned[:50], "_")
	}
	return cleaned
}
