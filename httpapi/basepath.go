package httpapi

import (
	"path"
	"strings"
)

// normalizeBasePath turns a configured prefix into "/a/b" form, or "" when the
// server is mounted at the root.
func normalizeBasePath(value string) string {
	trimmed := strings.Trim(strings.TrimSpace(value), "/")
	if trimmed == "" {
		return ""
	}
	return path.Clean("/" + trimmed)
}
