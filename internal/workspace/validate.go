package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidationError rejects a file whose type matches none of the accepted
// patterns. The message enumerates what was accepted and what arrived.
type ValidationError struct {
	Accepted []string
	Name     string
	MIME     string
}

func (e *ValidationError) Error() string {
	got := e.MIME
	if got == "" {
		got = filepath.Ext(e.Name)
	}
	if got == "" {
		got = "unknown"
	}
	return fmt.Sprintf("file type not accepted: got %q, accepted [%s]",
		got, strings.Join(e.Accepted, ", "))
}

// matchesAccepted checks name/MIME against an allow-list. Patterns may be
// MIME wildcards ("image/*"), exact MIME types ("application/pdf") or
// extensions (".pdf"). An empty list accepts everything.
func matchesAccepted(name, mimeType string, accepted []string) bool {
	if len(accepted) == 0 {
		return true
	}

	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(name))

	for _, pattern := range accepted {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}

		switch {
		case strings.HasSuffix(pattern, "/*"):
			prefix := strings.TrimSuffix(pattern, "*")
			if mimeType != "" && strings.HasPrefix(mimeType, prefix) {
				return true
			}

		case strings.HasPrefix(pattern, "."):
			if ext == pattern {
				return true
			}

		case strings.Contains(pattern, "/"):
			if mimeType == pattern {
				return true
			}

		default:
			// Bare extension without the dot.
			if ext == "."+pattern {
				return true
			}
		}
	}

	return false
}
