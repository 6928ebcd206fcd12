package fs

import (
	"path/filepath"
	"strings"
)

// defaultExcludePatterns are always applied regardless of drive settings.
// Editor temp files and OS droppings should never reach the upload queue.
var defaultExcludePatterns = []string{".DS_Store", "Thumbs.db", "*.tmp", "*.crdownload", "*.part", "~$*"}

// excludePattern is a parsed exclude pattern with its matching strategy.
type excludePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// ExcludeMatcher checks drive-relative paths against a drive's exclude
// patterns. Patterns without '/' match against the file's basename only;
// patterns with '/' match against the full relative path from the drive
// root.
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher creates an ExcludeMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped. The defaults are
// always included.
func NewExcludeMatcher(rawPatterns []string) *ExcludeMatcher {
	var patterns []excludePattern
	for _, raw := range append(append([]string{}, defaultExcludePatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, excludePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &ExcludeMatcher{patterns: patterns}
}

// Match reports whether the given relative path should be excluded from
// sync. relativePath should use filepath separators and be relative to the
// drive root.
func (m *ExcludeMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 {
		return false
	}

	// Normalize to forward slashes for consistent matching.
	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = filepath.Match(p.pattern, normalized)
		} else {
			matched, err = filepath.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern, skip rather than crash.
			continue
		}
		if matched {
			return true
		}
	}

	// Hidden files and anything under a hidden directory stay local.
	for _, part := range strings.Split(normalized, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}
