package fileutil

import "path/filepath"

// NameMatcher returns a predicate reporting whether a base name matches any of
// the glob patterns. Malformed patterns never match; validate them with
// filepath.Match before calling when they come from user input.
func NameMatcher(patterns []string) func(name string) bool {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return func(name string) bool {
		for _, pattern := range cleaned {
			if ok, err := filepath.Match(pattern, name); err == nil && ok {
				return true
			}
		}
		return false
	}
}
