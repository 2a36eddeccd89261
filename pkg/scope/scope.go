// Package scope decides whether a document is linted at all.
package scope

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
)

// InScope reports whether path matches the include patterns and none of the
// exclude patterns. Patterns prefixed with "!" negate earlier matches within
// their own list.
func InScope(path string, include, exclude []string) bool {
	path = filepath.ToSlash(path)
	return matchAny(include, path) && !matchAny(exclude, path)
}

func matchAny(patterns []string, path string) bool {
	matched := false
	for _, pattern := range patterns {
		negate := strings.HasPrefix(pattern, "!")
		if negate {
			pattern = pattern[1:]
		}
		ok, err := doublestar.Match(filepath.ToSlash(pattern), path)
		if err != nil {
			slog.Debug("Skipping bad glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if ok {
			matched = !negate
		}
	}
	return matched
}

// RelativePath is the path the scope patterns are matched against. It is
// relative to the config file's directory when requested and a config file
// exists, else relative to the owning workspace folder, else absolute.
func RelativePath(mode settings.PathMode, configFile, filePath string, folders *Folders) string {
	if configFile != "" && mode == settings.RelativeToConfig {
		rel, err := filepath.Rel(filepath.Dir(configFile), filePath)
		if err == nil {
			return rel
		}
	}
	if folders != nil {
		return folders.Relative(filePath)
	}
	return filePath
}
