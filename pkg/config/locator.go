package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lavigneer/sasslint-lsp/pkg/cache"
)

// FileNames are the recognized lint config file names in priority order.
var FileNames = []string{".sass-lint.yml", ".sasslintrc"}

var ErrConfigNotFound = errors.New("config file not found")

// Location is a memoized lookup result. Path is empty when nothing was found.
type Location struct {
	Path  string
	Found bool
}

// Locator finds the config file governing a document. Results, including
// misses, are memoized per document path until Forget or Clear.
type Locator struct {
	cache *cache.Map[string, Location]
}

func NewLocator() *Locator {
	return &Locator{cache: cache.NewMap[string, Location]()}
}

// Locate walks up from the document's directory and falls back to the
// explicitly configured path, which may be empty.
func (l *Locator) Locate(docPath string, fallback string) Location {
	if loc, ok := l.cache.Get(docPath); ok {
		slog.Debug("Config path cache hit", "path", docPath)
		return loc
	}
	slog.Debug("Config path cache miss", "path", docPath)

	loc := Location{}
	configFile, err := FindConfigFile(filepath.Dir(docPath))
	switch {
	case err == nil:
		loc = Location{Path: configFile, Found: true}
	case fallback != "":
		loc = Location{Path: fallback, Found: true}
	}
	l.cache.Set(docPath, loc)
	return loc
}

func (l *Locator) Forget(docPath string) {
	l.cache.Delete(docPath)
}

// Clear drops every memoized result. A config file created or deleted
// anywhere can change the answer for any document.
func (l *Locator) Clear() {
	l.cache.Clear()
}

// FindConfigFile returns the first readable config file found in currentPath
// or its ancestors.
func FindConfigFile(currentPath string) (string, error) {
	for _, name := range FileNames {
		candidate := filepath.Join(currentPath, name)
		if readable(candidate) {
			return candidate, nil
		}
	}
	parentDir := filepath.Dir(currentPath)
	if parentDir == currentPath {
		return "", ErrConfigNotFound
	}
	return FindConfigFile(parentDir)
}

func readable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
