package util

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/a-h/templ/lsp/uri"
)

const FileScheme = "file"

func Scheme(docURI protocol.DocumentURI) string {
	u, err := url.Parse(string(docURI))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func IsFile(docURI protocol.DocumentURI) bool {
	return Scheme(docURI) == FileScheme
}

// Filename returns the filesystem path of a file URI, or "" for any other scheme.
func Filename(docURI protocol.DocumentURI) string {
	if !IsFile(docURI) {
		return ""
	}
	return uri.URI(docURI).Filename()
}

// FolderPath is Filename for workspace folder URIs, which arrive as plain strings.
func FolderPath(folderURI string) string {
	return Filename(protocol.DocumentURI(folderURI))
}

func FileURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI(uri.File(path))
}

// WithTrailingSeparator makes prefix checks on directories safe against
// sibling names such as /a/b and /a/bc.
func WithTrailingSeparator(dir string) string {
	if dir == "" || strings.HasSuffix(dir, string(filepath.Separator)) {
		return dir
	}
	return dir + string(filepath.Separator)
}

// PointRange is a range one character wide starting at line/character.
func PointRange(line, character uint32) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{
			Line:      line,
			Character: character,
		},
		End: protocol.Position{
			Line:      line,
			Character: character + 1,
		},
	}
}
