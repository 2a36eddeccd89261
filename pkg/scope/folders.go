package scope

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/util"
)

// Folders is the set of workspace folders, unique by URI and kept sorted by
// ascending URI length.
type Folders struct {
	mu    sync.RWMutex
	items []protocol.WorkspaceFolder
}

func NewFolders(folders []protocol.WorkspaceFolder) *Folders {
	f := &Folders{}
	f.Change(folders, nil)
	return f
}

// Change removes folders by URI, appends the added ones and re-sorts.
func (f *Folders) Change(added, removed []protocol.WorkspaceFolder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range removed {
		f.items = slices.DeleteFunc(f.items, func(folder protocol.WorkspaceFolder) bool {
			return folder.URI == r.URI
		})
	}
	for _, a := range added {
		exists := slices.ContainsFunc(f.items, func(folder protocol.WorkspaceFolder) bool {
			return folder.URI == a.URI
		})
		if !exists {
			f.items = append(f.items, a)
		}
	}
	slices.SortStableFunc(f.items, func(a, b protocol.WorkspaceFolder) int {
		return len(withSlash(a.URI)) - len(withSlash(b.URI))
	})
}

func (f *Folders) List() []protocol.WorkspaceFolder {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.items)
}

// Owner returns the most specific folder containing filePath. The list is
// sorted shortest first, so it is scanned from the end; this is O(n) in the
// number of folders.
func (f *Folders) Owner(filePath string) (protocol.WorkspaceFolder, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := len(f.items) - 1; i >= 0; i-- {
		folderPath := util.FolderPath(f.items[i].URI)
		if folderPath == "" {
			continue
		}
		if strings.HasPrefix(filePath, util.WithTrailingSeparator(folderPath)) {
			return f.items[i], true
		}
	}
	return protocol.WorkspaceFolder{}, false
}

// Relative returns filePath relative to its owning folder, or filePath
// unchanged when no folder contains it.
func (f *Folders) Relative(filePath string) string {
	folder, ok := f.Owner(filePath)
	if !ok {
		return filePath
	}
	rel, err := filepath.Rel(util.FolderPath(folder.URI), filePath)
	if err != nil {
		return filePath
	}
	return rel
}

func withSlash(uri string) string {
	if strings.HasSuffix(uri, "/") {
		return uri
	}
	return uri + "/"
}
