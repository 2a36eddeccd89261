package settings

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FolderLookup returns the path of the workspace folder owning a scope, or ""
// when no folder owns it.
type FolderLookup func(scopeURI string) string

// Fetcher asks the client for the settings of one scope. A nil result with a
// nil error means the client returned no settings.
type Fetcher func(ctx context.Context, scopeURI string) (*Settings, error)

// Resolver resolves the settings for a scope URI.
//
// With pull configuration each scope is fetched once until Flush and
// concurrent resolves of a scope that is still being fetched share one
// request. Without it the latest pushed global snapshot is returned for every
// scope, placed in the scope's workspace folder when the snapshot names none.
type Resolver struct {
	fetch    Fetcher
	folderOf FolderLookup
	group    singleflight.Group

	mu         sync.Mutex
	pull       bool
	global     *Settings
	generation uint64
	resolved   map[string]*Settings
}

func NewResolver(fetch Fetcher, global *Settings) *Resolver {
	return &Resolver{fetch: fetch, global: global, resolved: make(map[string]*Settings)}
}

// SetPull switches between pull and push mode. It is set once the client
// capabilities are known.
func (r *Resolver) SetPull(pull bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pull = pull
}

// SetGlobal replaces the pushed snapshot.
func (r *Resolver) SetGlobal(s *Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = s
}

// SetFolders sets how pushed snapshots find the workspace folder of a scope.
func (r *Resolver) SetFolders(lookup FolderLookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folderOf = lookup
}

func (r *Resolver) Global() *Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.global
}

// Flush forgets every resolved scope. Requests already in flight complete for
// their callers but do not repopulate the cache.
func (r *Resolver) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.resolved = make(map[string]*Settings)
}

func (r *Resolver) Resolve(ctx context.Context, scopeURI string) (*Settings, error) {
	r.mu.Lock()
	if !r.pull {
		s, lookup := r.global, r.folderOf
		r.mu.Unlock()
		if s == nil || s.WorkspaceFolderPath != "" || lookup == nil {
			return s, nil
		}
		if dir := lookup(scopeURI); dir != "" {
			return s.InFolder(dir), nil
		}
		return s, nil
	}
	if s, ok := r.resolved[scopeURI]; ok {
		r.mu.Unlock()
		slog.Debug("Settings cache hit", "uri", scopeURI)
		return s, nil
	}
	generation := r.generation
	r.mu.Unlock()

	key := strconv.FormatUint(generation, 10) + "|" + scopeURI
	v, err, shared := r.group.Do(key, func() (any, error) {
		slog.Debug("Settings cache updating", "uri", scopeURI)
		s, err := r.fetch(ctx, scopeURI)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.generation == generation {
			r.resolved[scopeURI] = s
		}
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("Settings request shared", "uri", scopeURI)
	}
	s, _ := v.(*Settings)
	return s, nil
}
