package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/cache"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
	"github.com/lavigneer/sasslint-lsp/pkg/util"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	Unresolved State = iota
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return "unresolved"
}

// Entry is the resolution state of one document.
type Entry struct {
	State  State
	Linter Linter
}

// Reporter receives the user facing outcomes of resolution.
type Reporter interface {
	// LibraryMissing is called the first time resolution fails for a document.
	LibraryMissing(ctx context.Context, docURI protocol.DocumentURI, pm settings.PackageManager)
	Warning(ctx context.Context, message string)
}

type loadResult struct {
	once   sync.Once
	linter Linter
	err    error
}

type Resolver struct {
	load   Loader
	roots  *GlobalRoots
	report Reporter

	documents *cache.Map[protocol.DocumentURI, Entry]
	paths     *cache.Map[string, *loadResult]
	warned    *cache.Map[string, struct{}]
}

func NewResolver(load Loader, roots *GlobalRoots, report Reporter) *Resolver {
	return &Resolver{
		load:      load,
		roots:     roots,
		report:    report,
		documents: cache.NewMap[protocol.DocumentURI, Entry](),
		paths:     cache.NewMap[string, *loadResult](),
		warned:    cache.NewMap[string, struct{}](),
	}
}

func (r *Resolver) State(docURI protocol.DocumentURI) State {
	entry, _ := r.documents.Get(docURI)
	return entry.State
}

// Resolve returns the linter for a document, resolving it when the document
// has no linter yet. A failure is recorded but the next call tries again.
// ErrLibraryNotFound means no package could be found and the reporter has been
// told; any other error means a package was found but could not be loaded.
func (r *Resolver) Resolve(ctx context.Context, docURI protocol.DocumentURI, s *settings.Settings) (Linter, error) {
	entry, _ := r.documents.Get(docURI)
	if entry.State == Resolved {
		return entry.Linter, nil
	}

	slog.Debug("Resolving library", "uri", docURI)
	modulePath, err := r.resolvePath(ctx, docURI, s)
	if err != nil {
		if entry.State != Failed {
			r.report.LibraryMissing(ctx, docURI, s.PackageManager)
		}
		r.documents.Set(docURI, Entry{State: Failed})
		return nil, err
	}

	linter, err := r.loadPath(ctx, modulePath)
	if err != nil {
		r.documents.Set(docURI, Entry{State: Failed})
		return nil, err
	}
	r.documents.Set(docURI, Entry{State: Resolved, Linter: linter})
	return linter, nil
}

func (r *Resolver) resolvePath(ctx context.Context, docURI protocol.DocumentURI, s *settings.Settings) (string, error) {
	if !util.IsFile(docURI) {
		root := r.roots.Get(ctx, s.PackageManager)
		if root == "" {
			return "", fmt.Errorf("%w: %w", ErrLibraryNotFound, ErrNoGlobalPath)
		}
		return ResolveModule(ModuleName, root, "")
	}

	dir := filepath.Dir(util.Filename(docURI))
	if nodePath := r.nodePath(ctx, s); nodePath != "" {
		if p, err := ResolveModule(ModuleName, nodePath, nodePath); err == nil {
			return p, nil
		}
		slog.Debug("Library not found under nodePath, falling back", "nodePath", nodePath)
	}
	if p, err := ResolveModule(ModuleName, "", dir); err == nil {
		return p, nil
	}
	return ResolveModule(ModuleName, r.roots.Get(ctx, s.PackageManager), dir)
}

// nodePath returns the configured override when it exists, warning once per
// path when it does not.
func (r *Resolver) nodePath(ctx context.Context, s *settings.Settings) string {
	if s.NodePath == "" {
		return ""
	}
	if _, err := os.Stat(s.NodePath); err == nil {
		return s.NodePath
	}
	if _, warned := r.warned.LoadOrStore(s.NodePath, struct{}{}); !warned {
		r.report.Warning(ctx, fmt.Sprintf(
			"The setting 'sasslint.nodePath' refers to '%s', but this path does not exist. The setting will be ignored.",
			s.NodePath))
	}
	return ""
}

// loadPath loads a module directory at most once. The first outcome,
// including a failure, is shared by every later caller.
func (r *Resolver) loadPath(ctx context.Context, modulePath string) (Linter, error) {
	result, _ := r.paths.LoadOrStore(modulePath, &loadResult{})
	result.once.Do(func() {
		result.linter, result.err = r.load(ctx, modulePath)
		if result.err != nil {
			result.err = &LoadError{Path: modulePath, Err: result.err}
		}
	})
	return result.linter, result.err
}

// Forget drops the document's entry. Loaded packages stay loaded.
func (r *Resolver) Forget(docURI protocol.DocumentURI) {
	r.documents.Delete(docURI)
}

// Close stops every loaded package and returns the first error.
func (r *Resolver) Close() error {
	var g errgroup.Group
	for _, result := range r.paths.Values() {
		if result.linter == nil {
			continue
		}
		g.Go(result.linter.Close)
	}
	err := g.Wait()
	r.paths.Clear()
	r.documents.Clear()
	return err
}
