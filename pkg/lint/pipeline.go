// Package lint runs the linter over documents and publishes the results.
package lint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/cache"
	"github.com/lavigneer/sasslint-lsp/pkg/config"
	"github.com/lavigneer/sasslint-lsp/pkg/library"
	"github.com/lavigneer/sasslint-lsp/pkg/reporter"
	"github.com/lavigneer/sasslint-lsp/pkg/scope"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
	"github.com/lavigneer/sasslint-lsp/pkg/util"
)

// Document is the snapshot of an open document being validated.
type Document struct {
	URI     protocol.DocumentURI
	Version int32
	Text    string
}

// Client receives the results of a validation.
type Client interface {
	PublishDiagnostics(ctx context.Context, docURI protocol.DocumentURI, version int32, diagnostics []protocol.Diagnostic) error
	reporter.Messenger
}

// ConfigWatcher installs watches on explicitly configured config files.
type ConfigWatcher interface {
	Watch(path string) error
}

// PanicError is a panic recovered while validating a document.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprint(e.Value)
}

func (e *PanicError) StackTrace() string {
	return e.Stack
}

type Pipeline struct {
	client    Client
	settings  *settings.Resolver
	libraries *library.Resolver
	locator   *config.Locator
	folders   *scope.Folders
	watcher   ConfigWatcher

	reported *cache.Map[string, struct{}]
}

// New creates a pipeline. The watcher may be nil, in which case explicit
// config files are not watched.
func New(
	client Client,
	settings *settings.Resolver,
	libraries *library.Resolver,
	locator *config.Locator,
	folders *scope.Folders,
	watcher ConfigWatcher,
) *Pipeline {
	return &Pipeline{
		client:    client,
		settings:  settings,
		libraries: libraries,
		locator:   locator,
		folders:   folders,
		watcher:   watcher,
		reported:  cache.NewMap[string, struct{}](),
	}
}

// Run validates one document and shows a failure to the user right away.
func (p *Pipeline) Run(ctx context.Context, doc Document) {
	if err := p.Validate(ctx, doc); err != nil {
		p.showError(ctx, reporter.FormatError(err, util.Filename(doc.URI)))
	}
}

// ValidateAll validates every document and shows the failures once, after
// the whole batch.
func (p *Pipeline) ValidateAll(ctx context.Context, docs []Document) {
	tracker := reporter.NewTracker()
	for _, doc := range docs {
		if err := p.Validate(ctx, doc); err != nil {
			tracker.Add(reporter.FormatError(err, util.Filename(doc.URI)))
		}
	}
	if err := tracker.Send(ctx, p.client); err != nil {
		slog.Error("Failed to show validation errors", "error", err)
	}
}

// Validate lints a document and publishes its diagnostics. Documents that are
// not files, documents without settings or with linting disabled, and
// documents without a library publish nothing. A library that fails to load
// is returned as an error for the first document only. An out of scope
// document publishes an empty set without calling the linter.
func (p *Pipeline) Validate(ctx context.Context, doc Document) error {
	slog.Debug("Validating document", "uri", doc.URI)
	if !util.IsFile(doc.URI) {
		slog.Debug("No linting: document is not saved on disk", "uri", doc.URI)
		return nil
	}

	s, err := p.settings.Resolve(ctx, string(doc.URI))
	if err != nil {
		slog.Warn("No linting: settings could not be loaded", "uri", doc.URI, "error", err)
		return nil
	}
	if s == nil || !s.Enable {
		slog.Debug("No linting: disabled", "uri", doc.URI)
		return nil
	}

	linter, err := p.libraries.Resolve(ctx, doc.URI, s)
	if errors.Is(err, library.ErrLibraryNotFound) {
		slog.Debug("No linting: library not found", "uri", doc.URI)
		return nil
	}
	var loadErr *library.LoadError
	if errors.As(err, &loadErr) {
		if _, reported := p.reported.LoadOrStore("load:"+loadErr.Path, struct{}{}); reported {
			slog.Debug("No linting: library failed to load", "uri", doc.URI, "path", loadErr.Path)
			return nil
		}
	}
	if err != nil {
		return err
	}

	diagnostics, err := p.diagnose(ctx, doc, s, linter)
	if err != nil {
		return err
	}
	slog.Debug("Publishing diagnostics", "uri", doc.URI, "summary", reporter.Summarize(diagnostics).String())
	return p.client.PublishDiagnostics(ctx, doc.URI, doc.Version, diagnostics)
}

func (p *Pipeline) diagnose(ctx context.Context, doc Document, s *settings.Settings, linter library.Linter) (diagnostics []protocol.Diagnostic, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()

	filePath := util.Filename(doc.URI)
	p.watchConfig(ctx, s.ConfigFile)

	location := p.locator.Locate(filePath, s.ConfigFile)
	slog.Debug("Config file", "uri", doc.URI, "path", location.Path)
	opts := library.Options{ConfigFile: location.Path, Dir: s.WorkspaceFolderPath}

	compiled, err := linter.Config(ctx, opts)
	if err != nil {
		return nil, err
	}

	relativePath := scope.RelativePath(s.PathMode(), location.Path, filePath, p.folders)
	slog.Debug("Scope check", "path", filePath, "relativePath", relativePath)
	diagnostics = []protocol.Diagnostic{}
	if !scope.InScope(relativePath, compiled.Include, compiled.Exclude) {
		slog.Debug("No linting: file is excluded", "relativePath", relativePath)
		return diagnostics, nil
	}

	messages, err := linter.Lint(ctx, library.Text{
		Text:     doc.Text,
		Format:   strings.TrimPrefix(filepath.Ext(filePath), "."),
		Filename: filePath,
	}, opts)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		diagnostics = append(diagnostics, MakeDiagnostic(msg))
	}
	return diagnostics, nil
}

// watchConfig watches the explicitly configured config file. A file that
// cannot be read is reported once per path and not watched.
func (p *Pipeline) watchConfig(ctx context.Context, path string) {
	if path == "" || p.watcher == nil {
		return
	}
	err := p.watcher.Watch(path)
	if err == nil {
		return
	}
	slog.Warn("Config file is not watched", "path", path, "error", err)
	if _, reported := p.reported.LoadOrStore(path, struct{}{}); !reported {
		p.showError(ctx, fmt.Sprintf("%s: config file '%s' could not be read: %v", reporter.Prefix, path, err))
	}
}

func (p *Pipeline) showError(ctx context.Context, message string) {
	slog.Error("Validation failed", "message", message)
	if err := p.client.ShowMessage(ctx, protocol.MessageTypeError, message); err != nil {
		slog.Error("Failed to show message", "error", err)
	}
}
