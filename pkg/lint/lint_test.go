package lint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/config"
	"github.com/lavigneer/sasslint-lsp/pkg/library"
	"github.com/lavigneer/sasslint-lsp/pkg/scope"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
	"github.com/lavigneer/sasslint-lsp/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeDiagnostic(t *testing.T) {
	d := MakeDiagnostic(library.Message{Severity: 2, Line: 5, Column: 3, Message: "bad", RuleID: "no-ids"})
	assert.Equal(t, protocol.DiagnosticSeverityError, d.Severity)
	assert.Equal(t, util.PointRange(4, 2), d.Range)
	assert.Equal(t, uint32(3), d.Range.End.Character)
	assert.Equal(t, "bad", d.Message)
	assert.Equal(t, Source, d.Source)
	assert.Equal(t, "no-ids", d.Code)

	d = MakeDiagnostic(library.Message{Severity: 1})
	assert.Equal(t, protocol.DiagnosticSeverityWarning, d.Severity)
	assert.Equal(t, util.PointRange(0, 0), d.Range)
	assert.Equal(t, UnknownMessage, d.Message)
	assert.Nil(t, d.Code)

	d = MakeDiagnostic(library.Message{Severity: 7, Line: -1, Message: "odd"})
	assert.Equal(t, protocol.DiagnosticSeverityInformation, d.Severity)
	assert.Equal(t, uint32(0), d.Range.Start.Line)
}

type published struct {
	uri         protocol.DocumentURI
	diagnostics []protocol.Diagnostic
}

type fakeClient struct {
	mu        sync.Mutex
	published []published
	messages  []string
}

func (c *fakeClient) PublishDiagnostics(_ context.Context, docURI protocol.DocumentURI, _ int32, diagnostics []protocol.Diagnostic) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{uri: docURI, diagnostics: diagnostics})
	return nil
}

func (c *fakeClient) ShowMessage(_ context.Context, _ protocol.MessageType, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

type fakeLinter struct {
	config   library.CompiledConfig
	messages []library.Message
	err      error
	panics   bool

	mu    sync.Mutex
	lints int
	opts  []library.Options
}

func (f *fakeLinter) Path() string    { return "/fake/sass-lint" }
func (f *fakeLinter) Version() string { return "1.13.1" }

func (f *fakeLinter) Config(_ context.Context, opts library.Options) (*library.CompiledConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	return &f.config, nil
}

func (f *fakeLinter) Lint(context.Context, library.Text, library.Options) ([]library.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lints++
	if f.panics {
		panic("linter blew up")
	}
	return f.messages, f.err
}

func (f *fakeLinter) Close() error { return nil }

type fakeReporter struct {
	missing int
}

func (f *fakeReporter) LibraryMissing(context.Context, protocol.DocumentURI, settings.PackageManager) {
	f.missing++
}

func (f *fakeReporter) Warning(context.Context, string) {}

type fakeWatcher struct {
	err     error
	watched []string
}

func (w *fakeWatcher) Watch(path string) error {
	if w.err != nil {
		return w.err
	}
	w.watched = append(w.watched, path)
	return nil
}

func failingRunner(context.Context, string, ...string) ([]byte, error) {
	return nil, errors.New("no package manager")
}

type fixture struct {
	root     string
	client   *fakeClient
	linter   *fakeLinter
	reporter *fakeReporter
	watcher  *fakeWatcher
	global   *settings.Settings
	loadErr  error
	pipeline *Pipeline
}

func newFixture(t *testing.T, withLibrary bool) *fixture {
	t.Helper()
	root := t.TempDir()
	if withLibrary {
		pkg := filepath.Join(root, "node_modules", library.ModuleName)
		require.NoError(t, os.MkdirAll(pkg, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(pkg, "package.json"), []byte(`{}`), 0o644))
	}

	f := &fixture{
		root:   root,
		client: &fakeClient{},
		linter: &fakeLinter{
			config: library.CompiledConfig{Include: []string{"**/*.scss"}, Exclude: []string{"vendor/**"}},
			messages: []library.Message{
				{Severity: 2, Line: 5, Column: 3, Message: "bad", RuleID: "no-ids"},
			},
		},
		reporter: &fakeReporter{},
		watcher:  &fakeWatcher{},
	}
	global := settings.Default()
	global.WorkspaceFolderPath = root
	f.global = &global

	load := func(context.Context, string) (library.Linter, error) {
		if f.loadErr != nil {
			return nil, f.loadErr
		}
		return f.linter, nil
	}
	libraries := library.NewResolver(load, library.NewGlobalRoots(failingRunner), f.reporter)
	folders := scope.NewFolders([]protocol.WorkspaceFolder{{URI: string(util.FileURI(root)), Name: "root"}})
	f.pipeline = New(
		f.client,
		settings.NewResolver(nil, f.global),
		libraries,
		config.NewLocator(),
		folders,
		f.watcher,
	)
	return f
}

func (f *fixture) doc(rel string) Document {
	return Document{URI: util.FileURI(filepath.Join(f.root, filepath.FromSlash(rel))), Version: 1, Text: "#id { }"}
}

func TestValidatePublishesMappedDiagnostics(t *testing.T) {
	f := newFixture(t, true)
	doc := f.doc("src/x.scss")

	require.NoError(t, f.pipeline.Validate(context.Background(), doc))
	require.Len(t, f.client.published, 1)
	assert.Equal(t, doc.URI, f.client.published[0].uri)
	assert.Equal(t, []protocol.Diagnostic{MakeDiagnostic(f.linter.messages[0])}, f.client.published[0].diagnostics)
	assert.Equal(t, f.root, f.linter.opts[0].Dir)
	assert.Empty(t, f.linter.opts[0].ConfigFile)
}

func TestValidateIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	doc := f.doc("src/x.scss")
	ctx := context.Background()

	require.NoError(t, f.pipeline.Validate(ctx, doc))
	require.NoError(t, f.pipeline.Validate(ctx, doc))
	require.Len(t, f.client.published, 2)
	assert.Equal(t, f.client.published[0], f.client.published[1])
}

func TestValidateOutOfScopeNeverLints(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.pipeline.Validate(context.Background(), f.doc("vendor/x.scss")))
	require.Len(t, f.client.published, 1)
	assert.NotNil(t, f.client.published[0].diagnostics)
	assert.Empty(t, f.client.published[0].diagnostics)
	assert.Zero(t, f.linter.lints)
}

func TestValidateSkips(t *testing.T) {
	t.Run("non file document", func(t *testing.T) {
		f := newFixture(t, true)
		require.NoError(t, f.pipeline.Validate(context.Background(), Document{URI: "untitled:Untitled-1"}))
		assert.Empty(t, f.client.published)
		assert.Zero(t, f.linter.lints)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, true)
		f.global.Enable = false
		require.NoError(t, f.pipeline.Validate(context.Background(), f.doc("src/x.scss")))
		assert.Empty(t, f.client.published)
	})

	t.Run("library missing", func(t *testing.T) {
		f := newFixture(t, false)
		ctx := context.Background()
		require.NoError(t, f.pipeline.Validate(ctx, f.doc("src/x.scss")))
		require.NoError(t, f.pipeline.Validate(ctx, f.doc("src/x.scss")))
		assert.Empty(t, f.client.published)
		assert.Empty(t, f.client.messages)
		assert.Equal(t, 1, f.reporter.missing)
	})
}

func TestValidateUsesLocatedConfig(t *testing.T) {
	f := newFixture(t, true)
	configFile := filepath.Join(f.root, ".sass-lint.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("rules: {}\n"), 0o644))
	f.global.ResolvePathsRelativeToConfig = true

	require.NoError(t, f.pipeline.Validate(context.Background(), f.doc("src/deep/x.scss")))
	assert.Equal(t, configFile, f.linter.opts[0].ConfigFile)
	assert.Equal(t, 1, f.linter.lints)
}

func TestRunShowsLintErrors(t *testing.T) {
	f := newFixture(t, true)
	f.linter.err = &library.LintError{Message: "parse failure", Stack: "at lintText (index.js:1:1)"}
	doc := f.doc("src/x.scss")

	err := f.pipeline.Validate(context.Background(), doc)
	var lintErr *library.LintError
	require.ErrorAs(t, err, &lintErr)

	f.pipeline.Run(context.Background(), doc)
	require.Len(t, f.client.messages, 1)
	assert.Equal(t,
		"sasslint-lsp: 'parse failure' while validating: "+util.Filename(doc.URI)+" stacktrace: at lintText (index.js:1:1)",
		f.client.messages[0])
	assert.Empty(t, f.client.published)
}

func TestValidateRecoversPanics(t *testing.T) {
	f := newFixture(t, true)
	f.linter.panics = true

	err := f.pipeline.Validate(context.Background(), f.doc("src/x.scss"))
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "linter blew up", panicErr.Error())
	assert.NotEmpty(t, panicErr.StackTrace())
}

func TestValidateAllReportsOnceAfterBatch(t *testing.T) {
	f := newFixture(t, true)
	f.linter.err = errors.New("boom")
	docs := []Document{f.doc("a.scss"), f.doc("b.scss"), {URI: "untitled:Untitled-1"}}

	f.pipeline.ValidateAll(context.Background(), docs)
	require.Len(t, f.client.messages, 2)
	assert.Contains(t, f.client.messages[0], "a.scss")
	assert.Contains(t, f.client.messages[1], "b.scss")
	assert.Equal(t, 2, f.linter.lints)
}

func TestUnreadableExplicitConfigReportedOnce(t *testing.T) {
	f := newFixture(t, true)
	f.watcher.err = config.ErrUnreadableConfig
	f.global.ConfigFile = filepath.Join(f.root, "missing.yml")
	ctx := context.Background()

	require.NoError(t, f.pipeline.Validate(ctx, f.doc("src/x.scss")))
	require.NoError(t, f.pipeline.Validate(ctx, f.doc("src/y.scss")))
	require.Len(t, f.client.messages, 1)
	assert.Contains(t, f.client.messages[0], "missing.yml")
	assert.Empty(t, f.watcher.watched)
}

func TestExplicitConfigWatched(t *testing.T) {
	f := newFixture(t, true)
	f.global.ConfigFile = filepath.Join(f.root, "lint.yml")

	require.NoError(t, f.pipeline.Validate(context.Background(), f.doc("src/x.scss")))
	assert.Equal(t, []string{f.global.ConfigFile}, f.watcher.watched)
	assert.Equal(t, f.global.ConfigFile, f.linter.opts[0].ConfigFile, "explicit path is the fallback")
}

func TestLoadFailureShownOncePerPackage(t *testing.T) {
	f := newFixture(t, true)
	f.loadErr = errors.New("node: command not found")
	ctx := context.Background()

	f.pipeline.Run(ctx, f.doc("src/x.scss"))
	f.pipeline.Run(ctx, f.doc("src/x.scss"))
	f.pipeline.Run(ctx, f.doc("src/y.scss"))
	require.Len(t, f.client.messages, 1)
	assert.Contains(t, f.client.messages[0], "node: command not found")
	assert.Contains(t, f.client.messages[0], "x.scss")
	assert.Empty(t, f.client.published)
	assert.Zero(t, f.reporter.missing)
}
