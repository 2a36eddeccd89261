package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/config"
	"github.com/lavigneer/sasslint-lsp/pkg/library"
	"github.com/lavigneer/sasslint-lsp/pkg/lint"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
	"github.com/lavigneer/sasslint-lsp/pkg/util"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/tidwall/gjson"
)

var ErrMissingParams = errors.New("missing params")

func decodeParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return fmt.Errorf("%w: %s", ErrMissingParams, req.Method)
	}
	return json.Unmarshal(*req.Params, v)
}

// Options configure a Handler. Zero values select the defaults.
type Options struct {
	Config *config.Config
	// Level is moved by the trace setting. It is never raised above its
	// starting level.
	Level  *slog.LevelVar
	Loader library.Loader
	Runner library.CommandRunner
}

type clientCapabilities struct {
	configuration    bool
	workspaceFolders bool
	watchedFiles     bool
}

type Handler struct {
	client    *Client
	config    *config.Config
	level     *slog.LevelVar
	baseLevel slog.Level

	workspace *Workspace
	settings  *settings.Resolver
	libraries *library.Resolver
	locator   *config.Locator
	watcher   *config.Watcher
	pipeline  *lint.Pipeline
	queue     *queue

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error

	mu           sync.Mutex
	capabilities clientCapabilities
	shutdown     bool
}

func NewHandler(opts Options) *Handler {
	cfg := opts.Config
	if cfg == nil {
		cfg, _ = config.NewWithDefaults("")
	}
	loader := opts.Loader
	if loader == nil {
		loader = library.NewNodeLoader(cfg.Node)
	}
	global := cfg.Settings

	h := &Handler{
		client:    &Client{},
		config:    cfg,
		level:     opts.Level,
		workspace: NewWorkspace(),
		locator:   config.NewLocator(),
		queue:     newQueue(),
		done:      make(chan struct{}),
	}
	if h.level != nil {
		h.baseLevel = h.level.Level()
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.settings = settings.NewResolver(h.fetchSettings, &global)
	h.settings.SetFolders(h.folderPath)
	h.libraries = library.NewResolver(loader, library.NewGlobalRoots(opts.Runner), h.client)

	var watcher lint.ConfigWatcher
	w, err := config.NewWatcher(h.configFileChanged)
	if err != nil {
		slog.Warn("Config files will not be watched", "error", err)
	} else {
		h.watcher = w
		watcher = w
		go w.Start(h.ctx)
	}
	h.pipeline = lint.New(h.client, h.settings, h.libraries, h.locator, h.workspace.Folders, watcher)

	go h.linter()
	return h
}

// Handle serves one message; it is wrapped with jsonrpc2.HandlerWithError.
//
//nolint:nilnil
func (h *Handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	slog.Debug("Handling request", "method", req.Method)
	h.client.conn.Store(conn)

	if h.isShutdown() && req.Method != protocol.MethodExit {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidRequest,
			Message: fmt.Sprintf("server is shut down: %s", req.Method),
		}
	}

	switch req.Method {
	case protocol.MethodInitialize:
		return h.handleInitialize(ctx, req)
	case protocol.MethodInitialized:
		return nil, h.handleInitialized(ctx, req)
	case protocol.MethodShutdown:
		return nil, h.handleShutdown(ctx, req)
	case protocol.MethodExit:
		return nil, h.handleExit(ctx, conn)
	case protocol.MethodTextDocumentDidOpen:
		return nil, h.handleTextDocumentDidOpen(ctx, req)
	case protocol.MethodTextDocumentDidClose:
		return nil, h.handleTextDocumentDidClose(ctx, req)
	case protocol.MethodTextDocumentDidChange:
		return nil, h.handleTextDocumentDidChange(ctx, req)
	case protocol.MethodTextDocumentDidSave:
		return nil, h.handleTextDocumentDidSave(ctx, req)
	case protocol.MethodWorkspaceDidChangeConfiguration:
		return nil, h.handleWorkspaceDidChangeConfiguration(ctx, req)
	case protocol.MethodWorkspaceDidChangeWatchedFiles:
		return nil, h.handleWorkspaceDidChangeWatchedFiles(ctx, req)
	case protocol.MethodWorkspaceDidChangeWorkspaceFolders:
		return nil, h.handleWorkspaceDidChangeWorkspaceFolders(ctx, req)
	}
	if req.Notif && strings.HasPrefix(req.Method, "$/") {
		return nil, nil
	}
	return nil, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: fmt.Sprintf("method not supported: %s", req.Method),
	}
}

func (h *Handler) handleInitialize(_ context.Context, req *jsonrpc2.Request) (any, error) {
	var params protocol.InitializeParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}

	folders := params.WorkspaceFolders
	if rootURI := gjson.GetBytes(*req.Params, "rootUri").String(); len(folders) == 0 && rootURI != "" {
		folders = []protocol.WorkspaceFolder{{URI: rootURI, Name: path.Base(rootURI)}}
	}
	h.workspace.Folders.Change(folders, nil)

	caps := clientCapabilities{
		configuration:    gjson.GetBytes(*req.Params, "capabilities.workspace.configuration").Bool(),
		workspaceFolders: gjson.GetBytes(*req.Params, "capabilities.workspace.workspaceFolders").Bool(),
		watchedFiles:     gjson.GetBytes(*req.Params, "capabilities.workspace.didChangeWatchedFiles.dynamicRegistration").Bool(),
	}
	h.mu.Lock()
	h.capabilities = caps
	h.mu.Unlock()
	h.settings.SetPull(caps.configuration)

	slog.Info("Initialized",
		"workspaceFolders", h.workspace.Folders.List(),
		"pullConfiguration", caps.configuration,
		"workspaceFolderEvents", caps.workspaceFolders)

	return protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				Change:    protocol.TextDocumentSyncKindFull,
				OpenClose: true,
				Save:      &protocol.SaveOptions{IncludeText: true},
			},
		},
	}, nil
}

func (h *Handler) handleInitialized(_ context.Context, _ *jsonrpc2.Request) error {
	h.mu.Lock()
	caps := h.capabilities
	h.mu.Unlock()
	if caps.watchedFiles || caps.workspaceFolders {
		h.enqueue(jobRegister, "")
	}
	return nil
}

// register asks the client for the notifications the server relies on.
func (h *Handler) register(ctx context.Context) {
	h.mu.Lock()
	caps := h.capabilities
	h.mu.Unlock()

	var registrations []registration
	if caps.watchedFiles {
		watchers := make([]fileSystemWatcher, 0, len(config.FileNames))
		for _, name := range config.FileNames {
			watchers = append(watchers, fileSystemWatcher{GlobPattern: "**/" + name})
		}
		registrations = append(registrations, registration{
			ID:              "sasslint-config-files",
			Method:          protocol.MethodWorkspaceDidChangeWatchedFiles,
			RegisterOptions: watchedFilesRegistrationOptions{Watchers: watchers},
		})
	}
	if caps.workspaceFolders {
		registrations = append(registrations, registration{
			ID:     "sasslint-workspace-folders",
			Method: protocol.MethodWorkspaceDidChangeWorkspaceFolders,
		})
	}
	if err := h.client.RegisterCapability(ctx, registrations...); err != nil {
		slog.Warn("Failed to register capabilities", "error", err)
	}
}

func (h *Handler) handleShutdown(_ context.Context, _ *jsonrpc2.Request) error {
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()
	return h.Close()
}

func (h *Handler) handleExit(_ context.Context, conn *jsonrpc2.Conn) error {
	return errors.Join(h.Close(), conn.Close())
}

func (h *Handler) isShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdown
}

// Close stops the job worker, the config watcher and every loaded library.
// It is safe to call more than once.
func (h *Handler) Close() error {
	h.stopOnce.Do(func() {
		h.queue.close()
		h.cancel()
		<-h.done
		var errs []error
		if h.watcher != nil {
			errs = append(errs, h.watcher.Close())
		}
		errs = append(errs, h.libraries.Close())
		h.stopErr = errors.Join(errs...)
	})
	return h.stopErr
}

// fetchSettings pulls the settings for a scope, laid over the server's
// defaults. The owning folder fills in the workspace folder path when the
// client does not send one.
func (h *Handler) fetchSettings(ctx context.Context, scopeURI string) (*settings.Settings, error) {
	raw, err := h.client.Configuration(ctx, scopeURI)
	if err != nil {
		return nil, err
	}
	base := h.config.Settings
	base.WorkspaceFolderPath = h.folderPath(scopeURI)
	s, err := settings.Decode(base, raw)
	if err != nil {
		return nil, err
	}
	h.applyTrace(s)
	return s, nil
}

// folderPath returns the path of the workspace folder owning a scope.
func (h *Handler) folderPath(scopeURI string) string {
	folder, ok := h.workspace.Folders.Owner(util.Filename(protocol.DocumentURI(scopeURI)))
	if !ok {
		return ""
	}
	return util.FolderPath(folder.URI)
}

func (h *Handler) applyTrace(s *settings.Settings) {
	if h.level == nil || s == nil {
		return
	}
	level := h.baseLevel
	if traceLevel := s.Trace.Level(); traceLevel < level {
		level = traceLevel
	}
	h.level.Set(level)
}
