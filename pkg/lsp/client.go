package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/reporter"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
	"github.com/sourcegraph/jsonrpc2"
)

// MethodNoLibrary tells the client that no sass-lint package could be found
// for a document.
const MethodNoLibrary = "sass-lint/noLibrary"

var ErrNotConnected = errors.New("no client connection")

type NoLibraryParams struct {
	Source         protocol.TextDocumentIdentifier `json:"source"`
	PackageManager settings.PackageManager         `json:"packageManager"`
	InstallCommand string                          `json:"installCommand"`
}

type configurationItem struct {
	ScopeURI string `json:"scopeUri,omitempty"`
	Section  string `json:"section"`
}

type configurationParams struct {
	Items []configurationItem `json:"items"`
}

type registration struct {
	ID              string `json:"id"`
	Method          string `json:"method"`
	RegisterOptions any    `json:"registerOptions,omitempty"`
}

type registrationParams struct {
	Registrations []registration `json:"registrations"`
}

type fileSystemWatcher struct {
	GlobPattern string `json:"globPattern"`
}

type watchedFilesRegistrationOptions struct {
	Watchers []fileSystemWatcher `json:"watchers"`
}

// Client sends requests and notifications to the editor.
type Client struct {
	conn atomic.Pointer[jsonrpc2.Conn]
}

func (c *Client) connection() (*jsonrpc2.Conn, error) {
	conn := c.conn.Load()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func (c *Client) PublishDiagnostics(ctx context.Context, docURI protocol.DocumentURI, version int32, diagnostics []protocol.Diagnostic) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if diagnostics == nil {
		diagnostics = []protocol.Diagnostic{}
	}
	return conn.Notify(ctx, protocol.MethodTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI: docURI,
		//nolint:gosec
		Version:     uint32(version),
		Diagnostics: diagnostics,
	})
}

func (c *Client) ShowMessage(ctx context.Context, typ protocol.MessageType, message string) error {
	slog.Log(ctx, reporter.LogLevel(typ), "Showing message", "message", message)
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.Notify(ctx, protocol.MethodWindowShowMessage, &protocol.ShowMessageParams{
		Type:    typ,
		Message: message,
	})
}

// Configuration pulls the settings section for a scope.
func (c *Client) Configuration(ctx context.Context, scopeURI string) (json.RawMessage, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	var result []json.RawMessage
	err = conn.Call(ctx, protocol.MethodWorkspaceConfiguration, configurationParams{
		Items: []configurationItem{{ScopeURI: scopeURI, Section: settings.Section}},
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result[0], nil
}

func (c *Client) RegisterCapability(ctx context.Context, registrations ...registration) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	var result any
	return conn.Call(ctx, protocol.MethodClientRegisterCapability, registrationParams{Registrations: registrations}, &result)
}

// LibraryMissing implements library.Reporter.
func (c *Client) LibraryMissing(ctx context.Context, docURI protocol.DocumentURI, pm settings.PackageManager) {
	slog.Warn("sass-lint library not found", "uri", docURI, "packageManager", pm)
	conn, err := c.connection()
	if err != nil {
		return
	}
	err = conn.Notify(ctx, MethodNoLibrary, &NoLibraryParams{
		Source:         protocol.TextDocumentIdentifier{URI: docURI},
		PackageManager: pm,
		InstallCommand: pm.InstallCommand(),
	})
	if err != nil {
		slog.Error("Failed to notify missing library", "uri", docURI, "error", err)
	}
}

// Warning implements library.Reporter.
func (c *Client) Warning(ctx context.Context, message string) {
	if err := c.ShowMessage(ctx, protocol.MessageTypeWarning, message); err != nil {
		slog.Error("Failed to show warning", "error", err)
	}
}
