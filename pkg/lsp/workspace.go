package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/lint"
	"github.com/lavigneer/sasslint-lsp/pkg/scope"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/tidwall/gjson"
)

var ErrDocumentNotFound = errors.New("document not found")

// Workspace holds the open documents and the workspace folders.
type Workspace struct {
	Folders *scope.Folders

	mu            sync.RWMutex
	textDocuments map[protocol.DocumentURI]*lint.Document
}

func NewWorkspace() *Workspace {
	return &Workspace{
		Folders:       scope.NewFolders(nil),
		textDocuments: make(map[protocol.DocumentURI]*lint.Document),
	}
}

func (w *Workspace) AddDocument(doc protocol.TextDocumentItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.textDocuments[doc.URI] = &lint.Document{
		URI:     doc.URI,
		Version: doc.Version,
		Text:    doc.Text,
	}
}

// UpdateDocument applies full text changes. Changes older than the stored
// version are dropped.
func (w *Workspace) UpdateDocument(docID protocol.VersionedTextDocumentIdentifier, changes []protocol.TextDocumentContentChangeEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.textDocuments[docID.URI]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID.URI)
	}
	if docID.Version < doc.Version {
		slog.Debug("Dropping stale change", "uri", docID.URI, "version", docID.Version, "current", doc.Version)
		return nil
	}
	if len(changes) == 0 {
		return nil
	}
	doc.Version = docID.Version
	doc.Text = changes[len(changes)-1].Text
	return nil
}

// SaveDocument replaces the text when the client sent it with the save.
func (w *Workspace) SaveDocument(docURI protocol.DocumentURI, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.textDocuments[docURI]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docURI)
	}
	if text != "" {
		doc.Text = text
	}
	return nil
}

func (w *Workspace) RemoveDocument(docURI protocol.DocumentURI) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.textDocuments[docURI]
	delete(w.textDocuments, docURI)
	return ok
}

// Document returns a snapshot of an open document.
func (w *Workspace) Document(docURI protocol.DocumentURI) (lint.Document, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc, ok := w.textDocuments[docURI]
	if !ok {
		return lint.Document{}, false
	}
	return *doc, true
}

// Documents returns snapshots of every open document ordered by URI.
func (w *Workspace) Documents() []lint.Document {
	w.mu.RLock()
	defer w.mu.RUnlock()
	docs := make([]lint.Document, 0, len(w.textDocuments))
	for _, doc := range w.textDocuments {
		docs = append(docs, *doc)
	}
	slices.SortFunc(docs, func(a, b lint.Document) int {
		return strings.Compare(string(a.URI), string(b.URI))
	})
	return docs
}

// Settings changes replace the pushed snapshot and invalidate everything
// derived from settings before every open document is validated again.
func (h *Handler) handleWorkspaceDidChangeConfiguration(_ context.Context, req *jsonrpc2.Request) error {
	s := h.config.Settings
	if req.Params != nil {
		if raw := gjson.GetBytes(*req.Params, "settings."+settings.Section); raw.Exists() {
			decoded, err := settings.Decode(h.config.Settings, json.RawMessage(raw.Raw))
			if err != nil {
				return err
			}
			if decoded != nil {
				s = *decoded
			}
		}
	}
	h.applyTrace(&s)
	h.settings.SetGlobal(&s)
	h.locator.Clear()
	h.settings.Flush()
	h.enqueue(jobValidateAll, "")
	return nil
}

func (h *Handler) handleWorkspaceDidChangeWatchedFiles(_ context.Context, req *jsonrpc2.Request) error {
	if req.Params != nil {
		slog.Debug("Watched files changed", "changes", gjson.GetBytes(*req.Params, "changes.#").Int())
	}
	h.locator.Clear()
	h.enqueue(jobValidateAll, "")
	return nil
}

func (h *Handler) handleWorkspaceDidChangeWorkspaceFolders(_ context.Context, req *jsonrpc2.Request) error {
	var params protocol.DidChangeWorkspaceFoldersParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	h.workspace.Folders.Change(params.Event.Added, params.Event.Removed)
	slog.Debug("Workspace folders changed", "workspaceFolders", h.workspace.Folders.List())
	return nil
}

// configFileChanged is called by the watcher of explicitly configured config
// files.
func (h *Handler) configFileChanged(path string) {
	slog.Debug("Explicit config file changed", "path", path)
	h.locator.Clear()
	h.enqueue(jobValidateAll, "")
}
