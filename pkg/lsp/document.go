package lsp

import (
	"context"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/util"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *Handler) handleTextDocumentDidOpen(_ context.Context, req *jsonrpc2.Request) error {
	var params protocol.DidOpenTextDocumentParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	h.workspace.AddDocument(params.TextDocument)
	h.enqueue(jobOpen, params.TextDocument.URI)
	return nil
}

func (h *Handler) handleTextDocumentDidChange(_ context.Context, req *jsonrpc2.Request) error {
	var params protocol.DidChangeTextDocumentParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	if err := h.workspace.UpdateDocument(params.TextDocument, params.ContentChanges); err != nil {
		return err
	}
	h.enqueue(jobChange, params.TextDocument.URI)
	return nil
}

func (h *Handler) handleTextDocumentDidSave(_ context.Context, req *jsonrpc2.Request) error {
	var params protocol.DidSaveTextDocumentParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	if err := h.workspace.SaveDocument(params.TextDocument.URI, params.Text); err != nil {
		return err
	}
	h.enqueue(jobSave, params.TextDocument.URI)
	return nil
}

// The document's library and config entries are dropped right away and again
// by the worker once any running validation is done; the
// empty diagnostics are published by the worker after any pending job.
func (h *Handler) handleTextDocumentDidClose(_ context.Context, req *jsonrpc2.Request) error {
	var params protocol.DidCloseTextDocumentParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	docURI := params.TextDocument.URI
	h.workspace.RemoveDocument(docURI)
	h.libraries.Forget(docURI)
	if filename := util.Filename(docURI); filename != "" {
		h.locator.Forget(filename)
	}
	h.enqueue(jobClose, docURI)
	return nil
}
