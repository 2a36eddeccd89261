package lsp

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/sourcegraph/jsonrpc2"
)

type LSP struct {
	handler *Handler
	logger  *log.Logger
}

// New wraps handler in a server. A nil logger disables message tracing.
func New(handler *Handler, logger *log.Logger) *LSP {
	return &LSP{handler, logger}
}

// Start serves the protocol over stream. The returned channel is closed when
// the connection is.
func (l LSP) Start(ctx context.Context, stream io.ReadWriteCloser) <-chan struct{} {
	var opts []jsonrpc2.ConnOpt
	if l.logger != nil {
		opts = append(opts, jsonrpc2.LogMessages(l.logger))
	}
	return jsonrpc2.NewConn(
		ctx,
		jsonrpc2.NewBufferedStream(stream, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(l.handler.Handle),
		opts...,
	).DisconnectNotify()
}

// Stdio is the stream of a server spawned by the editor.
func Stdio() io.ReadWriteCloser {
	return stdrwc{}
}

type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (stdrwc) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}

	return os.Stdout.Close()
}
