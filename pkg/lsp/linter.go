package lsp

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
	"github.com/lavigneer/sasslint-lsp/pkg/util"
)

type jobKind int

const (
	jobOpen jobKind = iota
	jobChange
	jobSave
	jobClose
	jobValidateAll
	jobRegister
)

func (k jobKind) String() string {
	switch k {
	case jobOpen:
		return "open"
	case jobChange:
		return "change"
	case jobSave:
		return "save"
	case jobClose:
		return "close"
	case jobValidateAll:
		return "validateAll"
	case jobRegister:
		return "register"
	}
	return "unknown"
}

type job struct {
	kind jobKind
	uri  protocol.DocumentURI
	seq  uint64
	// events holds the kinds of every document job this one superseded,
	// oldest first, ending with its own kind.
	events []jobKind
}

// key groups jobs that supersede each other. Only the newest pending job of
// a group runs; an empty key is never superseded.
func (j job) key() string {
	switch j.kind {
	case jobOpen, jobChange, jobSave, jobClose:
		return "doc:" + string(j.uri)
	case jobValidateAll:
		return "all"
	}
	return ""
}

// queue is an unbounded FIFO of jobs. push never blocks, so handlers running
// on the connection's read loop can always enqueue.
type queue struct {
	mu      sync.Mutex
	jobs    []job
	latest  map[string]uint64
	pending map[string][]jobKind
	seq     uint64
	closed  bool
	ready   chan struct{}
}

func newQueue() *queue {
	return &queue{
		latest:  make(map[string]uint64),
		pending: make(map[string][]jobKind),
		ready:   make(chan struct{}, 1),
	}
}

func (q *queue) push(j job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.seq++
	j.seq = q.seq
	if key := j.key(); key != "" {
		q.latest[key] = j.seq
		q.pending[key] = append(q.pending[key], j.kind)
	}
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// pop returns the next job that has not been superseded, waiting for one if
// needed. It returns false once the queue is closed and drained or ctx is done.
func (q *queue) pop(ctx context.Context) (job, bool) {
	for {
		q.mu.Lock()
		for len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs[0] = job{}
			q.jobs = q.jobs[1:]
			if key := j.key(); key != "" {
				if q.latest[key] != j.seq {
					continue
				}
				j.events = q.pending[key]
				delete(q.latest, key)
				delete(q.pending, key)
			}
			q.mu.Unlock()
			return j, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return job{}, false
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return job{}, false
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// linter runs queued jobs one at a time until the queue is closed.
func (h *Handler) linter() {
	defer close(h.done)
	for {
		j, ok := h.queue.pop(h.ctx)
		if !ok {
			return
		}
		h.run(h.ctx, j)
	}
}

func (h *Handler) enqueue(kind jobKind, docURI protocol.DocumentURI) {
	if !h.queue.push(job{kind: kind, uri: docURI}) {
		slog.Debug("Dropping job after shutdown", "job", kind.String(), "uri", docURI)
	}
}

func (h *Handler) run(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Lint job panicked", "job", j.kind.String(), "uri", j.uri, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	slog.Debug("Running job", "job", j.kind.String(), "uri", j.uri)

	switch j.kind {
	case jobOpen, jobChange, jobSave, jobClose:
		h.runDocument(ctx, j)
	case jobValidateAll:
		h.pipeline.ValidateAll(ctx, h.workspace.Documents())
	case jobRegister:
		h.register(ctx)
	}
}

type documentAction int

const (
	actionNone documentAction = iota
	actionValidate
	actionClear
)

// documentEffect is what one document event does under the given settings.
// Validation always reads the current text, so for a run of events only the
// newest one with an effect matters.
func documentEffect(kind jobKind, s *settings.Settings) documentAction {
	switch kind {
	case jobOpen:
		return actionValidate
	case jobChange:
		switch {
		case s == nil:
		case s.Run == settings.RunOnType:
			return actionValidate
		case s.Run == settings.RunOnSave:
			// The saved diagnostics no longer describe the text.
			return actionClear
		}
	case jobSave:
		if s != nil && s.Run == settings.RunOnSave {
			return actionValidate
		}
	case jobClose:
		return actionClear
	}
	return actionNone
}

func (h *Handler) runDocument(ctx context.Context, j job) {
	events := j.events
	if len(events) == 0 {
		events = []jobKind{j.kind}
	}

	var s *settings.Settings
	resolved := false
	action := actionNone
	for i := len(events) - 1; i >= 0 && action == actionNone; i-- {
		kind := events[i]
		if (kind == jobChange || kind == jobSave) && !resolved {
			s, resolved = h.runSettings(ctx, j.uri), true
		}
		action = documentEffect(kind, s)
	}

	if j.kind == jobClose {
		h.forget(j.uri)
	}
	switch action {
	case actionValidate:
		h.validate(ctx, j.uri)
	case actionClear:
		h.clear(ctx, j.uri)
	}
}

// forget drops the cached library and config entries of a closed document,
// which a validation running during the close may have repopulated.
func (h *Handler) forget(docURI protocol.DocumentURI) {
	if _, open := h.workspace.Document(docURI); open {
		return
	}
	h.libraries.Forget(docURI)
	if filename := util.Filename(docURI); filename != "" {
		h.locator.Forget(filename)
	}
}

func (h *Handler) validate(ctx context.Context, docURI protocol.DocumentURI) {
	doc, ok := h.workspace.Document(docURI)
	if !ok {
		slog.Debug("Skipping closed document", "uri", docURI)
		return
	}
	h.pipeline.Run(ctx, doc)
}

func (h *Handler) runSettings(ctx context.Context, docURI protocol.DocumentURI) *settings.Settings {
	if !util.IsFile(docURI) {
		return nil
	}
	s, err := h.settings.Resolve(ctx, string(docURI))
	if err != nil {
		slog.Warn("Settings could not be loaded", "uri", docURI, "error", err)
		return nil
	}
	return s
}

func (h *Handler) clear(ctx context.Context, docURI protocol.DocumentURI) {
	if !util.IsFile(docURI) {
		return
	}
	if err := h.client.PublishDiagnostics(ctx, docURI, 0, []protocol.Diagnostic{}); err != nil {
		slog.Error("Failed to clear diagnostics", "uri", docURI, "error", err)
	}
}
