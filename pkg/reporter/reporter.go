package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a-h/templ/lsp/protocol"
)

const Prefix = "sasslint-lsp"

// Messenger shows a message to the user.
type Messenger interface {
	ShowMessage(ctx context.Context, typ protocol.MessageType, message string) error
}

// StackTracer is implemented by errors that carry a stack trace, such as
// errors raised inside the linter or recovered panics.
type StackTracer interface {
	StackTrace() string
}

// FormatError renders a failure to validate the file at path.
func FormatError(err error, path string) string {
	message := "unknown error"
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	formatted := fmt.Sprintf("%s: '%s' while validating: %s", Prefix, message, path)
	var tracer StackTracer
	if errors.As(err, &tracer) && tracer.StackTrace() != "" {
		formatted += " stacktrace: " + tracer.StackTrace()
	}
	return formatted
}

// Tracker collects error messages from a batch so each distinct message is
// shown once when the batch is done.
type Tracker struct {
	mu       sync.Mutex
	messages []string
	seen     map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

func (t *Tracker) Add(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[message]; ok {
		return
	}
	t.seen[message] = struct{}{}
	t.messages = append(t.messages, message)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Send shows every collected message as an error and empties the tracker.
func (t *Tracker) Send(ctx context.Context, m Messenger) error {
	t.mu.Lock()
	messages := t.messages
	t.messages = nil
	t.seen = make(map[string]struct{})
	t.mu.Unlock()

	var errs []error
	for _, message := range messages {
		errs = append(errs, m.ShowMessage(ctx, protocol.MessageTypeError, message))
	}
	return errors.Join(errs...)
}

// Summary counts problems by severity.
type Summary struct {
	Errors   int
	Warnings int
	Infos    int
}

func (s Summary) Total() int {
	return s.Errors + s.Warnings + s.Infos
}

func (s Summary) String() string {
	return fmt.Sprintf("%d problems (%d errors, %d warnings)", s.Total(), s.Errors, s.Warnings)
}

func Summarize(diagnostics []protocol.Diagnostic) Summary {
	var s Summary
	for _, d := range diagnostics {
		switch d.Severity {
		case protocol.DiagnosticSeverityWarning:
			s.Warnings++
		case protocol.DiagnosticSeverityError:
			s.Errors++
		default:
			s.Infos++
		}
	}
	return s
}

// LogLevel is the log level matching a message shown to the user.
func LogLevel(t protocol.MessageType) slog.Level {
	switch t {
	case protocol.MessageTypeError:
		return slog.LevelError
	case protocol.MessageTypeWarning:
		return slog.LevelWarn
	case protocol.MessageTypeInfo:
		return slog.LevelInfo
	case protocol.MessageTypeLog:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
