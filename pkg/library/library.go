// Package library locates and loads the sass-lint package used to lint a
// document.
//
// Resolving a document to a package directory is cheap and repeated, so it is
// memoized per document. Loading a package directory starts a node process and
// is memoized per directory: a package installed once is loaded once no matter
// how many documents use it.
package library

import (
	"context"
	"errors"
)

const ModuleName = "sass-lint"

var (
	ErrLibraryNotFound = errors.New("sass-lint library not found")
	ErrNoGlobalPath    = errors.New("global package manager path not found")
)

// Message is a single result from the linter. Line and Column are one based;
// zero means the linter did not report a position.
type Message struct {
	Severity int    `json:"severity"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
	RuleID   string `json:"ruleId"`
}

// CompiledConfig is the part of the merged linter configuration this server
// interprets. Everything else is passed through to the linter untouched.
type CompiledConfig struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// Text is the document handed to the linter.
type Text struct {
	Text     string `json:"text"`
	Format   string `json:"format"`
	Filename string `json:"filename"`
}

// Options apply to a single linter call. Empty fields are omitted.
type Options struct {
	ConfigFile string
	// Dir is the working directory relative paths in the config resolve against.
	Dir string
}

// Linter is a loaded sass-lint package.
type Linter interface {
	Path() string
	Version() string
	Config(ctx context.Context, opts Options) (*CompiledConfig, error)
	Lint(ctx context.Context, text Text, opts Options) ([]Message, error)
	Close() error
}

// Loader loads the package found in the module directory.
type Loader func(ctx context.Context, modulePath string) (Linter, error)

// LoadError is a package that was found but could not be loaded. Its message
// is the loader's.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LintError is an error raised inside the linter.
type LintError struct {
	Message string
	Stack   string
}

func (e *LintError) Error() string {
	return e.Message
}

func (e *LintError) StackTrace() string {
	return e.Stack
}
