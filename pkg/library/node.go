package library

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/tidwall/gjson"
)

//go:embed bridge.js
var bridgeScript string

type bridgeRequest struct {
	ID         int    `json:"id"`
	Op         string `json:"op"`
	Text       *Text  `json:"text,omitempty"`
	ConfigFile string `json:"configFile,omitempty"`
	Dir        string `json:"dir,omitempty"`
}

// nodeLinter is a node process that has required the package once and
// answers one request per line. Calls are serialized.
type nodeLinter struct {
	path    string
	version string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	nextID int
}

// NewNodeLoader returns a Loader running packages with the given node binary.
func NewNodeLoader(node string) Loader {
	return func(ctx context.Context, modulePath string) (Linter, error) {
		return startNode(ctx, node, modulePath)
	}
}

func startNode(ctx context.Context, node, modulePath string) (*nodeLinter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The process outlives the request that loaded it, so it is not bound to ctx.
	cmd := exec.Command(node, "-e", bridgeScript, modulePath)
	cmd.Stderr = &stderrLog{path: modulePath}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", node, err)
	}

	l := &nodeLinter{
		path:   modulePath,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}
	reply, err := l.read(0)
	if err == nil && !reply.Get("ready").Bool() {
		err = fmt.Errorf("unexpected handshake from %s", modulePath)
	}
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("loading %s: %w", modulePath, err)
	}
	l.version = reply.Get("version").String()
	slog.Info("sass-lint library loaded", "path", modulePath, "version", l.version)
	return l, nil
}

func (l *nodeLinter) Path() string {
	return l.path
}

func (l *nodeLinter) Version() string {
	return l.version
}

func (l *nodeLinter) Config(ctx context.Context, opts Options) (*CompiledConfig, error) {
	reply, err := l.call(ctx, bridgeRequest{Op: "config", ConfigFile: opts.ConfigFile, Dir: opts.Dir})
	if err != nil {
		return nil, err
	}
	var config CompiledConfig
	if err := json.Unmarshal([]byte(reply.Get("config").Raw), &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (l *nodeLinter) Lint(ctx context.Context, text Text, opts Options) ([]Message, error) {
	reply, err := l.call(ctx, bridgeRequest{Op: "lint", Text: &text, ConfigFile: opts.ConfigFile, Dir: opts.Dir})
	if err != nil {
		return nil, err
	}
	messages := []Message{}
	raw := reply.Get("messages")
	if !raw.Exists() {
		return messages, nil
	}
	if err := json.Unmarshal([]byte(raw.Raw), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (l *nodeLinter) call(ctx context.Context, req bridgeRequest) (gjson.Result, error) {
	if err := ctx.Err(); err != nil {
		return gjson.Result{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	req.ID = l.nextID
	b, err := json.Marshal(req)
	if err != nil {
		return gjson.Result{}, err
	}
	if _, err := l.stdin.Write(append(b, '\n')); err != nil {
		return gjson.Result{}, fmt.Errorf("writing to %s: %w", l.path, err)
	}
	return l.read(req.ID)
}

// read returns the reply for id, skipping anything else on stdout.
func (l *nodeLinter) read(id int) (gjson.Result, error) {
	for {
		line, err := l.stdout.ReadBytes('\n')
		if err != nil {
			return gjson.Result{}, fmt.Errorf("reading from %s: %w", l.path, err)
		}
		if !gjson.ValidBytes(line) {
			continue
		}
		reply := gjson.ParseBytes(line)
		if reply.Get("id").Int() != int64(id) {
			continue
		}
		if e := reply.Get("error"); e.Exists() {
			return reply, &LintError{Message: e.Get("message").String(), Stack: e.Get("stack").String()}
		}
		return reply, nil
	}
}

func (l *nodeLinter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.stdin.Close()
	err := l.cmd.Wait()
	if err != nil {
		slog.Debug("sass-lint process exited", "path", l.path, "error", err)
	}
	return nil
}

type stderrLog struct {
	path string
}

func (s *stderrLog) Write(p []byte) (int, error) {
	slog.Debug("sass-lint output", "path", s.path, "output", string(p))
	return len(p), nil
}
