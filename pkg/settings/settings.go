package settings

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
)

// Section is the configuration section requested from and pushed by the client.
const Section = "sasslint"

type Run string

const (
	RunOnSave Run = "onSave"
	RunOnType Run = "onType"
)

type PackageManager string

const (
	NPM  PackageManager = "npm"
	Yarn PackageManager = "yarn"
)

// InstallCommand is the command suggested to users when no library is found.
func (p PackageManager) InstallCommand() string {
	if p == Yarn {
		return "yarn add sass-lint"
	}
	return "npm install sass-lint"
}

type Trace string

const (
	TraceOff      Trace = "off"
	TraceMessages Trace = "messages"
	TraceVerbose  Trace = "verbose"
)

func (t Trace) Level() slog.Level {
	switch t {
	case TraceVerbose:
		return slog.LevelDebug
	case TraceMessages:
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

type PathMode int

const (
	RelativeToWorkspaceRoot PathMode = iota
	RelativeToConfig
)

type Settings struct {
	Enable                       bool           `json:"enable" yaml:"enable"`
	ConfigFile                   string         `json:"configFile,omitempty" yaml:"configFile"`
	ResolvePathsRelativeToConfig bool           `json:"resolvePathsRelativeToConfig" yaml:"resolvePathsRelativeToConfig"`
	Run                          Run            `json:"run" yaml:"run"`
	PackageManager               PackageManager `json:"packageManager" yaml:"packageManager"`
	NodePath                     string         `json:"nodePath,omitempty" yaml:"nodePath"`
	Trace                        Trace          `json:"trace" yaml:"trace"`
	// WorkspaceFolderPath is filled in by the client for the folder owning the scope.
	WorkspaceFolderPath string `json:"workspaceFolderPath,omitempty" yaml:"-"`
}

func Default() Settings {
	return Settings{
		Enable:         true,
		Run:            RunOnType,
		PackageManager: NPM,
		Trace:          TraceOff,
	}
}

func (s *Settings) PathMode() PathMode {
	if s.ResolvePathsRelativeToConfig {
		return RelativeToConfig
	}
	return RelativeToWorkspaceRoot
}

// Decode overlays a client supplied settings object on base. A JSON null
// yields nil, meaning the client has no settings for the scope.
func Decode(base Settings, raw json.RawMessage) (*Settings, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	s := base
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s.normalize(base)
	return &s, nil
}

// Normalize replaces unknown enum values with the defaults.
func (s *Settings) Normalize() {
	s.normalize(Default())
}

func (s *Settings) normalize(base Settings) {
	if s.Run != RunOnSave && s.Run != RunOnType {
		s.Run = base.Run
	}
	if s.PackageManager != NPM && s.PackageManager != Yarn {
		s.PackageManager = base.PackageManager
	}
	switch s.Trace {
	case TraceOff, TraceMessages, TraceVerbose:
	default:
		s.Trace = base.Trace
	}
	s.resolvePaths()
}

// InFolder returns a copy for a scope owned by the workspace folder at dir,
// with relative paths resolved against it.
func (s Settings) InFolder(dir string) *Settings {
	s.WorkspaceFolderPath = dir
	s.resolvePaths()
	return &s
}

func (s *Settings) resolvePaths() {
	if s.WorkspaceFolderPath == "" {
		return
	}
	if s.ConfigFile != "" && !filepath.IsAbs(s.ConfigFile) {
		s.ConfigFile = filepath.Join(s.WorkspaceFolderPath, s.ConfigFile)
	}
	if s.NodePath != "" && !filepath.IsAbs(s.NodePath) {
		s.NodePath = filepath.Join(s.WorkspaceFolderPath, s.NodePath)
	}
}
