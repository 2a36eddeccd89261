package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
)

// Config is the server side configuration. Settings are the defaults that
// every client supplied settings object is laid over.
type Config struct {
	Node     string            `yaml:"node"`
	Settings settings.Settings `yaml:"settings"`
}

const (
	ConfigFileName = "sasslint-lsp.yaml"
	DefaultNode    = "node"
)

var ErrUnreadableConfig = errors.New("config file is not readable")

// NewWithDefaults loads the server config at path. An empty path or a missing
// file yields the defaults.
func NewWithDefaults(path string) (*Config, error) {
	config := Config{
		Node:     DefaultNode,
		Settings: settings.Default(),
	}
	if path == "" {
		return &config, nil
	}

	f, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	err = yaml.Unmarshal(f, &config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if config.Node == "" {
		config.Node = DefaultNode
	}
	config.Settings.Normalize()
	return &config, nil
}

// CheckFile verifies that a lint config file can be read and parsed. Both
// recognized formats are YAML documents (JSON being a subset).
func CheckFile(path string) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreadableConfig, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(f, &doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnreadableConfig, path, err)
	}
	return nil
}
