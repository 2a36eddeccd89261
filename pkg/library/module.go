package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lavigneer/sasslint-lsp/pkg/cache"
	"github.com/lavigneer/sasslint-lsp/pkg/settings"
)

// ResolveModule finds the directory of package name the way node's module
// lookup would: node_modules of dir and each of its ancestors, then globalRoot.
// Either dir or globalRoot may be empty.
func ResolveModule(name, globalRoot, dir string) (string, error) {
	if dir != "" {
		if p, err := findModuleDir(name, dir); err == nil {
			return p, nil
		}
	}
	if globalRoot != "" {
		candidate := filepath.Join(globalRoot, name)
		if isPackage(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: searched from %q with global path %q", ErrLibraryNotFound, dir, globalRoot)
}

func findModuleDir(name, currentPath string) (string, error) {
	candidate := filepath.Join(currentPath, "node_modules", name)
	if isPackage(candidate) {
		return candidate, nil
	}
	parentDir := filepath.Dir(currentPath)
	if parentDir == currentPath {
		return "", ErrLibraryNotFound
	}
	return findModuleDir(name, parentDir)
}

func isPackage(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "package.json"))
	return err == nil && !info.IsDir()
}

// CommandRunner runs a command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// GlobalRoots memoizes the global install directory of each package manager.
// A failed lookup is memoized too, as an empty path.
type GlobalRoots struct {
	run   CommandRunner
	roots *cache.Map[settings.PackageManager, string]
}

func NewGlobalRoots(run CommandRunner) *GlobalRoots {
	if run == nil {
		run = ExecRunner
	}
	return &GlobalRoots{run: run, roots: cache.NewMap[settings.PackageManager, string]()}
}

func (g *GlobalRoots) Get(ctx context.Context, pm settings.PackageManager) string {
	if root, ok := g.roots.Get(pm); ok {
		return root
	}
	slog.Debug("Resolving global package manager path", "packageManager", pm)
	root, err := g.lookup(ctx, pm)
	if err != nil {
		slog.Debug("No global package manager path", "packageManager", pm, "error", err)
		root = ""
	}
	root, _ = g.roots.LoadOrStore(pm, root)
	return root
}

func (g *GlobalRoots) lookup(ctx context.Context, pm settings.PackageManager) (string, error) {
	switch pm {
	case settings.NPM:
		out, err := g.run(ctx, "npm", "root", "-g")
		if err != nil {
			return "", err
		}
		return firstLine(out)
	case settings.Yarn:
		out, err := g.run(ctx, "yarn", "global", "dir")
		if err != nil {
			return "", err
		}
		dir, err := firstLine(out)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "node_modules"), nil
	}
	return "", fmt.Errorf("%w: unknown package manager %q", ErrNoGlobalPath, pm)
}

func firstLine(out []byte) (string, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.Join(ErrNoGlobalPath, errors.New("empty output"))
	}
	return line, nil
}
