package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to explicitly configured lint config files. The
// containing directory is watched so that editors saving through a rename
// are still noticed.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func(path string)

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}
}

func NewWatcher(onChange func(path string)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  watcher,
		onChange: onChange,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
	}, nil
}

// Watch starts watching path. The file must be readable, otherwise the error
// from CheckFile is returned and nothing is installed.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)

	w.mu.Lock()
	_, watched := w.files[path]
	w.mu.Unlock()
	if watched {
		return nil
	}

	if err := CheckFile(path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; !ok {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = struct{}{}
	}
	w.files[path] = struct{}{}
	slog.Debug("Watching config file", "path", path)
	return nil
}

func (w *Watcher) Watching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[filepath.Clean(path)]
	return ok
}

// Start dispatches events until ctx is done or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(event.Name)
	w.mu.Lock()
	_, ok := w.files[path]
	w.mu.Unlock()
	if !ok {
		return
	}
	slog.Info("Config file changed", "path", path, "op", event.Op.String())
	if w.onChange != nil {
		w.onChange(path)
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
