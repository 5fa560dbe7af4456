package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the default debounce interval for file events. Editors
// write config files in bursts (truncate, write, rename); one reload per
// burst is enough.
const debounceDefault = 200 * time.Millisecond

// Watcher watches a single config file and invokes a reload callback after
// changes settle.
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration
}

// NewWatcher creates a watcher for the given file.
func NewWatcher(path string, onChange func()) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: debounceDefault,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched, not
// the file itself, so atomic rename-into-place updates are observed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	base := filepath.Base(w.path)

	// Single debounce timer, reset on each relevant event.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			if pending {
				pending = false
				w.onChange()
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounceTimer.Reset(w.debounce)

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
