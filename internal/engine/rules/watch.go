package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a rules file and invokes the supplied callback whenever
// its definitions change. Stop must be called to release filesystem
// resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchRulesFile wires fsnotify around a rules file and reloads the bundle on
// any relevant change. The initial load happens synchronously so callers see
// an error before the watcher starts.
func WatchRulesFile(ctx context.Context, path string, onChange func(map[string][]Rule), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("rules: watch requires a change callback")
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("rules: resolve %s: %w", path, err)
	}
	resolved = filepath.Clean(resolved)

	bundle, err := LoadRulesFile(resolved)
	if err != nil {
		return nil, err
	}
	onChange(bundle)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules: watch %s: %w", path, err)
	}
	// Editors replace files by rename, so the parent directory is watched
	// rather than the file itself.
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("rules: watch %s: %w", path, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("rules: watch close: %w", err))
			}
		}()

		reload := func() {
			bundle, err := LoadRulesFile(resolved)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(bundle)
		}

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != resolved {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("rules: watch: %w", err))
				}
			}
		}
	}()
	return w, nil
}
