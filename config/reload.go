package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// changeNotifier fans reload results out to registered callbacks.
type changeNotifier struct {
	mu        sync.RWMutex
	callbacks []func(error)
}

func newChangeNotifier() *changeNotifier {
	return &changeNotifier{}
}

func (n *changeNotifier) add(callback func(error)) {
	if callback == nil {
		return
	}
	n.mu.Lock()
	n.callbacks = append(n.callbacks, callback)
	n.mu.Unlock()
}

func (n *changeNotifier) notify(err error) {
	n.mu.RLock()
	callbacks := slices.Clone(n.callbacks)
	n.mu.RUnlock()

	for _, callback := range callbacks {
		callback(err)
	}
}

// hotReloader watches the directory of the configuration file so that
// editors replacing the file through a rename are noticed as well.
type hotReloader struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	once    sync.Once
}

func startHotReloader(ctx context.Context, path string, delay time.Duration, reload func(), notifier *changeNotifier) (*hotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", target, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &hotReloader{watcher: watcher, cancel: cancel}

	go func() {
		defer h.stop()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				// let the writer finish
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
				reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				notifier.notify(fmt.Errorf("file watcher error: %w", err))
			case <-ctx.Done():
				return
			}
		}
	}()

	return h, nil
}

func (h *hotReloader) stop() {
	h.once.Do(func() {
		h.cancel()
		_ = h.watcher.Close()
	})
}
