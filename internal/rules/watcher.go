package rules

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/logging"
)

// reloadDebounce collapses the burst of events editors emit for one save.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a registry from its rules file whenever the file changes.
// A file that fails to parse or validate leaves the registry untouched.
type Watcher struct {
	path     string
	registry *Registry
	bus      *event.Bus
	logger   *logging.Logger
	watcher  *fsnotify.Watcher

	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher watches the directory containing path, so that atomic
// rename-based saves are seen. bus and logger may be nil.
func NewWatcher(path string, registry *Registry, bus *event.Bus, logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		registry: registry,
		bus:      bus,
		logger:   logger.WithComponent("rules-watcher"),
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Run processes filesystem events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watcher error", "error", err.Error())
		}
	}
}

// Reload re-reads the rules file into the registry.
func (w *Watcher) Reload() {
	rules, err := LoadFile(w.path)
	if err == nil {
		err = w.registry.Replace(rules)
	}
	if err != nil {
		w.logger.Warn("rules reload rejected", "path", w.path, "error", err.Error())
	} else {
		w.logger.Info("rules reloaded", "path", w.path, "count", len(rules))
	}
	if w.bus != nil {
		w.bus.Publish(event.NewRulesReloadedEvent(w.path, w.registry.Len(), err))
	}
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}

// Done is closed when Run returns.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
