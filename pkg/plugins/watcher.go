package plugins

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher evicts cached modules whose plugin directory is removed or renamed
// outside the orchestrator, so a stale module is never handed out again.
type Watcher struct {
	loader  *Loader
	watcher *fsnotify.Watcher
	log     *logrus.Logger

	// OnEvict is called with the ids evicted for a removed directory
	OnEvict func(root string, ids []string)
}

// NewWatcher watches the loader's plugins directory
func NewWatcher(loader *Loader, log *logrus.Logger) (*Watcher, error) {
	if log == nil {
		log = logrus.New()
	}

	if err := os.MkdirAll(loader.PluginsDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create plugins directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := fw.Add(loader.PluginsDir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", loader.PluginsDir(), err)
	}

	return &Watcher{loader: loader, watcher: fw, log: log}, nil
}

// Run processes events until ctx is done or the watcher is closed
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ids := w.loader.EvictRoot(event.Name)
			if len(ids) == 0 {
				continue
			}
			w.log.Infof("Plugin directory %s went away, evicted %v", event.Name, ids)
			if w.OnEvict != nil {
				w.OnEvict(event.Name, ids)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnf("Plugin watcher error: %v", err)
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
