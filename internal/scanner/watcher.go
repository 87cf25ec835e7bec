package scanner

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses the burst of events editors emit on save
const debounce = 250 * time.Millisecond

// CatalogWatcher reloads the catalog file and rescans when it changes
type CatalogWatcher struct {
	path     string
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	onReload func([]Descriptor)
}

// NewCatalogWatcher watches path for changes. The parent directory is
// watched so that atomic replace-on-save is seen.
func NewCatalogWatcher(path string, registry *Registry, logger *slog.Logger) (*CatalogWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	return &CatalogWatcher{
		path:     abs,
		registry: registry,
		watcher:  w,
		logger:   logger,
	}, nil
}

// OnReload registers a callback run after each successful rescan
func (w *CatalogWatcher) OnReload(fn func([]Descriptor)) {
	w.onReload = fn
}

// Run processes events until ctx is done or the watcher is closed
func (w *CatalogWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Catalog watcher error", "error", err)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *CatalogWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}

func (w *CatalogWatcher) reload(ctx context.Context) {
	catalog, err := LoadCatalog(w.path)
	if err != nil {
		// keep the current catalog; a half-written or deleted file is not fatal
		w.logger.Warn("Failed to reload scanner catalog, keeping previous",
			"path", w.path,
			"error", err)
		return
	}

	w.logger.Info("Scanner catalog changed, rescanning", "path", w.path)
	w.registry.SetCatalog(catalog)
	descriptors := w.registry.Refresh(ctx)
	if w.onReload != nil {
		w.onReload(descriptors)
	}
}

// Close stops the watcher
func (w *CatalogWatcher) Close() error {
	return w.watcher.Close()
}
