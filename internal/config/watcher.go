package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/event"
)

// DefaultDebounce collapses the burst of events editors produce on save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a FileProvider when its file changes and publishes a Change.
type Watcher struct {
	provider *FileProvider
	bus      *event.Bus[Change]
	log      logrus.FieldLogger
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher watches the directory holding the provider's file, so
// rename-and-replace saves are seen as well as in-place writes.
func NewWatcher(provider *FileProvider, bus *event.Bus[Change], log logrus.FieldLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(provider.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Watcher{
		provider: provider,
		bus:      bus,
		log:      log.WithField("config", provider.Path()),
		debounce: DefaultDebounce,
		fsw:      fsw,
	}, nil
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	target := filepath.Clean(w.provider.Path())

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("config watcher error")

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.provider.Reload()
	if err != nil {
		w.log.WithError(err).Warn("config changed but could not be loaded, keeping previous settings")
		return
	}
	w.log.Info("config reloaded")
	w.bus.Publish(Change{Config: cfg, Source: w.provider.Path()})
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
