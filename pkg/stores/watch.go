package stores

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/frkl/viva/pkg/codec"
)

// DefaultDebounce is the quiet period after the last change before a reload fires.
const DefaultDebounce = 500 * time.Millisecond

// Reloadable is implemented by stores whose contents can be re-read from disk.
type Reloadable interface {
	Reload(ctx context.Context) error
	BasePath() string
	Dir() string
}

// Watcher reloads stores when their spec documents change on disk.
type Watcher struct {
	logger   zerolog.Logger
	debounce time.Duration
	stores   []Reloadable

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given stores.
func NewWatcher(logger zerolog.Logger, debounce time.Duration, stores ...Reloadable) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger.With().Str("component", "spec-watcher").Logger(),
		debounce: debounce,
		stores:   stores,
	}
}

// Watch starts watching in the background. onReload is called after every debounced reload with
// the reload error, if any. Watching stops when ctx is done.
func (w *Watcher) Watch(ctx context.Context, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	watched := 0
	for _, s := range w.stores {
		for _, dir := range []string{s.BasePath(), s.Dir()} {
			if _, err := os.Stat(dir); err != nil {
				w.logger.Debug().Str("path", dir).Msg("Skipping missing directory")
				continue
			}
			if err := watcher.Add(dir); err != nil {
				w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
				continue
			}
			watched++
		}
	}

	go w.processEvents(ctx, onReload)

	w.logger.Info().Int("paths", watched).Msg("Started watching spec paths")
	return nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}

func (w *Watcher) processEvents(ctx context.Context, onReload func(error)) {
	var reloadTimer *time.Timer

	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = w.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				w.watchStoreDir(watcher, event.Name)
			}
			if !isSpecDocument(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Spec file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.debounce, func() {
				err := w.reload(ctx)
				if err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload specs")
				}
				if onReload != nil {
					onReload(err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// watchStoreDir adds path to the watch list if it is a per-id directory created after Watch started.
func (w *Watcher) watchStoreDir(watcher *fsnotify.Watcher, path string) {
	path = filepath.Clean(path)
	for _, s := range w.stores {
		if filepath.Clean(s.Dir()) != path {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return
		}
		if err := watcher.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			return
		}
		w.logger.Debug().Str("path", path).Msg("Watching new spec directory")
		return
	}
}

func (w *Watcher) reload(ctx context.Context) error {
	for _, s := range w.stores {
		if err := s.Reload(ctx); err != nil {
			return fmt.Errorf("failed to reload %s: %w", s.Dir(), err)
		}
	}
	w.logger.Info().Int("stores", len(w.stores)).Msg("Reloaded specs")
	return nil
}

func isSpecDocument(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	_, err := codec.FormatForPath(path)
	return err == nil
}
