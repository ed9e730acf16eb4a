package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the .env file and invokes a callback when it changes,
// so notification settings can be hot-swapped without a restart.
type Watcher struct {
	envPath     string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	stopOnce    sync.Once
	lastModTime time.Time
	onReload    func()
}

// NewWatcher creates a watcher for the .env file under dataDir. An empty
// dataDir watches the working directory.
func NewWatcher(dataDir string, onReload func()) (*Watcher, error) {
	if dataDir == "" {
		dataDir = "."
	}
	envPath := filepath.Join(dataDir, ".env")

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		envPath:  envPath,
		watcher:  fsWatcher,
		stopChan: make(chan struct{}),
		onReload: onReload,
	}
	if stat, err := os.Stat(envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w, nil
}

// Start begins watching. Editors replace files rather than rewriting them,
// so the parent directory is watched and events are filtered by name.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.envPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.loop()
	log.Debug().Str("path", w.envPath).Msg("Watching .env for changes")
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.watcher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close config watcher")
		}
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.envPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.modified() {
				continue
			}
			log.Info().Str("path", w.envPath).Msg("Config file changed, reloading")
			if w.onReload != nil {
				w.onReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// modified debounces duplicate events by comparing file mod times.
func (w *Watcher) modified() bool {
	stat, err := os.Stat(w.envPath)
	if err != nil {
		return false
	}
	if !stat.ModTime().After(w.lastModTime) {
		return false
	}
	w.lastModTime = stat.ModTime()
	return true
}
