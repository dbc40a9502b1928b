package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the configuration file for changes and triggers a reload
// callback. The directory is watched rather than the file because editors
// commonly write a temp file and rename it over the original.
type Watcher struct {
	configPath   string
	watcher      *fsnotify.Watcher
	reloadFunc   func(string) error
	logger       *slog.Logger
	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a configuration file watcher.
func NewWatcher(configPath string, reloadFunc func(string) error, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		configPath:   configPath,
		watcher:      watcher,
		reloadFunc:   reloadFunc,
		logger:       logger,
		stopCh:       make(chan struct{}),
		debounceTime: 1 * time.Second, // Debounce multiple rapid changes
	}, nil
}

// Start begins watching the configuration file for changes.
func (cw *Watcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = true
	cw.mu.Unlock()

	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		cw.mu.Lock()
		cw.running = false
		cw.mu.Unlock()
		return err
	}

	cw.logger.Info("config watcher started", "config_path", cw.configPath)

	go cw.watchLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.stopCh)
	return cw.watcher.Close()
}

// IsRunning reports whether the watcher is active.
func (cw *Watcher) IsRunning() bool {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.running
}

func (cw *Watcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.isConfigFileEvent(event) {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(cw.debounceTime, cw.triggerReload)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", "error", err)

		case <-cw.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (cw *Watcher) isConfigFileEvent(event fsnotify.Event) bool {
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	configPath, err := filepath.Abs(cw.configPath)
	if err != nil {
		return false
	}
	return eventPath == configPath
}

func (cw *Watcher) triggerReload() {
	start := time.Now()
	if err := cw.reloadFunc(cw.configPath); err != nil {
		cw.logger.Error("config reload failed", "error", err, "duration", time.Since(start))
		return
	}
	cw.logger.Info("config reload completed", "duration", time.Since(start))
}
