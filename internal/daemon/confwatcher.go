package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/daemon/events"
)

// ConfdWatcher monitors conf.d for edits and publishes ConfdChanged after a
// debounce so editors that write multiple times trigger one reload.
type ConfdWatcher struct {
	confdPath    string
	bus          *events.Bus
	watcher      *fsnotify.Watcher
	debounceTime time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewConfdWatcher(confdPath string, bus *events.Bus) (*ConfdWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	absPath, err := filepath.Abs(confdPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve conf.d path: %w", err)
	}
	return &ConfdWatcher{
		confdPath:    absPath,
		bus:          bus,
		watcher:      watcher,
		debounceTime: 2 * time.Second,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Start begins watching conf.d and its auto_conf subdirectory.
func (w *ConfdWatcher) Start() error {
	if err := w.watcher.Add(w.confdPath); err != nil {
		return fmt.Errorf("watch conf.d %s: %w", w.confdPath, err)
	}
	autoConf := filepath.Join(w.confdPath, config.AutoConfDir)
	if err := w.watcher.Add(autoConf); err != nil {
		slog.Debug("auto_conf directory not watched", "path", autoConf, "error", err)
	}

	go w.loop()
	slog.Info("conf.d watcher started", "path", w.confdPath)
	return nil
}

func (w *ConfdWatcher) Stop(ctx context.Context) error {
	close(w.stop)
	if err := w.watcher.Close(); err != nil {
		slog.Error("error closing file watcher", "error", err)
	}
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}

func (w *ConfdWatcher) loop() {
	defer close(w.done)

	var pending string
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			pending = event.Name
			if timer == nil {
				timer = time.NewTimer(w.debounceTime)
				fire = timer.C
			} else {
				timer.Reset(w.debounceTime)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			slog.Info("conf.d changed", "path", pending)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := w.bus.Publish(ctx, ConfdChanged{Path: pending}); err != nil {
				slog.Warn("could not publish conf.d change", "error", err)
			}
			cancel()
		}
	}
}

// relevant filters events down to yaml writes, creations, removals and
// renames.
func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := strings.ToLower(event.Name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
