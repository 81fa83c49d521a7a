package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StopAlerter is told when the emergency-stop marker appears or disappears.
type StopAlerter interface {
	SendEmergencyStopAlert(active bool, path string) error
}

// StopWatcher watches the emergency-stop marker and alerts operators as soon
// as it changes. It does not gate anything: the safety validator still
// checks the marker on every call.
type StopWatcher struct {
	path     string
	alerters []StopAlerter
	logger   *zap.Logger

	mu     sync.Mutex
	active bool
}

func NewStopWatcher(path string, logger *zap.Logger, alerters ...StopAlerter) *StopWatcher {
	w := &StopWatcher{
		path:   filepath.Clean(path),
		logger: logger,
	}
	for _, a := range alerters {
		if a != nil {
			w.alerters = append(w.alerters, a)
		}
	}
	w.active = w.markerPresent()
	return w
}

// Active reports the last observed marker state.
func (w *StopWatcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Run watches the marker's directory until ctx is done.
func (w *StopWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info("Watching emergency stop marker",
		zap.String("path", w.path),
		zap.Bool("active", w.Active()))
	if w.Active() {
		w.notify(true)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Emergency stop watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.refresh()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Emergency stop watcher error", zap.Error(err))
		}
	}
}

// refresh re-reads the marker and alerts when its state changed.
func (w *StopWatcher) refresh() {
	present := w.markerPresent()

	w.mu.Lock()
	changed := present != w.active
	w.active = present
	w.mu.Unlock()

	if !changed {
		return
	}
	if present {
		w.logger.Warn("Emergency stop raised", zap.String("path", w.path))
	} else {
		w.logger.Info("Emergency stop cleared", zap.String("path", w.path))
	}
	w.notify(present)
}

func (w *StopWatcher) notify(active bool) {
	for _, a := range w.alerters {
		if err := a.SendEmergencyStopAlert(active, w.path); err != nil {
			w.logger.Error("Failed to send emergency stop alert", zap.Error(err))
		}
	}
}

func (w *StopWatcher) markerPresent() bool {
	_, err := os.Stat(w.path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
