package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultSettleDelay lets an editor finish writing before a reload
const DefaultSettleDelay = 500 * time.Millisecond

// Watcher reports changes to the configuration file.
// The parent directory is watched because editors replace files by rename.
type Watcher struct {
	path    string
	logger  *logrus.Logger
	watcher *fsnotify.Watcher
	settle  time.Duration
}

// NewWatcher starts watching the directory that holds path
func NewWatcher(path string, logger *logrus.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	logger.WithField("config_path", absPath).Info("Config watcher started")
	return &Watcher{
		path:    absPath,
		logger:  logger,
		watcher: watcher,
		settle:  DefaultSettleDelay,
	}, nil
}

// Run calls onChange once per burst of writes to the file until ctx ends
func (w *Watcher) Run(ctx context.Context, onChange func()) {
	defer w.watcher.Close()

	timer := time.NewTimer(w.settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				timer.Reset(w.settle)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Config watcher error")

		case <-timer.C:
			w.logger.WithField("config_path", w.path).Info("Config file changed")
			onChange()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
