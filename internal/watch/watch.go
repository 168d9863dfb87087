// Package watch feeds a formula file into the engine whenever it is saved.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events a single editor save produces.
const DefaultDebounce = 150 * time.Millisecond

// ApplyFunc receives the file contents after each change.
type ApplyFunc func(ctx context.Context, text string) error

// FormulaWatcher watches one file. The parent directory is watched rather than
// the file itself so editors that save by rename keep working.
type FormulaWatcher struct {
	path     string
	apply    ApplyFunc
	log      *zap.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
	last     string
}

// New starts watching path. Close releases the watcher if Run is never called.
func New(path string, apply ApplyFunc, log *zap.Logger) (*FormulaWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &FormulaWatcher{
		path:     abs,
		apply:    apply,
		log:      log.With(zap.String("component", "watch"), zap.String("file", abs)),
		watcher:  w,
		debounce: DefaultDebounce,
	}, nil
}

// Close stops the underlying watcher.
func (fw *FormulaWatcher) Close() error {
	return fw.watcher.Close()
}

// Run applies the current file contents, then every later change, until ctx
// is cancelled.
func (fw *FormulaWatcher) Run(ctx context.Context) {
	defer fw.watcher.Close()

	fw.reload(ctx)

	timer := time.NewTimer(fw.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fw.relevant(event) {
				fw.log.Debug("file change detected", zap.String("op", event.Op.String()))
				timer.Reset(fw.debounce)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error("watcher error", zap.Error(err))
		case <-timer.C:
			fw.reload(ctx)
		}
	}
}

func (fw *FormulaWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != fw.path {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}

func (fw *FormulaWatcher) reload(ctx context.Context) {
	data, err := os.ReadFile(fw.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fw.log.Warn("read formula file", zap.Error(err))
		}
		return
	}
	text := strings.TrimSpace(string(data))
	if text == "" || text == fw.last {
		return
	}
	fw.last = text
	if err := fw.apply(ctx, text); err != nil {
		fw.log.Warn("apply formula", zap.Error(err))
		return
	}
	fw.log.Info("formula file loaded", zap.Int("bytes", len(text)))
}
