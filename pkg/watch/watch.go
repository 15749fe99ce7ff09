// Package watch re-runs the fixer when feature files, the project file or app.config change.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period after the last change before a run starts
const DefaultDebounce = 500 * time.Millisecond

// settleDelay is how long events keep being discarded after a run once they stop arriving
const settleDelay = 50 * time.Millisecond

// RunFunc performs one fix run
type RunFunc func(ctx context.Context) error

// skippedDirs are never watched
var skippedDirs = map[string]bool{
	"bin":          true,
	"obj":          true,
	"node_modules": true,
}

// Watcher runs RunFunc once and then after every batch of relevant changes
type Watcher struct {
	logger   zerolog.Logger
	dir      string
	debounce time.Duration
	run      RunFunc
	watcher  *fsnotify.Watcher

	runs int
}

// New creates a watcher for dir
func New(logger zerolog.Logger, dir string, debounce time.Duration, run RunFunc) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger.With().Str("component", "watch").Logger(),
		dir:      dir,
		debounce: debounce,
		run:      run,
	}
}

// IsRelevant reports whether a change to path should trigger a run
func IsRelevant(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if name == "app.config" {
		return true
	}
	ext := filepath.Ext(name)
	return ext == ".feature" || ext == ".csproj" || ext == ".props" || ext == ".targets"
}

func skipDir(name string) bool {
	return (strings.HasPrefix(name, ".") && name != ".") || skippedDirs[strings.ToLower(name)]
}

// Run performs the initial run and then watches until ctx is done. Failed runs are logged and
// watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	w.watcher = watcher

	if err := w.addTree(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.execute(ctx, nil)

	w.logger.Info().Str("path", w.dir).Dur("debounce", w.debounce).Msg("Watching for changes")
	return w.loop(ctx)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) error {
	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	var pending []string

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			w.logger.Info().Msg("Stopped watching")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if w.watchCreatedDir(event) {
				continue
			}

			if event.Has(fsnotify.Chmod) || !IsRelevant(event.Name) {
				continue
			}

			pending = append(pending, event.Name)
			debounce.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")

		case <-debounce.C:
			if len(pending) == 0 {
				continue
			}
			changed := pending
			pending = nil
			w.execute(ctx, changed)
		}
	}
}

// execute runs once and then discards the events the run itself caused
func (w *Watcher) execute(ctx context.Context, changed []string) {
	if len(changed) > 0 {
		w.logger.Info().Strs("changed", dedupe(changed)).Msg("Change detected, fixing")
	}

	w.runs++
	if err := w.run(ctx); err != nil {
		w.logger.Error().Err(err).Int("run", w.runs).Msg("Fix failed")
	}

	quiet := time.NewTimer(settleDelay)
	defer quiet.Stop()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.watchCreatedDir(event)
			quiet.Reset(settleDelay)
		case <-quiet.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// watchCreatedDir adds a newly created directory tree to the watch list and reports whether
// event was such a directory
func (w *Watcher) watchCreatedDir(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() || skipDir(info.Name()) {
		return false
	}
	if err := w.addTree(event.Name); err != nil {
		w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
	}
	return true
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
