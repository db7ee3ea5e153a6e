package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of file events into one rebuild.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls OnChange when any watched file is written, created or
// renamed into place. Directories are watched so editors that replace files
// atomically are still seen.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	debounce time.Duration
	onChange func(ctx context.Context) error
	logger   *slog.Logger
}

// NewWatcher watches paths (files) and calls onChange after a quiet period.
func NewWatcher(paths []string, debounce time.Duration, onChange func(ctx context.Context) error, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{files: make(map[string]bool), debounce: debounce, onChange: onChange, logger: logger}
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		w.files[abs] = true
		if dir := filepath.Dir(abs); !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Run watches until ctx is canceled. Failures of onChange are logged; the
// watcher keeps running. Rebuilds run one at a time: changes seen while a
// rebuild is in flight queue at most one follow-up.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			w.logger.Error("failed to watch source directory", "dir", dir, "error", err)
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	dirty := make(chan string, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.rebuildLoop(loopCtx, dirty)
	}()

	var (
		timer   *time.Timer
		pending <-chan time.Time
		changed string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !w.files[filepath.Clean(event.Name)] {
				continue
			}
			changed = event.Name
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			select {
			case dirty <- changed:
			default:
				// A follow-up rebuild is already queued.
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// rebuildLoop runs onChange for each queued change until ctx is canceled.
func (w *Watcher) rebuildLoop(ctx context.Context, dirty <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-dirty:
			w.logger.Info("source changed, rebuilding", "file", name)
			if err := w.onChange(ctx); err != nil {
				w.logger.Error("rebuild after change failed", "error", err)
			}
		}
	}
}
