package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures the file watcher.
type Config struct {
	// Paths are the directories, or single files, to watch.
	Paths []string

	// Ignore patterns to skip (see Ignored).
	Ignore []string

	// Debounce is the quiet period before a batch is reported. In polling
	// mode it is also the scan interval.
	Debounce time.Duration

	// Poll forces modification-time polling instead of fsnotify.
	Poll bool

	// Logger for watcher diagnostics.
	Logger *slog.Logger
}

// Watcher monitors files for changes.
type Watcher struct {
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	onChange   func([]Change)
	running    bool
	stopCh     chan struct{}
	timestamps map[string]time.Time
}

// NewWatcher creates a new file watcher.
func NewWatcher(config Config) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if config.Ignore == nil {
		config.Ignore = DefaultIgnore
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		config:     config,
		logger:     logger.With("component", "watch"),
		timestamps: make(map[string]time.Time),
	}
}

// OnChange sets the callback for change batches.
func (w *Watcher) OnChange(fn func([]Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start watches until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if !w.config.Poll {
		fw, err := fsnotify.NewWatcher()
		if err == nil {
			return w.runNotify(ctx, stopCh, fw)
		}
		w.logger.Warn("file notifications unavailable, polling", "error", err)
	}
	return w.runPoll(ctx, stopCh)
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
}

func (w *Watcher) runNotify(ctx context.Context, stopCh <-chan struct{}, fw *fsnotify.Watcher) error {
	defer fw.Close()

	for _, root := range w.config.Paths {
		w.addTree(fw, root)
	}

	pending := make(map[string]Change)
	timer := time.NewTimer(w.config.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			change, ok := w.translate(fw, event)
			if !ok {
				continue
			}
			if prev, seen := pending[change.Path]; seen && prev.Op == OpCreate && change.Op == OpWrite {
				change.Op = OpCreate
			}
			pending[change.Path] = change
			timer.Reset(w.config.Debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-timer.C:
			w.report(pending)
			pending = make(map[string]Change)
		}
	}
}

func (w *Watcher) translate(fw *fsnotify.Watcher, event fsnotify.Event) (Change, bool) {
	p := event.Name
	if w.ignored(p) {
		return Change{}, false
	}

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			w.addTree(fw, p)
			return Change{}, false
		}
		return Change{Path: p, Type: Classify(p), Op: OpCreate}, true
	case event.Has(fsnotify.Write):
		return Change{Path: p, Type: Classify(p), Op: OpWrite}, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return Change{Path: p, Type: Classify(p), Op: OpRemove}, true
	default:
		return Change{}, false
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) {
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		if err := fw.Add(root); err != nil {
			w.logger.Warn("cannot watch file", "path", root, "error", err)
		}
		return
	}
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			w.logger.Warn("cannot watch directory", "path", p, "error", err)
		}
		return nil
	})
}

func (w *Watcher) runPoll(ctx context.Context, stopCh <-chan struct{}) error {
	w.scan(false)

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			w.report(w.scan(true))
		}
	}
}

// scan walks the watched paths and returns the changes since the last scan.
func (w *Watcher) scan(emit bool) map[string]Change {
	changes := make(map[string]Change)
	seen := make(map[string]struct{})

	for _, root := range w.config.Paths {
		filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != root && w.ignored(p) {
					return filepath.SkipDir
				}
				return nil
			}
			if w.ignored(p) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			seen[p] = struct{}{}

			w.mu.Lock()
			lastMod, exists := w.timestamps[p]
			modTime := info.ModTime()
			if !exists || modTime.After(lastMod) {
				w.timestamps[p] = modTime
			}
			w.mu.Unlock()

			switch {
			case !emit:
			case !exists:
				changes[p] = Change{Path: p, Type: Classify(p), Op: OpCreate}
			case modTime.After(lastMod):
				changes[p] = Change{Path: p, Type: Classify(p), Op: OpWrite}
			}
			return nil
		})
	}

	w.mu.Lock()
	for p := range w.timestamps {
		if _, ok := seen[p]; !ok {
			delete(w.timestamps, p)
			if emit {
				changes[p] = Change{Path: p, Type: Classify(p), Op: OpRemove}
			}
		}
	}
	w.mu.Unlock()

	return changes
}

func (w *Watcher) report(pending map[string]Change) {
	if len(pending) == 0 {
		return
	}
	w.mu.Lock()
	callback := w.onChange
	w.mu.Unlock()
	if callback == nil {
		return
	}

	batch := make([]Change, 0, len(pending))
	for _, c := range pending {
		batch = append(batch, c)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	w.logger.Debug("files changed", "count", len(batch))
	callback(batch)
}

// ignored matches p relative to the watched root containing it, so the
// location of the project itself never triggers a pattern.
func (w *Watcher) ignored(p string) bool {
	for _, root := range w.config.Paths {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return Ignored(rel, w.config.Ignore)
	}
	return Ignored(p, w.config.Ignore)
}
