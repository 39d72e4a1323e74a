package hmr

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hotrun-dev/hotrun/internal/watch"
)

// DefaultFullReload lists root-relative files whose change always needs a
// full reload.
var DefaultFullReload = []string{"hotrun.json", "go.mod", "go.sum"}

// Producer turns watcher batches into payloads on an Emitter.
type Producer struct {
	root       string
	fullReload []string
	emitter    *Emitter
	now        func() time.Time
}

// NewProducer creates a producer for the project at root. fullReload holds
// extra root-relative globs that request a full reload.
func NewProducer(root string, fullReload []string, emitter *Emitter) *Producer {
	patterns := append(append([]string(nil), DefaultFullReload...), fullReload...)
	return &Producer{
		root:       root,
		fullReload: patterns,
		emitter:    emitter,
		now:        time.Now,
	}
}

// Payload builds the payload for one batch of changes.
func (p *Producer) Payload(changes []watch.Change) (Payload, bool) {
	if len(changes) == 0 {
		return Payload{}, false
	}
	for _, c := range changes {
		if p.needsFullReload(c.Path) {
			return Payload{Type: PayloadFullReload, Path: c.Path}, true
		}
	}

	ts := p.now().UnixMilli()
	updates := make([]Update, 0, len(changes))
	for _, c := range changes {
		kind := UpdateModule
		if c.Type == watch.ChangeStyle {
			kind = UpdateCSS
		}
		updates = append(updates, Update{Type: kind, Path: c.Path, Timestamp: ts})
	}
	return Payload{Type: PayloadUpdate, Updates: updates}, true
}

// Publish sends the payload for changes, if any. Nothing is built while
// the emitter has no subscribers.
func (p *Producer) Publish(changes []watch.Change) {
	if p.emitter.Subscribers() == 0 {
		return
	}
	if payload, ok := p.Payload(changes); ok {
		p.emitter.SendPayload(payload)
	}
}

func (p *Producer) needsFullReload(file string) bool {
	rel, err := filepath.Rel(p.root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range p.fullReload {
		if rel == pattern {
			return true
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// WatchStream is a Stream fed by a file watcher.
type WatchStream struct {
	*Emitter
	watcher *watch.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// WatchOptions configures a WatchStream.
type WatchOptions struct {
	// Root is the project root.
	Root string

	// Watch is the watcher configuration.
	Watch watch.Config

	// FullReload holds extra root-relative globs requesting a full reload.
	FullReload []string

	// Logger for diagnostics.
	Logger *slog.Logger
}

// NewWatchStream starts a watcher and returns the stream of its payloads.
func NewWatchStream(ctx context.Context, opts WatchOptions) *WatchStream {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Watch.Logger = logger

	emitter := NewEmitter()
	producer := NewProducer(opts.Root, opts.FullReload, emitter)
	watcher := watch.NewWatcher(opts.Watch)
	watcher.OnChange(producer.Publish)

	ctx, cancel := context.WithCancel(ctx)
	s := &WatchStream{
		Emitter: emitter,
		watcher: watcher,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("watcher stopped", "error", err)
		}
	}()
	return s
}

// Close stops the watcher and the emitter.
func (s *WatchStream) Close() error {
	s.cancel()
	s.watcher.Stop()
	<-s.done
	return s.Emitter.Close()
}
