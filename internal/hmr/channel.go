package hmr

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

// Cache is the part of the module runner a Channel updates.
type Cache interface {
	Entry() string
	Invalidate(paths []string) []string
	Cached(path string) bool
}

// UpdateEvent describes an applied incremental update.
type UpdateEvent struct {
	// Changed lists the paths named by the batch.
	Changed []string

	// CSS lists changed stylesheets.
	CSS []string

	// Invalidated lists the module cache entries evicted.
	Invalidated []string

	// EntryAffected is true when the entry module has to be re-executed.
	EntryAffected bool
}

// Handler reacts to the outcome of a batch. Its methods run on the
// channel's goroutine and must not wait for the channel to close.
type Handler interface {
	Update(ev UpdateEvent)
	FullReload(reason string)
}

// Channel applies payloads from a Stream to a module cache.
type Channel struct {
	stream  Stream
	cache   Cache
	handler Handler
	onError func(error)
	logger  *slog.Logger

	queue chan []byte

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	closeOnce   sync.Once
	done        chan struct{}
	stopped     chan struct{}
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithErrorHandler sets where channel errors are reported. They are logged
// by default.
func WithErrorHandler(fn func(error)) ChannelOption {
	return func(c *Channel) {
		c.onError = fn
	}
}

// WithLogger sets the channel logger.
func WithLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel creates a channel. It does nothing until Start.
func NewChannel(stream Stream, cache Cache, handler Handler, opts ...ChannelOption) *Channel {
	c := &Channel{
		stream:  stream,
		cache:   cache,
		handler: handler,
		queue:   make(chan []byte, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "hmr")
	if c.onError == nil {
		c.onError = func(err error) {
			c.logger.Warn("ignored hot-update payload", "error", err)
		}
	}
	return c
}

// Start subscribes to the stream and processes payloads until Close or
// until ctx is cancelled.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.unsubscribe = c.stream.Subscribe(c.enqueue)
	go c.process(ctx)
}

// Close unsubscribes and waits for the batch in progress to finish.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		started, unsubscribe := c.started, c.unsubscribe
		c.started = true
		c.mu.Unlock()

		close(c.done)
		if unsubscribe != nil {
			unsubscribe()
		}
		if !started {
			close(c.stopped)
		}
	})
	<-c.stopped
	return nil
}

func (c *Channel) enqueue(data []byte) {
	select {
	case c.queue <- data:
	case <-c.done:
	case <-c.stopped:
	}
}

// process serializes payload handling and coalesces bursts.
func (c *Channel) process(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.queue:
			batch := [][]byte{data}
			draining := true
			for draining {
				select {
				case next := <-c.queue:
					batch = append(batch, next)
				default:
					draining = false
				}
			}
			c.handle(batch)
		}
	}
}

func (c *Channel) handle(batch [][]byte) {
	var (
		fullReload string
		full       bool
		changed    []string
		css        []string
	)
	for _, data := range batch {
		p, err := Decode(data)
		if err != nil {
			c.onError(err)
			continue
		}
		switch p.Type {
		case PayloadFullReload:
			if !full {
				full, fullReload = true, p.Path
			}
		case PayloadUpdate:
			for _, u := range p.Updates {
				changed = append(changed, u.Path)
				if u.Type == UpdateCSS {
					css = append(css, u.Path)
				}
			}
		case PayloadConnected, PayloadClear:
		default:
			c.onError(errors.New("H301").WithDetail("type " + string(p.Type)))
		}
	}

	if full {
		if len(changed) > 0 {
			c.logger.Debug("updates superseded by full reload", "dropped", len(changed))
		}
		c.handler.FullReload(fullReload)
		return
	}
	if len(changed) == 0 {
		return
	}

	invalidated := c.cache.Invalidate(changed)
	// The entry is uncached when it was just evicted or when its last
	// evaluation failed; either way it has to run again.
	affected := !c.cache.Cached(c.cache.Entry())
	c.logger.Debug("update applied",
		"changed", len(changed),
		"invalidated", len(invalidated),
		"entry_affected", affected,
	)
	c.handler.Update(UpdateEvent{
		Changed:       changed,
		CSS:           css,
		Invalidated:   invalidated,
		EntryAffected: affected,
	})
}
