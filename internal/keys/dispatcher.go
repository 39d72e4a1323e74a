package keys

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Interrupt is the Ctrl-C character as read from a raw terminal.
const Interrupt = '\x03'

// Command is a zero-argument action bound to keys.
type Command func() error

// Disposer removes a registration. Calling it more than once is a no-op.
type Disposer func()

type record struct {
	keys []rune
	cmd  Command
}

// Dispatcher maps keystrokes to commands.
type Dispatcher struct {
	interrupt func()
	onError   func(error)
	logger    *slog.Logger

	mu      sync.Mutex
	records map[rune][]*record

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInterrupt sets the Ctrl-C handler. The default exits with status 130.
func WithInterrupt(fn func()) Option {
	return func(d *Dispatcher) {
		d.interrupt = fn
	}
}

// WithErrorHandler sets where command errors are sent.
func WithErrorHandler(fn func(error)) Option {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		records: make(map[rune][]*record),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default().With("component", "keys")
	}
	if d.interrupt == nil {
		d.interrupt = func() { os.Exit(130) }
	}
	if d.onError == nil {
		d.onError = func(err error) {
			d.logger.Error("command failed", "error", err)
		}
	}
	return d
}

// Register binds cmd to every key in keys. When several live registrations
// share a key, the most recent one handles it.
func (d *Dispatcher) Register(keys []rune, cmd Command) Disposer {
	if cmd == nil || len(keys) == 0 {
		return func() {}
	}
	rec := &record{keys: append([]rune(nil), keys...), cmd: cmd}

	d.mu.Lock()
	for _, k := range rec.keys {
		d.records[k] = append(d.records[k], rec)
	}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(rec) })
	}
}

func (d *Dispatcher) remove(rec *record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range rec.keys {
		list := d.records[k]
		for i, r := range list {
			if r == rec {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(d.records, k)
		} else {
			d.records[k] = list
		}
	}
}

// Len returns the number of keys with at least one registration.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Dispatch handles one keystroke and reports whether anything ran.
func (d *Dispatcher) Dispatch(key rune) bool {
	if key == Interrupt {
		d.interrupt()
		return true
	}

	d.mu.Lock()
	list := d.records[key]
	var cmd Command
	if len(list) > 0 {
		cmd = list[len(list)-1].cmd
	}
	d.mu.Unlock()

	if cmd == nil {
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.call(cmd); err != nil {
			d.onError(err)
		}
	}()
	return true
}

func (d *Dispatcher) call(cmd Command) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command panicked: %v", p)
		}
	}()
	return cmd()
}

// Wait blocks until every dispatched command has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run reads keystrokes from in until EOF or ctx is cancelled. The read
// loop may outlive Run when in blocks, as stdin does.
func (d *Dispatcher) Run(ctx context.Context, in io.Reader) error {
	keys := make(chan rune)
	errc := make(chan error, 1)

	go func() {
		r := bufio.NewReader(in)
		for {
			k, _, err := r.ReadRune()
			if err != nil {
				errc <- err
				return
			}
			select {
			case keys <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read keys: %w", err)
		case k := <-keys:
			if !d.Dispatch(k) {
				d.logger.Debug("unbound key", "key", string(k))
			}
		}
	}
}
