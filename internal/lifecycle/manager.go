package lifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

var (
	// ErrActive is returned by Create when a handle is already active.
	ErrActive = stderrors.New("a server is already active")

	// ErrStale is returned for operations carrying a superseded epoch.
	ErrStale = stderrors.New("stale reload epoch")

	// ErrShutdown is returned by every operation after Shutdown.
	ErrShutdown = stderrors.New("lifecycle manager shut down")
)

// DefaultCloseTimeout bounds how long a server may take to drain.
const DefaultCloseTimeout = 5 * time.Second

// Server is a listening server instance.
type Server interface {
	// Listen binds addr and starts serving. It returns the bound address.
	Listen(ctx context.Context, addr string) (string, error)

	// Close stops the server and waits for connections to drain.
	Close(ctx context.Context) error
}

// Factory produces a fresh, not yet listening, server.
type Factory func(ctx context.Context) (Server, error)

// Observer is notified after every handle state change.
type Observer func(h *Handle, s State)

// Options configures a Manager.
type Options struct {
	// Addr is the address every server is asked to listen on.
	Addr string

	// CloseTimeout bounds a server's Close. Zero means DefaultCloseTimeout.
	CloseTimeout time.Duration

	// Observer, if set, sees every state change.
	Observer Observer

	// Logger for diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns the single active server handle.
type Manager struct {
	addr         string
	closeTimeout time.Duration
	observer     Observer
	logger       *slog.Logger

	mu       sync.Mutex
	active   *Handle
	epoch    uint64
	nextID   uint64
	shutdown bool
}

// NewManager creates a manager.
func NewManager(opts Options) *Manager {
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		addr:         opts.Addr,
		closeTimeout: opts.CloseTimeout,
		observer:     opts.Observer,
		logger:       opts.Logger.With("component", "lifecycle"),
	}
}

// Active returns the active handle, or nil.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Epoch returns the highest epoch the manager has accepted.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Create starts a server from factory and makes it the active handle.
func (m *Manager) Create(ctx context.Context, epoch uint64, factory Factory) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.acceptLocked(epoch); err != nil {
		return nil, err
	}
	if m.active != nil {
		return nil, errors.New("H202").Wrap(ErrActive)
	}
	return m.createLocked(ctx, epoch, factory)
}

// Swap closes the active handle, waits for it to finish closing, then
// creates a new handle from factory. If the outgoing server fails to
// close, the swap fails and no handle is active afterwards.
func (m *Manager) Swap(ctx context.Context, epoch uint64, factory Factory) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.acceptLocked(epoch); err != nil {
		return nil, err
	}
	if old := m.active; old != nil {
		m.active = nil
		if err := m.closeHandle(ctx, old); err != nil {
			return nil, err
		}
	}
	return m.createLocked(ctx, epoch, factory)
}

// CloseActive closes the active handle, if any.
func (m *Manager) CloseActive(ctx context.Context, epoch uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.acceptLocked(epoch); err != nil {
		return err
	}
	old := m.active
	if old == nil {
		return nil
	}
	m.active = nil
	return m.closeHandle(ctx, old)
}

// Close closes h. Closing an already closed handle is a no-op. It is used
// to discard handles produced by superseded reloads.
func (m *Manager) Close(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == h {
		m.active = nil
	}
	return m.closeHandle(ctx, h)
}

// Shutdown closes the active handle. Every later call fails with
// ErrShutdown. Shutdown itself is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil
	}
	m.shutdown = true
	old := m.active
	m.active = nil
	if old == nil {
		return nil
	}
	return m.closeHandle(ctx, old)
}

func (m *Manager) acceptLocked(epoch uint64) error {
	if m.shutdown {
		return errors.New("H203").Wrap(ErrShutdown)
	}
	if epoch < m.epoch {
		return fmt.Errorf("epoch %d, manager at %d: %w", epoch, m.epoch, ErrStale)
	}
	m.epoch = epoch
	return nil
}

func (m *Manager) createLocked(ctx context.Context, epoch uint64, factory Factory) (*Handle, error) {
	srv, err := factory(ctx)
	if err != nil {
		return nil, err
	}

	m.nextID++
	h := &Handle{
		ID:        m.nextID,
		Epoch:     epoch,
		server:    srv,
		state:     StateCreated,
		createdAt: time.Now(),
	}
	m.notify(h, StateCreated)

	addr, err := srv.Listen(ctx, m.addr)
	if err != nil {
		h.advance(StateClosed)
		m.notify(h, StateClosed)
		return nil, errors.New("H200").WithDetail("address " + m.addr).Wrap(err)
	}
	h.setAddr(addr)
	h.advance(StateActive)
	m.active = h
	m.notify(h, StateActive)

	m.logger.Debug("server active", "handle", h.ID, "epoch", epoch, "addr", addr)
	return h, nil
}

func (m *Manager) closeHandle(ctx context.Context, h *Handle) error {
	if !h.advance(StateClosing) {
		return nil
	}
	m.notify(h, StateClosing)

	closeCtx, cancel := context.WithTimeout(ctx, m.closeTimeout)
	defer cancel()

	start := time.Now()
	if err := h.server.Close(closeCtx); err != nil {
		m.logger.Warn("server failed to close", "handle", h.ID, "error", err)
		return errors.New("H201").WithDetail("address " + h.Addr()).Wrap(err)
	}
	h.advance(StateClosed)
	m.notify(h, StateClosed)

	m.logger.Debug("server closed", "handle", h.ID, "duration", time.Since(start))
	return nil
}

func (m *Manager) notify(h *Handle, s State) {
	if m.observer != nil {
		m.observer(h, s)
	}
}
