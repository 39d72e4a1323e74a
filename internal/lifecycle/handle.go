package lifecycle

import (
	"sync"
	"time"
)

// State is the lifecycle state of a Handle.
type State int

const (
	StateCreated State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle is one server instance owned by a Manager.
type Handle struct {
	// ID is unique within the manager.
	ID uint64

	// Epoch is the reload epoch that created the handle.
	Epoch uint64

	server Server

	mu        sync.Mutex
	state     State
	addr      string
	createdAt time.Time
	activeAt  time.Time
}

// Addr returns the listening address, empty until the handle is active.
func (h *Handle) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Server returns the server instance behind the handle.
func (h *Handle) Server() Server {
	return h.server
}

// Startup returns how long the handle took to go from created to active.
func (h *Handle) Startup() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeAt.IsZero() {
		return 0
	}
	return h.activeAt.Sub(h.createdAt)
}

// advance moves the handle forward to s. Backward transitions are ignored.
func (h *Handle) advance(s State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s <= h.state {
		return false
	}
	h.state = s
	if s == StateActive {
		h.activeAt = time.Now()
	}
	return true
}

func (h *Handle) setAddr(addr string) {
	h.mu.Lock()
	h.addr = addr
	h.mu.Unlock()
}
