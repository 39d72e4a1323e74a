package dev

import "sync"

// Epochs stamps reload attempts with a monotonically increasing number.
type Epochs struct {
	mu          sync.Mutex
	current     uint64
	lastFull    uint64
	pendingFull int
}

// Begin starts an attempt and returns its epoch. A full attempt stays
// pending until Done.
func (e *Epochs) Begin(full bool) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current++
	if full {
		e.lastFull = e.current
		e.pendingFull++
	}
	return e.current
}

// Done ends a full attempt. It is a no-op for partial attempts.
func (e *Epochs) Done(full bool) {
	if !full {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingFull > 0 {
		e.pendingFull--
	}
}

// Superseded reports whether the attempt begun at epoch must be
// discarded. A full attempt is superseded only by a later full attempt.
// A partial attempt is superseded by any later attempt and by a full
// attempt still in progress.
func (e *Epochs) Superseded(epoch uint64, full bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastFull > epoch {
		return true
	}
	if full {
		return false
	}
	return e.current > epoch || e.pendingFull > 0
}
