package hmr

import (
	"sync"
)

// Stream is a source of encoded payloads.
type Stream interface {
	// Subscribe registers fn for every payload and returns a function
	// that removes it.
	Subscribe(fn func([]byte)) (unsubscribe func())

	// Close stops the stream. Subscribers receive nothing afterwards.
	Close() error
}

// Emitter is an in-process Stream. Send delivers synchronously to every
// subscriber in subscription order.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[uint64]func([]byte)
	order  []uint64
	next   uint64
	closed bool
}

// NewEmitter creates an open emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[uint64]func([]byte))}
}

// Subscribe implements Stream.
func (e *Emitter) Subscribe(fn func([]byte)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || fn == nil {
		return func() {}
	}
	e.next++
	id := e.next
	e.subs[id] = fn
	e.order = append(e.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.subs, id)
			for i, v := range e.order {
				if v == id {
					e.order = append(e.order[:i:i], e.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Send delivers data to every subscriber. It reports false once closed.
func (e *Emitter) Send(data []byte) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	fns := make([]func([]byte), 0, len(e.order))
	for _, id := range e.order {
		fns = append(fns, e.subs[id])
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(data)
	}
	return true
}

// SendPayload encodes and sends p.
func (e *Emitter) SendPayload(p Payload) bool {
	return e.Send(Encode(p))
}

// Subscribers returns the number of live subscriptions.
func (e *Emitter) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Close implements Stream.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.subs = make(map[uint64]func([]byte))
	e.order = nil
	return nil
}
