package hmr

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeCache struct {
	mu          sync.Mutex
	entry       string
	cached      map[string]bool
	importers   map[string][]string
	invalidated [][]string
}

func (c *fakeCache) Entry() string { return c.entry }

func (c *fakeCache) Cached(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached[path]
}

func (c *fakeCache) Invalidate(paths []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	queue := append([]string(nil), paths...)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if c.cached[p] {
			delete(c.cached, p)
			out = append(out, p)
		}
		queue = append(queue, c.importers[p]...)
	}
	sort.Strings(out)
	c.invalidated = append(c.invalidated, out)
	return out
}

type recorder struct {
	updates chan UpdateEvent
	fulls   chan string
}

func newRecorder() *recorder {
	return &recorder{updates: make(chan UpdateEvent, 10), fulls: make(chan string, 10)}
}

func (r *recorder) Update(ev UpdateEvent)    { r.updates <- ev }
func (r *recorder) FullReload(reason string) { r.fulls <- reason }

func newTestCache() *fakeCache {
	return &fakeCache{
		entry: "/p/app.go",
		cached: map[string]bool{
			"/p/app.go":     true,
			"/p/routes.yml": true,
			"/p/other.json": true,
		},
		importers: map[string][]string{"/p/routes.yml": {"/p/app.go"}},
	}
}

func update(paths ...string) []byte {
	p := Payload{Type: PayloadUpdate}
	for _, path := range paths {
		p.Updates = append(p.Updates, Update{Type: UpdateModule, Path: path})
	}
	return Encode(p)
}

func TestChannel_Update(t *testing.T) {
	e := NewEmitter()
	cache := newTestCache()
	rec := newRecorder()
	c := NewChannel(e, cache, rec)
	c.Start(context.Background())
	defer c.Close()

	e.Send(update("/p/routes.yml"))

	select {
	case ev := <-rec.updates:
		if !ev.EntryAffected {
			t.Error("entry should be affected")
		}
		if len(ev.Invalidated) != 2 || ev.Invalidated[0] != "/p/app.go" || ev.Invalidated[1] != "/p/routes.yml" {
			t.Errorf("Invalidated = %v", ev.Invalidated)
		}
	case <-time.After(time.Second):
		t.Fatal("no update event")
	}
	if !cache.Cached("/p/other.json") {
		t.Error("unrelated module evicted")
	}
}

func TestChannel_UpdateNotAffectingEntry(t *testing.T) {
	e := NewEmitter()
	cache := newTestCache()
	rec := newRecorder()
	c := NewChannel(e, cache, rec)
	c.Start(context.Background())
	defer c.Close()

	e.Send(update("/p/other.json"))
	ev := <-rec.updates
	if ev.EntryAffected {
		t.Error("entry should not be affected")
	}
	if len(ev.Changed) != 1 || ev.Changed[0] != "/p/other.json" {
		t.Errorf("Changed = %v", ev.Changed)
	}
}

func TestChannel_CSSUpdate(t *testing.T) {
	e := NewEmitter()
	rec := newRecorder()
	c := NewChannel(e, newTestCache(), rec)
	c.Start(context.Background())
	defer c.Close()

	e.SendPayload(Payload{Type: PayloadUpdate, Updates: []Update{{Type: UpdateCSS, Path: "/p/site.css"}}})
	ev := <-rec.updates
	if len(ev.CSS) != 1 || ev.CSS[0] != "/p/site.css" {
		t.Errorf("CSS = %v", ev.CSS)
	}
}

func TestChannel_FullReloadWinsInBatch(t *testing.T) {
	cache := newTestCache()
	rec := newRecorder()
	c := NewChannel(NewEmitter(), cache, rec)

	c.handle([][]byte{
		update("/p/routes.yml"),
		Encode(Payload{Type: PayloadFullReload, Path: "/p/go.mod"}),
		update("/p/other.json"),
	})

	select {
	case reason := <-rec.fulls:
		if reason != "/p/go.mod" {
			t.Errorf("reason = %q", reason)
		}
	default:
		t.Fatal("no full reload")
	}
	select {
	case ev := <-rec.updates:
		t.Errorf("update delivered alongside full reload: %+v", ev)
	default:
	}
	if len(cache.invalidated) != 0 {
		t.Errorf("cache invalidated during full reload: %v", cache.invalidated)
	}
}

func TestChannel_MalformedIgnored(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	e := NewEmitter()
	rec := newRecorder()
	c := NewChannel(e, newTestCache(), rec, WithErrorHandler(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))

	c.handle([][]byte{
		[]byte("not json"),
		[]byte(`{"type":"prune"}`),
		update("/p/other.json"),
	})

	if len(errs) != 2 {
		t.Errorf("errors = %v, want 2", errs)
	}
	select {
	case <-rec.updates:
	default:
		t.Error("valid update in the same batch was dropped")
	}
}

func TestChannel_IgnoresClientPayloads(t *testing.T) {
	rec := newRecorder()
	c := NewChannel(NewEmitter(), newTestCache(), rec, WithErrorHandler(func(err error) {
		t.Errorf("unexpected error: %v", err)
	}))
	c.handle([][]byte{
		Encode(Payload{Type: PayloadConnected}),
		Encode(Payload{Type: PayloadClear}),
	})
	if len(rec.updates) != 0 || len(rec.fulls) != 0 {
		t.Error("client payloads triggered the handler")
	}
}

func TestChannel_Close(t *testing.T) {
	e := NewEmitter()
	rec := newRecorder()
	c := NewChannel(e, newTestCache(), rec)
	c.Start(context.Background())

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if e.Subscribers() != 0 {
		t.Errorf("Subscribers after Close = %d", e.Subscribers())
	}
	e.Send(update("/p/routes.yml"))
	select {
	case <-rec.updates:
		t.Error("update delivered after Close")
	case <-time.After(50 * time.Millisecond):
	}

	// Start after Close is a no-op.
	c.Start(context.Background())
	if e.Subscribers() != 0 {
		t.Error("Start after Close subscribed again")
	}
}

func TestChannel_CloseWithoutStart(t *testing.T) {
	c := NewChannel(NewEmitter(), newTestCache(), newRecorder())
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close without Start blocked")
	}
}

type discard struct{}

func (discard) Update(UpdateEvent) {}
func (discard) FullReload(string)  {}

func TestChannel_ContextCancel(t *testing.T) {
	e := NewEmitter()
	c := NewChannel(e, newTestCache(), discard{})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()

	// Sends must not block once the loop has stopped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Send(update("/p/other.json"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked after context cancel")
	}
	c.Close()
}
