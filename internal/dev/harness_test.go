package dev

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hotrun-dev/hotrun/internal/config"
	"github.com/hotrun-dev/hotrun/internal/hmr"
	"github.com/hotrun-dev/hotrun/internal/keys"
	"github.com/hotrun-dev/hotrun/pkg/app"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

// fakeApp is an app.Server that never binds a socket.
type fakeApp struct {
	version string
	log     *serverLog

	mu       sync.Mutex
	addr     string
	closed   bool
	hooks    []app.Hook
	notFound http.Handler
}

func (s *fakeApp) Listen(_ context.Context, addr string) (string, error) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
	s.log.listen(s, addr)
	return addr, nil
}

func (s *fakeApp) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.log.close(s)
	return nil
}

func (s *fakeApp) AddHook(h app.Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *fakeApp) SetNotFoundHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notFound = h
}

func (s *fakeApp) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// serverLog records every listen and close across server instances.
type serverLog struct {
	mu      sync.Mutex
	listens []string
	servers []*fakeApp
	open    map[*fakeApp]bool
	maxOpen int
}

func newServerLog() *serverLog {
	return &serverLog{open: make(map[*fakeApp]bool)}
}

func (l *serverLog) listen(s *fakeApp, addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listens = append(l.listens, addr)
	l.servers = append(l.servers, s)
	l.open[s] = true
	if len(l.open) > l.maxOpen {
		l.maxOpen = len(l.open)
	}
}

func (l *serverLog) close(s *fakeApp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.open, s)
}

func (l *serverLog) snapshot() (listens []string, open, maxOpen int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.listens...), len(l.open), l.maxOpen
}

func (l *serverLog) server(i int) *fakeApp {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.servers[i]
}

// entryModule is the application entry. It imports ./config.json and
// creates servers labelled with its version field.
type entryModule struct {
	log   *serverLog
	evals atomic.Int32

	// real makes the factory return an app.App that serves its version
	// on GET /version.
	real bool

	mu      sync.Mutex
	fail    error
	gate    chan struct{}
	started chan struct{}
}

func (e *entryModule) setFail(err error) {
	e.mu.Lock()
	e.fail = err
	e.mu.Unlock()
}

// blockNext makes the next evaluation wait until the returned function
// is called.
func (e *entryModule) blockNext() (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.gate = gate
	e.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (e *entryModule) eval(_ context.Context, m *module.Module) (module.Exports, error) {
	e.evals.Add(1)
	e.mu.Lock()
	fail, gate := e.fail, e.gate
	e.gate = nil
	e.mu.Unlock()

	select {
	case e.started <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	if fail != nil {
		return nil, fail
	}

	cfg, _ := module.Default[map[string]any](m.Import("./config.json"))
	version, _ := cfg["version"].(string)
	if e.real {
		return module.Exports{
			app.CreateAppExport: func(opts app.Options) *app.App {
				a := app.New(opts)
				a.Router().Get("/version", func(w http.ResponseWriter, _ *http.Request) {
					io.WriteString(w, version)
				})
				return a
			},
		}, nil
	}
	return module.Exports{
		app.CreateAppExport: app.Factory(func(app.Options) (app.Server, error) {
			return &fakeApp{version: version, log: e.log}, nil
		}),
	}, nil
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t      *testing.T
	root   string
	o      *Orchestrator
	keys   *keys.Dispatcher
	log    *serverLog
	entry  *entryModule
	stdout *syncBuffer
	stderr *syncBuffer
	opened chan string
	done   chan error

	mu      sync.Mutex
	streams []*hmr.Emitter
}

func newHarness(t *testing.T, configure ...func(*config.Config)) *harness {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "backend", "config.json"), `{"version": "v1"}`)

	log := newServerLog()
	entry := &entryModule{log: log, started: make(chan struct{}, 16)}
	registry := module.NewRegistry()
	registry.MustRegister("src/backend/app.go", module.Definition{
		Imports: []string{"./config.json"},
		Eval:    entry.eval,
	})

	cfg := config.New()
	cfg.SetRoot(root)
	cfg.Dev.CloseTimeout = "1s"
	for _, fn := range configure {
		fn(cfg)
	}

	h := &harness{
		t:      t,
		root:   root,
		log:    log,
		entry:  entry,
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		opened: make(chan string, 4),
		done:   make(chan error, 1),
	}
	h.keys = keys.NewDispatcher(
		keys.WithInterrupt(func() {}),
		keys.WithErrorHandler(func(err error) { t.Logf("key command: %v", err) }),
	)

	o, err := New(Options{
		Config:   cfg,
		Registry: registry,
		Keys:     h.keys,
		Streams: func(context.Context, *config.Config) (hmr.Stream, error) {
			e := hmr.NewEmitter()
			h.mu.Lock()
			h.streams = append(h.streams, e)
			h.mu.Unlock()
			return e, nil
		},
		OpenURL: func(url string) error {
			h.opened <- url
			return nil
		},
		Stdout: h.stdout,
		Stderr: h.stderr,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o
	return h
}

// start runs the orchestrator and waits for the first server.
func (h *harness) start() {
	h.t.Helper()
	h.run()
	h.eventually("startup", func() bool { return h.o.Active() != nil && h.o.State() == StateRunning })
}

// run starts the orchestrator without waiting for it.
func (h *harness) run() {
	go func() { h.done <- h.o.Run(context.Background()) }()
	h.t.Cleanup(func() {
		h.o.Quit()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
		}
	})
}

// stop quits and waits for Run to return.
func (h *harness) stop() error {
	h.t.Helper()
	h.o.Quit()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("Run did not return after Quit")
		return nil
	}
}

func (h *harness) stream() *hmr.Emitter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[len(h.streams)-1]
}

func (h *harness) streamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// change rewrites the config module and announces it.
func (h *harness) change(version string) {
	h.t.Helper()
	p := filepath.Join(h.root, "src", "backend", "config.json")
	writeFile(h.t, p, `{"version": "`+version+`"}`)
	h.stream().SendPayload(hmr.Payload{
		Type:    hmr.PayloadUpdate,
		Updates: []hmr.Update{{Type: hmr.UpdateModule, Path: p}},
	})
}

func (h *harness) activeVersion() string {
	a := h.o.Active()
	if a == nil {
		return ""
	}
	return a.Server().(*fakeApp).version
}

func (h *harness) metrics() string {
	rec := httptest.NewRecorder()
	h.o.metrics.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	return rec.Body.String()
}

func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s\nstdout:\n%s\nstderr:\n%s", what, h.stdout, h.stderr)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
