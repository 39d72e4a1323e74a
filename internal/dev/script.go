package dev

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hotrun-dev/hotrun/internal/config"
	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/internal/hmr"
	"github.com/hotrun-dev/hotrun/internal/keys"
	"github.com/hotrun-dev/hotrun/internal/runner"
	"github.com/hotrun-dev/hotrun/pkg/app"
)

// Script runs an entry module that starts no server of its own. The
// frontend is served by a separate dev server, and the entry is executed
// again whenever one of its imports changes.
type Script struct {
	cfg     *config.Config
	keys    *keys.Dispatcher
	input   io.Reader
	streams StreamFactory
	openURL func(string) error
	console *console
	base    *slog.Logger
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	hub     *hmr.ClientHub
	runner  *runner.Runner

	frontend *app.App

	mu      sync.Mutex
	addr    string
	dispose app.Dispose
	pending bool
	restart bool

	wake     chan struct{}
	loopDone chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

// NewScript creates a script session. Nothing runs until Run.
func NewScript(opts Options) (*Script, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	cfg, base := opts.Config, opts.Logger

	s := &Script{
		cfg:      cfg,
		keys:     opts.Keys,
		input:    opts.Input,
		streams:  opts.Streams,
		openURL:  opts.OpenURL,
		console:  newConsole(opts.Stdout, opts.Stderr),
		base:     base,
		logger:   base.With("component", "script"),
		tracer:   opts.Tracer,
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
		quit:     make(chan struct{}),
	}
	s.runner = runner.New(cfg.EntryPath(), opts.Fetcher,
		runner.WithLogger(base),
		runner.WithTracer(opts.Tracer),
	)
	s.metrics = newMetrics(opts.Metrics, opts.AppMetrics, func() float64 { return float64(s.runner.Len()) })
	if cfg.HotReloadEnabled() {
		s.hub = hmr.NewClientHub(base)
	}

	h := newHooks(cfg.FrontendRoot(), cfg.IndexPath(), opts.Assets, s.hub, s.metrics.handler(), s.logger)
	s.frontend = app.New(app.Options{ForceCloseConnections: true, Logger: base})
	s.frontend.AddHook(h.onRequest)
	s.frontend.SetNotFoundHandler(http.HandlerFunc(h.notFound))
	return s, nil
}

// Addr returns the address the frontend server listens on, or "" before
// Run.
func (s *Script) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Quit asks Run to shut down. It is safe to call more than once.
func (s *Script) Quit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Run serves the frontend, executes the entry module and re-executes it
// on changes until ctx is cancelled or Quit is called.
func (s *Script) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	start := time.Now()

	addr, err := s.frontend.Listen(ctx, s.cfg.FrontendAddress())
	if err != nil {
		return errors.New("H501").Wrap(errors.New("H200").Wrap(err))
	}
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()

	stream, err := s.streams(ctx, s.cfg)
	if err != nil {
		s.closeFrontend()
		return errors.New("H501").Wrap(errors.New("H302").Wrap(err))
	}
	channel := hmr.NewChannel(stream, s.runner, scriptHandler{s: s},
		hmr.WithLogger(s.base),
		hmr.WithErrorHandler(func(err error) {
			s.logger.Warn("hot-update payload ignored", "error", err)
		}),
	)
	channel.Start(ctx)

	if err := s.execute(ctx, kindStartup, start); err != nil {
		channel.Close()
		stream.Close()
		s.runner.Close()
		s.closeFrontend()
		return errors.New("H501").WithModule(errors.ModuleOf(err)).Wrap(err)
	}

	s.console.log("App successfully launched! Launch time: %s", formatSeconds(time.Since(start)))
	s.console.log("Frontend on %s", s.console.style(urlStyle, config.URL(browserAddr(addr))))
	s.console.hints()

	disposers := []keys.Disposer{
		s.keys.Register([]rune{'r', 'к'}, func() error {
			s.console.log("Restarting the app")
			s.request(true)
			return nil
		}),
		s.keys.Register([]rune{'o', 'щ'}, s.open),
		s.keys.Register([]rune{'q', 'й'}, func() error {
			s.Quit()
			return nil
		}),
	}

	if s.input != nil {
		go func() {
			if err := s.keys.Run(ctx, s.input); err != nil && ctx.Err() == nil {
				s.logger.Warn("keyboard input stopped", "error", err)
			}
		}()
	}
	go s.loop(ctx)

	select {
	case <-ctx.Done():
	case <-s.quit:
	}

	for _, dispose := range disposers {
		dispose()
	}
	channel.Close()
	stream.Close()
	select {
	case <-s.loopDone:
	case <-time.After(s.cfg.CloseTimeoutDuration()):
		s.logger.Warn("execution still running at shutdown")
	}
	if err := s.disposePrevious(context.Background()); err != nil {
		s.console.reportError("Dispose failed", err)
	}
	s.runner.Close()
	s.closeFrontend()
	return nil
}

// request schedules an execution. Requests made while one is queued are
// merged, and a restart is never downgraded.
func (s *Script) request(restart bool) {
	s.mu.Lock()
	s.pending = true
	s.restart = s.restart || restart
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop runs requested executions one at a time.
func (s *Script) loop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		pending, restart := s.pending, s.restart
		s.pending, s.restart = false, false
		s.mu.Unlock()
		if !pending {
			continue
		}

		kind := kindPartial
		if restart {
			kind = kindFull
			ids := make([]string, 0, s.runner.Len())
			for _, e := range s.runner.Entries() {
				ids = append(ids, e.ID)
			}
			s.runner.Invalidate(ids)
		}
		s.execute(ctx, kind, time.Now())
	}
}

// execute disposes the previous evaluation and executes the entry module.
func (s *Script) execute(ctx context.Context, kind string, start time.Time) error {
	ctx, span := s.tracer.Start(ctx, "script."+kind)
	defer span.End()

	if err := s.disposePrevious(ctx); err != nil {
		s.console.reportError("Dispose failed", err)
	}

	exports, err := s.runner.ExecuteEntry(ctx)
	var dispose app.Dispose
	if err == nil {
		dispose, err = app.DisposeFrom(exports)
		if err != nil {
			err = errors.FromError(err, "H106").WithModule(s.runner.Entry())
		}
	}
	if err != nil {
		s.metrics.reload(kind, outcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind != kindStartup {
			s.console.reportError("Reload failed", err)
			s.console.logError("The app is not running. Save a file or press r to retry")
			if s.hub != nil {
				s.hub.NotifyError(err.Error(), errors.ModuleOf(err))
			}
		}
		return err
	}

	s.mu.Lock()
	s.dispose = dispose
	s.mu.Unlock()

	d := time.Since(start)
	s.metrics.launched(kind, d)
	if s.hub != nil {
		s.hub.ClearError()
	}
	if kind != kindStartup {
		s.console.log("App reloaded. Reload time: %s", formatSeconds(d))
	}
	return nil
}

// disposePrevious runs the dispose export of the last successful
// execution, at most once.
func (s *Script) disposePrevious(ctx context.Context) (err error) {
	s.mu.Lock()
	dispose := s.dispose
	s.dispose = nil
	s.mu.Unlock()
	if dispose == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CloseTimeoutDuration())
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose panicked: %v", r)
		}
	}()
	return dispose(ctx)
}

func (s *Script) closeFrontend() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeoutDuration())
	defer cancel()
	if err := s.frontend.Close(ctx); err != nil {
		s.logger.Warn("closing the frontend server failed", "error", err)
	}
	if s.hub != nil {
		s.hub.Close()
	}
}

// open opens the frontend server in the browser.
func (s *Script) open() error {
	addr := s.Addr()
	if addr == "" {
		return stderrors.New("the frontend server is not running")
	}
	return s.openURL(config.URL(browserAddr(addr)))
}

// scriptHandler receives hot-update outcomes for a Script.
type scriptHandler struct {
	s *Script
}

func (h scriptHandler) Update(ev hmr.UpdateEvent) {
	for _, p := range ev.Changed {
		h.s.console.log("Changed: %s", relTo(h.s.cfg.Root(), p))
	}
	if ev.EntryAffected {
		h.s.request(false)
		return
	}
	notifyBrowsers(h.s.hub, h.s.console, ev)
}

func (h scriptHandler) FullReload(reason string) {
	if reason != "" {
		h.s.console.log("Full reload: %s changed", relTo(h.s.cfg.Root(), reason))
	} else {
		h.s.console.log("Full reload")
	}
	h.s.request(true)
}
