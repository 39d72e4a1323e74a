package dev

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hotrun-dev/hotrun/internal/assets"
	"github.com/hotrun-dev/hotrun/internal/config"
	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/internal/hmr"
	"github.com/hotrun-dev/hotrun/internal/keys"
	"github.com/hotrun-dev/hotrun/internal/lifecycle"
	"github.com/hotrun-dev/hotrun/internal/runner"
	"github.com/hotrun-dev/hotrun/internal/watch"
	"github.com/hotrun-dev/hotrun/pkg/app"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

// State is the orchestrator's state.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateReloadingPartial
	StateReloadingFull
	StateTerminating
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReloadingPartial:
		return "reloading-partial"
	case StateReloadingFull:
		return "reloading-full"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var errSuperseded = stderrors.New("reload superseded")

// StreamFactory creates the change stream for one cycle.
type StreamFactory func(ctx context.Context, cfg *config.Config) (hmr.Stream, error)

// Options configures an Orchestrator.
type Options struct {
	// Config is the project configuration. Required.
	Config *config.Config

	// Fetcher resolves and transforms modules. Defaults to a module.Loader
	// over Registry rooted at the project.
	Fetcher runner.Fetcher

	// Registry holds Go module definitions. Defaults to
	// module.DefaultRegistry.
	Registry *module.Registry

	// Keys receives the keyboard bindings. Defaults to a new dispatcher.
	Keys *keys.Dispatcher

	// Input, if set, is read for keystrokes while running.
	Input io.Reader

	// Streams creates each cycle's change stream. Defaults to a file
	// watcher over dev.watch.
	Streams StreamFactory

	// Assets transforms frontend assets. Defaults to the project files,
	// then frontend.remote when configured.
	Assets assets.Transformer

	// OpenURL opens the server address. Defaults to browser.OpenURL.
	OpenURL func(url string) error

	// Stdout and Stderr receive console output.
	Stdout io.Writer
	Stderr io.Writer

	// Logger for diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is the registry reload metrics are registered on.
	Metrics *prometheus.Registry

	// AppMetrics is served on the metrics path next to the reload
	// metrics, typically prometheus.DefaultGatherer.
	AppMetrics prometheus.Gatherer

	// Tracer for reload spans. Defaults to the global provider.
	Tracer trace.Tracer
}

// cycle is everything created by one startup or full reload.
type cycle struct {
	id        string
	epoch     uint64
	runner    *runner.Runner
	stream    hmr.Stream
	channel   *hmr.Channel
	disposers []keys.Disposer
}

// close releases the cycle in the order channel, stream, runner, keys.
func (c *cycle) close() {
	c.channel.Close()
	c.stream.Close()
	c.runner.Close()
	for _, dispose := range c.disposers {
		dispose()
	}
}

// cycleHandler receives hot-update outcomes for one cycle.
type cycleHandler struct {
	o *Orchestrator
	c *cycle
}

func (h cycleHandler) Update(ev hmr.UpdateEvent) {
	h.o.onUpdate(h.c, ev)
}

func (h cycleHandler) FullReload(reason string) {
	if !h.o.isCurrent(h.c) {
		return
	}
	h.o.spawn(func() { h.o.fullReload(reason) })
}

// Orchestrator runs a development session.
type Orchestrator struct {
	cfg     *config.Config
	fetcher runner.Fetcher
	keys    *keys.Dispatcher
	input   io.Reader
	streams StreamFactory
	openURL func(string) error
	console *console
	base    *slog.Logger
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	manager *lifecycle.Manager
	hub     *hmr.ClientHub
	hooks   *hooks
	epochs  Epochs

	ctx    context.Context
	fullMu sync.Mutex
	live   atomic.Pointer[runner.Runner]

	mu          sync.Mutex
	state       State
	cycle       *cycle
	terminating bool
	reloads     sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once
}

// withDefaults fills in every optional field.
func (opts Options) withDefaults() (Options, error) {
	cfg := opts.Config
	if cfg == nil {
		return opts, stderrors.New("dev: Config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Fetcher == nil {
		loader, err := module.NewLoader(cfg.Root(), opts.Registry)
		if err != nil {
			return opts, err
		}
		opts.Fetcher = loader
	}
	if opts.Keys == nil {
		opts.Keys = keys.NewDispatcher(keys.WithLogger(opts.Logger))
	}
	if opts.Streams == nil {
		opts.Streams = watchStreams(opts.Logger)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hotrun-dev/hotrun/internal/dev")
	}
	if opts.OpenURL == nil {
		opts.OpenURL = browser.OpenURL
	}
	if opts.Assets == nil {
		opts.Assets = defaultAssets(cfg)
	}
	return opts, nil
}

// New creates an orchestrator. Nothing runs until Run.
func New(opts Options) (*Orchestrator, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	cfg, base := opts.Config, opts.Logger

	o := &Orchestrator{
		cfg:     cfg,
		fetcher: opts.Fetcher,
		keys:    opts.Keys,
		input:   opts.Input,
		streams: opts.Streams,
		openURL: opts.OpenURL,
		console: newConsole(opts.Stdout, opts.Stderr),
		base:    base,
		logger:  base.With("component", "dev"),
		tracer:  opts.Tracer,
		ctx:     context.Background(),
		quit:    make(chan struct{}),
	}
	o.metrics = newMetrics(opts.Metrics, opts.AppMetrics, o.cacheSize)
	o.manager = lifecycle.NewManager(lifecycle.Options{
		Addr:         cfg.Address(),
		CloseTimeout: cfg.CloseTimeoutDuration(),
		Observer:     o.observe,
		Logger:       base,
	})
	if cfg.HotReloadEnabled() {
		o.hub = hmr.NewClientHub(base)
	}
	o.hooks = newHooks(cfg.FrontendRoot(), cfg.IndexPath(), opts.Assets, o.hub, o.metrics.handler(), o.logger)
	return o, nil
}

// watchStreams watches dev.watch plus the root files that always need a
// full reload.
func watchStreams(logger *slog.Logger) StreamFactory {
	return func(ctx context.Context, cfg *config.Config) (hmr.Stream, error) {
		paths := cfg.WatchPaths()
		for _, name := range hmr.DefaultFullReload {
			p := filepath.Join(cfg.Root(), name)
			if _, err := os.Stat(p); err == nil {
				paths = append(paths, p)
			}
		}
		return hmr.NewWatchStream(ctx, hmr.WatchOptions{
			Root: cfg.Root(),
			Watch: watch.Config{
				Paths:    paths,
				Ignore:   cfg.Dev.Ignore,
				Debounce: cfg.DebounceDuration(),
				Poll:     cfg.Dev.Poll,
			},
			FullReload: cfg.Dev.FullReload,
			Logger:     logger,
		}), nil
	}
}

func defaultAssets(cfg *config.Config) assets.Transformer {
	ts := []assets.Transformer{assets.NewFileTransformer(cfg.FrontendRoot())}
	if r := cfg.Frontend.Remote; r != nil {
		client := assets.NewS3Client(assets.RemoteConfig{
			Bucket:   r.Bucket,
			Region:   r.Region,
			Endpoint: r.Endpoint,
			Prefix:   r.Prefix,
		})
		ts = append(ts, assets.NewRemoteTransformer(client, r.Bucket, r.Prefix))
	}
	return assets.Chain(ts...)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.terminating {
		o.state = s
	}
}

// Active returns the active server handle, or nil.
func (o *Orchestrator) Active() *lifecycle.Handle {
	return o.manager.Active()
}

// Quit asks Run to shut down. It is safe to call more than once.
func (o *Orchestrator) Quit() {
	o.quitOnce.Do(func() { close(o.quit) })
}

// Run starts the application and serves until ctx is cancelled or Quit
// is called. A startup failure is returned and nothing keeps running.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.ctx = ctx

	start := time.Now()
	sctx, span := o.tracer.Start(ctx, "startup")
	epoch := o.epochs.Begin(true)
	h, err := o.startCycle(sctx, epoch, true)
	o.epochs.Done(true)
	if err != nil {
		o.metrics.reload(kindStartup, outcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		o.terminate()
		return errors.New("H501").WithModule(errors.ModuleOf(err)).Wrap(err)
	}
	o.launched(span, kindStartup, h, start)
	span.End()
	o.console.hints()

	disposeOpen := o.keys.Register([]rune{'o', 'щ'}, o.open)
	defer disposeOpen()

	if o.input != nil {
		go func() {
			if err := o.keys.Run(ctx, o.input); err != nil && ctx.Err() == nil {
				o.logger.Warn("keyboard input stopped", "error", err)
			}
		}()
	}

	o.setState(StateRunning)
	select {
	case <-ctx.Done():
	case <-o.quit:
	}
	o.terminate()
	return nil
}

// startCycle builds a cycle, executes the entry module and creates the
// server. An initial cycle is torn down on failure. A later cycle is
// kept without a server so the next change can retry.
func (o *Orchestrator) startCycle(ctx context.Context, epoch uint64, initial bool) (*lifecycle.Handle, error) {
	c, err := o.newCycle(epoch)
	if err != nil {
		return nil, err
	}
	gen := c.runner.Generation()
	factory, evalErr := o.evaluate(ctx, c)

	o.mu.Lock()
	if o.terminating || o.epochs.Superseded(epoch, true) {
		o.mu.Unlock()
		c.close()
		return nil, errSuperseded
	}
	if evalErr != nil {
		if initial {
			o.mu.Unlock()
			c.close()
			return nil, evalErr
		}
		o.install(c)
		o.mu.Unlock()
		if c.runner.Generation() != gen {
			o.spawn(func() { o.partialReload(c) })
		}
		return nil, evalErr
	}
	h, err := o.manager.Create(ctx, epoch, o.serverFactory(factory))
	if err != nil && initial {
		o.mu.Unlock()
		c.close()
		return nil, err
	}
	o.install(c)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// A change that raced the evaluation was not picked up by this server.
	if c.runner.Generation() != gen {
		o.spawn(func() { o.partialReload(c) })
	}
	return h, nil
}

func (o *Orchestrator) newCycle(epoch uint64) (*cycle, error) {
	c := &cycle{
		id:    uuid.NewString(),
		epoch: epoch,
	}
	c.runner = runner.New(o.cfg.EntryPath(), o.fetcher,
		runner.WithLogger(o.base),
		runner.WithTracer(o.tracer),
	)
	stream, err := o.streams(o.ctx, o.cfg)
	if err != nil {
		c.runner.Close()
		return nil, errors.New("H302").Wrap(err)
	}
	c.stream = stream
	c.channel = hmr.NewChannel(stream, c.runner, cycleHandler{o: o, c: c},
		hmr.WithLogger(o.base),
		hmr.WithErrorHandler(func(err error) {
			o.logger.Warn("hot-update payload ignored", "cycle", c.id, "error", err)
		}),
	)
	c.channel.Start(o.ctx)
	c.disposers = []keys.Disposer{
		o.keys.Register([]rune{'r', 'к'}, func() error {
			o.spawn(func() { o.fullReload("") })
			return nil
		}),
		o.keys.Register([]rune{'q', 'й'}, func() error {
			o.Quit()
			return nil
		}),
	}
	o.logger.Debug("cycle started", "cycle", c.id, "epoch", epoch)
	return c, nil
}

// install makes c the current cycle. o.mu must be held.
func (o *Orchestrator) install(c *cycle) {
	o.cycle = c
	o.live.Store(c.runner)
}

func (o *Orchestrator) isCurrent(c *cycle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycle == c && !o.terminating
}

// evaluate executes the entry module and extracts its factory.
func (o *Orchestrator) evaluate(ctx context.Context, c *cycle) (app.Factory, error) {
	exports, err := c.runner.ExecuteEntry(ctx)
	if err != nil {
		return nil, err
	}
	factory, err := app.FactoryFrom(exports)
	if err != nil {
		return nil, errors.FromError(err, "H103").WithModule(c.runner.Entry())
	}
	return factory, nil
}

// serverFactory adapts an application factory to the lifecycle manager
// and attaches the dev hooks to every server it creates.
func (o *Orchestrator) serverFactory(factory app.Factory) lifecycle.Factory {
	entry := o.cfg.EntryPath()
	return func(ctx context.Context) (srv lifecycle.Server, err error) {
		defer func() {
			if r := recover(); r != nil {
				srv = nil
				err = errors.New("H105").WithModule(entry).Wrap(fmt.Errorf("panic: %v", r))
			}
		}()

		s, err := factory(app.Options{ForceCloseConnections: true, Logger: o.base})
		if err != nil {
			return nil, errors.New("H105").WithModule(entry).Wrap(err)
		}
		if s == nil {
			return nil, errors.New("H105").WithModule(entry).WithDetail("createApp returned a nil server")
		}
		s.AddHook(o.hooks.onRequest)
		s.SetNotFoundHandler(http.HandlerFunc(o.hooks.notFound))
		return s, nil
	}
}

// spawn runs fn on a tracked goroutine unless the session is ending.
func (o *Orchestrator) spawn(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.terminating {
		return
	}
	o.reloads.Add(1)
	go func() {
		defer o.reloads.Done()
		fn()
	}()
}

func (o *Orchestrator) onUpdate(c *cycle, ev hmr.UpdateEvent) {
	for _, p := range ev.Changed {
		o.console.log("Changed: %s", o.rel(p))
	}
	if ev.EntryAffected {
		o.spawn(func() { o.partialReload(c) })
		return
	}
	notifyBrowsers(o.hub, o.console, ev)
}

// notifyBrowsers pushes a change that needs no re-execution to the
// connected pages: a stylesheet swap when only CSS changed, otherwise a
// page reload.
func notifyBrowsers(hub *hmr.ClientHub, c *console, ev hmr.UpdateEvent) {
	if hub == nil {
		return
	}
	if len(ev.CSS) == len(ev.Changed) {
		hub.NotifyCSS(ev.CSS...)
		c.log("CSS updated")
		return
	}
	hub.NotifyReload()
	c.log("Reloaded %d browsers", hub.ClientCount())
}

// partialReload re-executes the entry module through the warm runner of c
// and swaps the server.
func (o *Orchestrator) partialReload(c *cycle) {
	epoch := o.epochs.Begin(false)
	start := time.Now()
	ctx, span := o.tracer.Start(o.ctx, "reload.partial", trace.WithAttributes(
		attribute.Int64("reload.epoch", int64(epoch)),
		attribute.String("cycle.id", c.id),
	))
	defer span.End()
	o.setState(StateReloadingPartial)

	gen := c.runner.Generation()
	factory, evalErr := o.evaluate(ctx, c)

	o.mu.Lock()
	if o.terminating || o.cycle != c || o.epochs.Superseded(epoch, false) {
		o.mu.Unlock()
		o.superseded(span, kindPartial, epoch)
		return
	}
	if evalErr != nil {
		o.state = StateRunning
		o.mu.Unlock()
		o.reloadFailed(span, kindPartial, evalErr)
		return
	}
	h, err := o.manager.Swap(ctx, epoch, o.serverFactory(factory))
	o.state = StateRunning
	o.mu.Unlock()

	if err != nil {
		if stderrors.Is(err, lifecycle.ErrStale) {
			o.superseded(span, kindPartial, epoch)
			return
		}
		o.reloadFailed(span, kindPartial, err)
		return
	}
	o.launched(span, kindPartial, h, start)

	// The server came from exports that a later change already invalidated.
	if c.runner.Generation() != gen && o.isCurrent(c) {
		o.spawn(func() { o.partialReload(c) })
	}
}

// fullReload tears the current cycle down and starts a new one.
func (o *Orchestrator) fullReload(reason string) {
	epoch := o.epochs.Begin(true)
	defer o.epochs.Done(true)

	o.fullMu.Lock()
	defer o.fullMu.Unlock()

	start := time.Now()
	ctx, span := o.tracer.Start(o.ctx, "reload.full", trace.WithAttributes(
		attribute.Int64("reload.epoch", int64(epoch)),
		attribute.String("reload.reason", reason),
	))
	defer span.End()

	o.mu.Lock()
	if o.terminating || o.epochs.Superseded(epoch, true) {
		o.mu.Unlock()
		o.superseded(span, kindFull, epoch)
		return
	}
	o.state = StateReloadingFull
	old := o.cycle
	o.cycle = nil
	o.live.Store(nil)
	closeErr := o.manager.CloseActive(ctx, epoch)
	o.mu.Unlock()

	if reason != "" {
		o.console.log("Full reload: %s changed", o.rel(reason))
	} else {
		o.console.log("Full reload")
	}
	if closeErr != nil {
		o.console.reportError("Closing the server failed", closeErr)
	}
	if old != nil {
		old.close()
	}

	o.setState(StateStarting)
	h, err := o.startCycle(ctx, epoch, false)
	if err != nil {
		if stderrors.Is(err, errSuperseded) || stderrors.Is(err, lifecycle.ErrStale) {
			o.superseded(span, kindFull, epoch)
			return
		}
		o.setState(StateRunning)
		o.reloadFailed(span, kindFull, err)
		return
	}
	o.setState(StateRunning)
	o.launched(span, kindFull, h, start)
}

// terminate closes the active server before releasing everything else.
func (o *Orchestrator) terminate() {
	o.epochs.Begin(true)
	defer o.epochs.Done(true)

	o.mu.Lock()
	o.state = StateTerminating
	o.terminating = true
	c := o.cycle
	o.cycle = nil
	o.live.Store(nil)
	err := o.manager.Shutdown(context.Background())
	o.mu.Unlock()

	if err != nil {
		o.console.reportError("Closing the server failed", err)
	}
	if c != nil {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		o.reloads.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.CloseTimeoutDuration()):
		o.logger.Warn("reloads still running at shutdown")
	}

	if o.hub != nil {
		o.hub.Close()
	}

	o.mu.Lock()
	o.state = StateTerminated
	o.mu.Unlock()
}

func (o *Orchestrator) launched(span trace.Span, kind string, h *lifecycle.Handle, start time.Time) {
	d := time.Since(start)
	o.metrics.launched(kind, d)
	span.SetAttributes(attribute.String("server.addr", h.Addr()))

	label := "Reload"
	if kind == kindStartup {
		label = "Launch"
	}
	o.console.launched(config.URL(h.Addr()), label, d)

	if o.hub != nil {
		o.hub.ClearError()
		if kind != kindStartup {
			o.hub.NotifyReload()
		}
	}
}

func (o *Orchestrator) reloadFailed(span trace.Span, kind string, err error) {
	o.metrics.reload(kind, outcomeError)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if cat, ok := errors.CategoryOf(err); ok {
		span.SetAttributes(attribute.String("error.category", string(cat)))
	}

	o.console.reportError("Reload failed", err)
	if o.hub != nil {
		o.hub.NotifyError(err.Error(), errors.ModuleOf(err))
	}
	if h := o.manager.Active(); h != nil {
		o.console.log("Still serving the previous version on %s", config.URL(h.Addr()))
	} else {
		o.console.logError("No server is running. Save a file or press r to retry")
	}
}

func (o *Orchestrator) superseded(span trace.Span, kind string, epoch uint64) {
	o.metrics.reload(kind, outcomeSuperseded)
	span.SetAttributes(attribute.Bool("reload.superseded", true))
	o.logger.Debug("reload superseded", "kind", kind, "epoch", epoch)
}

func (o *Orchestrator) observe(h *lifecycle.Handle, s lifecycle.State) {
	switch s {
	case lifecycle.StateActive:
		o.metrics.activeServers.Inc()
	case lifecycle.StateClosing:
		o.metrics.activeServers.Dec()
	}
	o.logger.Debug("server state", "handle", h.ID, "epoch", h.Epoch, "state", s)
}

func (o *Orchestrator) cacheSize() float64 {
	if r := o.live.Load(); r != nil {
		return float64(r.Len())
	}
	return 0
}

// open opens the active server in the browser.
func (o *Orchestrator) open() error {
	h := o.manager.Active()
	if h == nil {
		return stderrors.New("no server is running")
	}
	return o.openURL(config.URL(browserAddr(h.Addr())))
}

// browserAddr replaces an unspecified listen host with localhost.
func browserAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func (o *Orchestrator) rel(p string) string {
	return relTo(o.cfg.Root(), p)
}

// relTo returns p relative to root for display, or p itself when it lies
// outside root.
func relTo(root, p string) string {
	if r, err := filepath.Rel(root, p); err == nil && !filepath.IsAbs(r) && len(r) > 0 && r[0] != '.' {
		return filepath.ToSlash(r)
	}
	return p
}
