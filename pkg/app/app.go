package app

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Options is passed to a Factory for every server it creates.
type Options struct {
	// ForceCloseConnections closes lingering connections when a graceful
	// close does not finish in time.
	ForceCloseConnections bool

	// Logger for the server.
	Logger *slog.Logger
}

// Hook intercepts a request before routing. It returns true when it has
// written the response.
type Hook func(w http.ResponseWriter, r *http.Request) bool

// Server is what a Factory returns.
type Server interface {
	// Listen binds addr and serves in the background. It returns the
	// bound address.
	Listen(ctx context.Context, addr string) (string, error)

	// Close stops accepting connections and waits for them to drain.
	Close(ctx context.Context) error

	// AddHook registers a pre-routing hook.
	AddHook(h Hook)

	// SetNotFoundHandler replaces the handler for unmatched routes.
	SetNotFoundHandler(h http.Handler)
}

// App is a Server backed by a chi router.
type App struct {
	router *chi.Mux
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	hooks    []Hook
	notFound http.Handler

	srv  *http.Server
	done chan struct{}
}

// New creates an App.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		router:   chi.NewRouter(),
		opts:     opts,
		logger:   logger.With("component", "app"),
		notFound: http.NotFoundHandler(),
	}
	a.router.NotFound(a.serveNotFound)
	return a
}

// Router returns the router routes are registered on.
func (a *App) Router() chi.Router {
	return a.router
}

// AddHook implements Server.
func (a *App) AddHook(h Hook) {
	if h == nil {
		return
	}
	a.mu.Lock()
	a.hooks = append(a.hooks, h)
	a.mu.Unlock()
}

// SetNotFoundHandler implements Server.
func (a *App) SetNotFoundHandler(h http.Handler) {
	if h == nil {
		h = http.NotFoundHandler()
	}
	a.mu.Lock()
	a.notFound = h
	a.mu.Unlock()
}

// ServeHTTP runs the hooks in registration order, then the router.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	hooks := a.hooks
	a.mu.RUnlock()

	for _, h := range hooks {
		if h(w, r) {
			return
		}
	}
	a.router.ServeHTTP(w, r)
}

func (a *App) serveNotFound(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	h := a.notFound
	a.mu.RUnlock()
	h.ServeHTTP(w, r)
}

// Listen implements Server.
func (a *App) Listen(ctx context.Context, addr string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv != nil {
		return "", stderrors.New("app: already listening")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}

	a.srv = &http.Server{
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelDebug),
	}
	a.done = make(chan struct{})
	srv, done := a.srv, a.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			a.logger.Error("serve failed", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Close implements Server. With ForceCloseConnections, connections still
// open when ctx ends are closed and Close succeeds.
func (a *App) Close(ctx context.Context) error {
	a.mu.RLock()
	srv, done := a.srv, a.done
	a.mu.RUnlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil && a.opts.ForceCloseConnections {
		a.logger.Debug("forcing connections closed", "error", err)
		err = srv.Close()
	}
	if err != nil {
		return err
	}
	<-done
	return nil
}
