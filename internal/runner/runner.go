package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

const tracerName = "github.com/hotrun-dev/hotrun/internal/runner"

// ErrClosed is returned by a Runner after Close.
var ErrClosed = stderrors.New("runner closed")

// Fetcher resolves import specifiers and fetches transformed modules.
// *module.Loader is the default implementation.
type Fetcher interface {
	ResolveID(ctx context.Context, spec, importer string) (string, error)
	FetchModule(ctx context.Context, id string) (*module.Fetched, error)
}

// Runner evaluates modules on demand and caches their exports.
type Runner struct {
	entry   string
	fetcher Fetcher
	tracer  trace.Tracer
	logger  *slog.Logger

	sf singleflight.Group

	mu      sync.RWMutex
	entries map[string]*Entry
	gen     uint64
	closed  bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for evaluation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTracer sets the tracer used for evaluation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// New creates a runner for the given entry module.
func New(entry string, fetcher Fetcher, opts ...Option) *Runner {
	r := &Runner{
		entry:   normalize(entry),
		fetcher: fetcher,
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "runner")
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

// Entry returns the absolute path of the entry module.
func (r *Runner) Entry() string {
	return r.entry
}

// ExecuteEntry executes the entry module.
func (r *Runner) ExecuteEntry(ctx context.Context) (module.Exports, error) {
	return r.ExecuteFile(ctx, r.entry)
}

// ExecuteFile returns the exports of the module at path, evaluating it and
// its imports if they are not cached.
func (r *Runner) ExecuteFile(ctx context.Context, path string) (module.Exports, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	id, err := r.fetcher.ResolveID(ctx, path, "")
	if err != nil {
		return nil, err
	}
	e, err := r.execute(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Exports, nil
}

// Close drops the cache. Later executions fail with ErrClosed.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.entries = make(map[string]*Entry)
	return nil
}

func (r *Runner) execute(ctx context.Context, id string) (*Entry, error) {
	withStack, err := pushImportStack(ctx, id)
	if err != nil {
		return nil, err
	}
	if e, ok := r.lookup(id); ok {
		return e, nil
	}

	// Callers only share an evaluation that started after the last
	// invalidation.
	r.mu.RLock()
	gen := r.gen
	r.mu.RUnlock()
	key := id + "@" + strconv.FormatUint(gen, 10)

	v, err, _ := r.sf.Do(key, func() (any, error) {
		if e, ok := r.lookup(id); ok {
			return e, nil
		}
		return r.evaluate(withStack, id, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (r *Runner) evaluate(ctx context.Context, id string, gen uint64) (_ *Entry, err error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	ctx, span := r.tracer.Start(ctx, "module.evaluate",
		trace.WithAttributes(attribute.String("module.id", id)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	fetched, err := r.fetcher.FetchModule(ctx, id)
	if err != nil {
		return nil, err
	}

	imports := make(map[string]module.Exports, len(fetched.Imports))
	resolved := make([]string, 0, len(fetched.Imports))
	for _, spec := range fetched.Imports {
		depID, err := r.fetcher.ResolveID(ctx, spec, id)
		if err != nil {
			return nil, evaluationError(id, fmt.Errorf("import %q: %w", spec, err))
		}
		dep, err := r.execute(ctx, depID)
		if err != nil {
			return nil, err
		}
		imports[spec] = dep.Exports
		resolved = append(resolved, depID)
	}

	exports, err := call(ctx, fetched, imports)
	if err != nil {
		return nil, evaluationError(id, err)
	}
	if exports == nil {
		exports = module.Exports{}
	}

	e := &Entry{
		ID:          id,
		Exports:     exports,
		Imports:     resolved,
		Hash:        fetched.Hash,
		EvaluatedAt: time.Now(),
	}
	stored := r.store(e, gen)
	r.logger.Debug("module evaluated",
		"module", id,
		"imports", len(resolved),
		"cached", stored,
		"duration", time.Since(start),
	)
	return e, nil
}

func call(ctx context.Context, fetched *module.Fetched, imports map[string]module.Exports) (exports module.Exports, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fetched.Eval(ctx, module.NewModule(fetched.ID, fetched.Source, imports))
}

func evaluationError(id string, err error) error {
	var he *errors.HotrunError
	if stderrors.As(err, &he) && he.Code != "" {
		return err
	}
	return errors.New("H101").WithModule(id).Wrap(err)
}

type importStackKey struct{}

func pushImportStack(ctx context.Context, id string) (context.Context, error) {
	stack, _ := ctx.Value(importStackKey{}).([]string)
	for i := range stack {
		if stack[i] == id {
			cycle := append(append([]string(nil), stack[i:]...), id)
			return nil, errors.New("H102").
				WithModule(id).
				WithDetail(strings.Join(cycle, " -> "))
		}
	}
	next := make([]string, 0, len(stack)+1)
	next = append(next, stack...)
	next = append(next, id)
	return context.WithValue(ctx, importStackKey{}, next), nil
}
