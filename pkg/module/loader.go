package module

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

var (
	// ErrNotFound is returned when a specifier resolves to nothing.
	ErrNotFound = stderrors.New("module not found")

	// ErrNoEvaluator is returned for files with no evaluator.
	ErrNoEvaluator = stderrors.New("no evaluator for module")

	// ErrOutsideRoot is returned for specifiers that leave the project root.
	ErrOutsideRoot = stderrors.New("module outside the project root")
)

// Loader resolves and transforms modules under a project root. It is the
// default Fetcher used by the module runner.
type Loader struct {
	root       string
	registry   *Registry
	evaluators map[string]EvalFunc
}

// NewLoader creates a loader for root backed by registry. A nil registry
// means DefaultRegistry.
func NewLoader(root string, registry *Registry) (*Loader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Loader{
		root:       filepath.Clean(abs),
		registry:   registry,
		evaluators: defaultEvaluators(),
	}, nil
}

// Root returns the absolute project root.
func (l *Loader) Root() string {
	return l.root
}

// Normalize turns a root-relative or absolute path into a module ID.
func (l *Loader) Normalize(p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) && l.within(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(l.root, strings.TrimPrefix(p, string(filepath.Separator)))
}

// ResolveID resolves spec as imported by importer. An empty importer
// resolves relative specifiers against the root.
func (l *Loader) ResolveID(_ context.Context, spec, importer string) (string, error) {
	if strings.TrimSpace(spec) == "" {
		return "", fmt.Errorf("resolve %q: empty specifier", spec)
	}

	var id string
	switch {
	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		base := l.root
		if importer != "" {
			base = filepath.Dir(importer)
		}
		id = filepath.Join(base, filepath.FromSlash(spec))
	default:
		id = l.Normalize(spec)
	}
	if !l.within(id) {
		return "", errors.New("H100").WithModule(id).Wrap(ErrOutsideRoot)
	}

	if _, ok := l.registry.Lookup(l.rel(id)); ok {
		return id, nil
	}
	if _, err := os.Stat(id); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", errors.New("H100").WithModule(id).Wrap(ErrNotFound)
		}
		return "", errors.New("H100").WithModule(id).Wrap(err)
	}
	return id, nil
}

// FetchModule reads and transforms the module with the given ID.
func (l *Loader) FetchModule(_ context.Context, id string) (*Fetched, error) {
	def, registered := l.registry.Lookup(l.rel(id))

	source, err := os.ReadFile(id)
	if err != nil {
		// Registered Go modules may be virtual.
		if !(registered && stderrors.Is(err, fs.ErrNotExist)) {
			if stderrors.Is(err, fs.ErrNotExist) {
				err = ErrNotFound
			}
			return nil, errors.New("H100").WithModule(id).Wrap(err)
		}
		source = nil
	}

	fetched := &Fetched{
		ID:     id,
		Source: source,
	}
	if source != nil {
		fetched.Hash = xxhash.Sum64(source)
	}

	if registered {
		fetched.Imports = append([]string(nil), def.Imports...)
		fetched.Eval = def.Eval
		return fetched, nil
	}

	eval, ok := l.evaluators[strings.ToLower(filepath.Ext(id))]
	if !ok {
		return nil, errors.New("H104").
			WithModule(id).
			WithSuggestion("Register a Go definition for " + l.rel(id) + " with module.Register").
			Wrap(ErrNoEvaluator)
	}
	fetched.Eval = eval
	return fetched, nil
}

// Hash returns the current content hash of a module file.
func (l *Loader) Hash(id string) (uint64, error) {
	source, err := os.ReadFile(id)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(source), nil
}

func (l *Loader) within(p string) bool {
	rel, err := filepath.Rel(l.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (l *Loader) rel(id string) string {
	rel, err := filepath.Rel(l.root, id)
	if err != nil {
		return id
	}
	return filepath.ToSlash(rel)
}
