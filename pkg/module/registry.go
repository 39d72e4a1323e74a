package module

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry maps root-relative source paths to Go module definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// DefaultRegistry is the registry used by Register and by the dev CLI.
var DefaultRegistry = NewRegistry()

// Register adds a definition to DefaultRegistry and panics on conflict.
// It is intended to be called from init functions.
func Register(sourcePath string, def Definition) {
	DefaultRegistry.MustRegister(sourcePath, def)
}

// Register adds a definition for a root-relative source path.
func (r *Registry) Register(sourcePath string, def Definition) error {
	key, err := registryKey(sourcePath)
	if err != nil {
		return err
	}
	if def.Eval == nil {
		return fmt.Errorf("register module %s: eval is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[key]; exists {
		return fmt.Errorf("register module %s: already registered", key)
	}
	def.Imports = append([]string(nil), def.Imports...)
	r.defs[key] = def
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(sourcePath string, def Definition) {
	if err := r.Register(sourcePath, def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition registered for a root-relative path.
func (r *Registry) Lookup(sourcePath string) (Definition, bool) {
	key, err := registryKey(sourcePath)
	if err != nil {
		return Definition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key]
	return def, ok
}

// Paths returns the registered source paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for key := range r.defs {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func registryKey(sourcePath string) (string, error) {
	p := strings.TrimSpace(filepath.ToSlash(sourcePath))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	p = path.Clean(p)
	if p == "." || p == "" || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("invalid module path %q", sourcePath)
	}
	return p, nil
}
