package runner

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/hotrun-dev/hotrun/pkg/module"
)

// Entry is one evaluated module held in the cache.
type Entry struct {
	// ID is the absolute path of the module.
	ID string

	// Exports are the values produced by the most recent evaluation.
	Exports module.Exports

	// Imports are the resolved IDs of the module's imports.
	Imports []string

	// Hash is the content hash of the source that was evaluated.
	Hash uint64

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time
}

// lookupLocked returns a cached entry. Caller must hold r.mu.
func (r *Runner) lookupLocked(id string) (*Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

func (r *Runner) lookup(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(id)
}

// store caches e unless the cache changed since generation gen.
func (r *Runner) store(e *Entry, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.gen != gen {
		return false
	}
	r.entries[e.ID] = e
	return true
}

// Invalidate evicts every cached module whose import chain reaches one of
// paths, and returns the evicted IDs in sorted order. Entries outside
// those chains are kept.
func (r *Runner) Invalidate(paths []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	// Any evaluation in flight may have read an invalidated module.
	r.gen++

	importers := make(map[string][]string, len(r.entries))
	for id, e := range r.entries {
		for _, dep := range e.Imports {
			importers[dep] = append(importers[dep], id)
		}
	}

	seen := make(map[string]struct{})
	queue := make([]string, 0, len(paths))
	for _, p := range paths {
		queue = append(queue, normalize(p))
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		queue = append(queue, importers[id]...)
	}

	var evicted []string
	for id := range seen {
		if _, ok := r.entries[id]; ok {
			delete(r.entries, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Cached reports whether path has a cache entry.
func (r *Runner) Cached(path string) bool {
	_, ok := r.lookup(normalize(path))
	return ok
}

// Generation counts invalidations. It moves whenever Invalidate runs, so
// exports read at one generation are current only while it is unchanged.
func (r *Runner) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// Entries returns a snapshot of the cache sorted by ID.
func (r *Runner) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		c := *e
		c.Imports = append([]string(nil), e.Imports...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of cached modules.
func (r *Runner) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func normalize(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
