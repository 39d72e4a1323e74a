// Package runner executes modules in-process and caches their exports.
//
// A Runner is bound to one entry module for its whole lifetime. The first
// ExecuteFile call resolves and evaluates the module graph through a Fetcher
// and stores every successful evaluation in the cache, keyed by absolute
// path. Later calls return cached exports until the entry is invalidated.
//
// Invalidation walks the reverse import edges of the cached graph:
//
//	evicted := r.Invalidate([]string{"/app/src/backend/routes.yaml"})
//	// evicted contains routes.yaml and every cached module that imports it,
//	// directly or transitively. Unrelated entries stay warm.
//
// A failing evaluation is never cached, so the next call starts over.
package runner
