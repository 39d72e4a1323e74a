package module

import (
	"context"
	"path/filepath"
)

// Exports holds the named values a module produced when it was executed.
type Exports map[string]any

// DefaultExport is the export name data modules use for their parsed value.
const DefaultExport = "default"

// Get returns a named export converted to T.
func Get[T any](e Exports, name string) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	v, ok := e[name].(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Default returns the default export converted to T.
func Default[T any](e Exports) (T, bool) {
	return Get[T](e, DefaultExport)
}

// Module is the view of a module handed to its evaluator.
type Module struct {
	// ID is the absolute, cleaned path of the module.
	ID string

	// Source is the module's file content (nil for virtual Go modules).
	Source []byte

	imports map[string]Exports
}

// NewModule builds a Module whose imports are keyed by specifier.
func NewModule(id string, source []byte, imports map[string]Exports) *Module {
	return &Module{ID: id, Source: source, imports: imports}
}

// Import returns the exports of a declared import, or nil if the specifier
// was not declared in the module's definition.
func (m *Module) Import(spec string) Exports {
	return m.imports[spec]
}

// Dir returns the directory containing the module.
func (m *Module) Dir() string {
	return filepath.Dir(m.ID)
}

// EvalFunc executes a module and returns its exports.
type EvalFunc func(ctx context.Context, m *Module) (Exports, error)

// Definition describes a Go module compiled into the dev binary.
type Definition struct {
	// Imports lists the specifiers the module depends on. Relative
	// specifiers ("./x", "../x") resolve against the module's directory,
	// others against the project root.
	Imports []string

	// Eval executes the module.
	Eval EvalFunc
}

// Fetched is a module after transformation, ready to be evaluated.
type Fetched struct {
	// ID is the absolute, cleaned path of the module.
	ID string

	// Source is the raw file content, if the module is backed by a file.
	Source []byte

	// Hash is the xxhash of Source, used to detect stale cache entries.
	Hash uint64

	// Imports lists the import specifiers in declaration order.
	Imports []string

	// Eval executes the module.
	Eval EvalFunc
}
