package app

import (
	"fmt"

	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

// CreateAppExport is the export an entry module provides its Factory under.
const CreateAppExport = "createApp"

// Factory creates a new, not yet listening, server.
type Factory func(opts Options) (Server, error)

// FactoryFrom extracts the createApp export from an entry module. Besides
// Factory it accepts the equivalent plain function types.
func FactoryFrom(exports module.Exports) (Factory, error) {
	v, ok := exports[CreateAppExport]
	if !ok || v == nil {
		return nil, errors.New("H103").
			WithSuggestion(`Export a function under "createApp" from the entry module`)
	}

	switch f := v.(type) {
	case Factory:
		return f, nil
	case func(Options) (Server, error):
		return f, nil
	case func(Options) Server:
		return func(opts Options) (Server, error) { return f(opts), nil }, nil
	case func(Options) *App:
		return func(opts Options) (Server, error) {
			if a := f(opts); a != nil {
				return a, nil
			}
			return nil, nil
		}, nil
	default:
		return nil, errors.New("H103").
			WithDetail(fmt.Sprintf("createApp has type %T", v)).
			WithSuggestion("createApp must be an app.Factory")
	}
}
