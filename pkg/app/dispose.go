package app

import (
	"context"
	"fmt"

	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

// DisposeExport is the export an entry module without a server releases
// what it started under. It runs before the module is executed again and
// when the session ends.
const DisposeExport = "dispose"

// Dispose releases the goroutines, listeners or files an evaluation
// started.
type Dispose func(ctx context.Context) error

// DisposeFrom extracts the optional dispose export. Modules without one
// get a nil Dispose.
func DisposeFrom(exports module.Exports) (Dispose, error) {
	v, ok := exports[DisposeExport]
	if !ok || v == nil {
		return nil, nil
	}

	switch f := v.(type) {
	case Dispose:
		return f, nil
	case func(context.Context) error:
		return f, nil
	case func() error:
		return func(context.Context) error { return f() }, nil
	case func():
		return func(context.Context) error {
			f()
			return nil
		}, nil
	default:
		return nil, errors.New("H106").
			WithDetail(fmt.Sprintf("dispose has type %T", v))
	}
}
