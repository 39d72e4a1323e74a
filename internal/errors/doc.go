// Package errors provides structured, actionable error messages for hotrun.
//
// Every error reported to the terminal by the dev orchestrator carries a
// code, a category and, where one exists, the module path that failed. The
// category decides how the orchestrator recovers:
//
//   - evaluation: a module failed to execute; the reload is aborted and the
//     previously active server keeps serving
//   - lifecycle: a server failed to bind or to close; the reload attempt is
//     abandoned and the process may be left without a listener
//   - channel: a change notification could not be understood; it is logged
//     and ignored
//   - config, cli, asset: reported where they happen
//
// # Usage
//
//	err := errors.New("H101").
//	    WithModule("/app/src/backend/app.go").
//	    Wrap(cause)
//
//	errors.PrintError(os.Stderr, err)
//	// ERROR H101: Module evaluation failed
//	//
//	//   module /app/src/backend/app.go
//	//
//	//   The module or one of its imports returned an error while executing.
//	//
//	//   Cause: open config.toml: no such file or directory
package errors
