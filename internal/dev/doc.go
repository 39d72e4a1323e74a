// Package dev orchestrates a development session: it loads the entry
// module, keeps exactly one application server listening, and replaces
// that server when source files change without restarting the process.
//
// # Architecture
//
// An Orchestrator runs a sequence of cycles. A cycle owns:
//
//   - a module runner holding the evaluated module graph
//   - a change stream and the hot-update channel reading it
//   - the keyboard subscriptions for r and q
//
// The lifecycle manager, the browser client hub, and the o subscription
// outlive cycles.
//
// # Reloads
//
// A partial reload re-executes the entry module through the warm runner
// and swaps the server. A full reload tears the cycle down and starts a
// new one. Every attempt is stamped with an epoch. A full reload
// supersedes everything begun before it; a partial reload is discarded
// when anything newer has begun or a full reload is still in progress.
//
// # Usage
//
//	cfg, _ := config.Load(".")
//	o := dev.New(dev.Options{
//	    Config: cfg,
//	    Keys:   keys.NewDispatcher(),
//	    Input:  os.Stdin,
//	})
//	if err := o.Run(ctx); err != nil {
//	    errors.PrintError(os.Stderr, err)
//	    os.Exit(1)
//	}
package dev
