// Package keys dispatches single keystrokes from a raw terminal to commands.
//
// Commands are registered for a set of keys, typically a letter and its
// alternate on another keyboard layout, and registration returns a
// Disposer that removes exactly that registration:
//
//	d := keys.NewDispatcher()
//	dispose := d.Register([]rune{'r', 'к'}, reload)
//	defer dispose()
//	go d.Run(ctx, os.Stdin)
//
// Commands run on their own goroutine so a slow command never blocks input.
// Errors and panics from commands go to the dispatcher's error handler.
// Ctrl-C always calls the interrupt handler, whatever is registered.
package keys
