// Package hmr carries hot-update notifications.
//
// Change notifications travel as JSON payloads over a Stream. A Producer
// turns watcher batches into payloads; a Channel consumes them, applies
// incremental updates to the module cache and tells its Handler what
// happened. Payloads are processed in coalesced batches and a full-reload
// request in a batch supersedes every incremental update in it.
//
// Payload types:
//
//	connected    sent to a browser when it connects
//	update       changed modules, {"updates":[{"type":"module-update","path":...}]}
//	full-reload  the change cannot be applied incrementally
//	error        evaluation failed, shown as a browser overlay
//	clear        the error overlay can be removed
//
// ClientHub broadcasts the same payloads to browsers over a websocket.
package hmr
