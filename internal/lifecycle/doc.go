// Package lifecycle owns the single live server of a dev session.
//
// A Manager hands out Handles. A handle is created, becomes active once its
// server is listening, and is closed exactly once:
//
//	created -> active -> closing -> closed
//
// At most one handle is active at any instant. Swap closes the outgoing
// handle and waits for it to release its address before the incoming
// server is asked to listen.
//
// Every mutating call carries a reload epoch. The manager remembers the
// highest epoch it has accepted and refuses older ones with ErrStale, so a
// slow reload that finishes after a newer one cannot replace its server.
package lifecycle
