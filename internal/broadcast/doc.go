// Package broadcast fans poll snapshots out to connected observers.
//
// Registry tracks live connections and iterates over a point-in-time copy, so entries
// may be removed while a broadcast is in progress. Hub encodes each snapshot once and
// enqueues it to every registered client without blocking; a per-connection writer
// goroutine owns the socket. Publish and Attach share one lock, which is what lets a
// fresh connection receive exactly one consistent state when it races a vote.
package broadcast
