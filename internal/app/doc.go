// Package app provides the application service layer.
//
// VoteProcessor validates a submission, applies it to the poll and publishes the
// resulting snapshot. It depends on small interfaces, not on the HTTP or WebSocket layers.
package app
