// Package poll holds the single in-memory poll aggregate.
//
// State is the only writer serialization point: ApplyVote checks membership and
// increments under one lock, Snapshot copies under the read lock.
package poll
