package domain

import "context"

// Publisher pushes poll snapshots to every connected observer.
type Publisher interface {
	Publish(ctx context.Context, snapshot Snapshot) error
}

// SnapshotSource yields the current poll snapshot.
type SnapshotSource interface {
	Snapshot() Snapshot
}
