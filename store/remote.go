// store/remote.go
package store

import "context"

// ChildEvent is delivered once per newly observed child under a watched path.
type ChildEvent struct {
	Key   string
	Value map[string]any
}

// RemoteStore is the thin adapter over the shared key/value realtime store.
// Semantics are last-write-wins with no locks: every protocol built on top of
// this interface must tolerate both devices writing the same path in any
// order. Paths are slash-separated UTF-8 strings; values are nested maps of
// JSON-compatible primitives, decoded into typed structs at the call site.
type RemoteStore interface {
	// Get returns the value at path, or nil when the path is empty.
	Get(ctx context.Context, path string) (map[string]any, error)

	// Set overwrites the value at path (last write wins).
	Set(ctx context.Context, path string, value map[string]any) error

	// Children lists the direct child keys and values under path.
	Children(ctx context.Context, path string) (map[string]map[string]any, error)

	// WatchChildren delivers each child of path exactly once per process,
	// including children that existed before the watch started. The channel
	// is closed when ctx is cancelled.
	WatchChildren(ctx context.Context, path string) (<-chan ChildEvent, error)
}
