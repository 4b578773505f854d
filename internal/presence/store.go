// Package presence mirrors gateway presence into a shared store so that
// services without a live socket (the api write path) can read it. Presence
// is advisory: it is broadcast, not polled, and may be stale by one missed
// disconnect.
package presence

import "context"

// Store is the presence mirror. Implementations: redis.Client,
// memory.Client (for -dev without Redis).
type Store interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Close() error
}
