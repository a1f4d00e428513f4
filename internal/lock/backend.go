package lock

import (
	"context"
	"time"
)

// Backend is one independently failing lock store. A key is held on a
// backend while an entry for it exists carrying the holder's token.
// Quorum decisions across backends are the Manager's job; a Backend only
// answers for itself.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// TryAcquire sets key to token with the given ttl if the key is
	// currently unset. It returns false without error when another
	// token already holds the key.
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes the key only if it still stores token, so a lock
	// that expired and was reassigned to another holder is never
	// cleared by the previous one. Returns whether a deletion happened.
	Release(ctx context.Context, key, token string) (bool, error)

	// Extend resets the ttl of key only if it still stores token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}
