// Package session persists per-conversation state and enforces turn-taking:
// at most one assistant invocation per conversation at a time, and no
// invocation for redelivered or echoed triggers.
package session

import (
	"context"
	"time"
)

// KV is the minimal shared key-value contract the session store needs.
// Every method must be atomic across all bridge instances sharing the backend.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value; ttl <= 0 keeps the key forever.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if the key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces old with next. old == "" matches an absent key.
	CompareAndSwap(ctx context.Context, key, old, next string, ttl time.Duration) (bool, error)
	// DeleteIfEquals removes the key only while it still holds value.
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
}
