// Package cache holds the disposable per-user timeline view that sits in front
// of the timeline store. A cached timeline is always a bounded, ordered copy;
// it is created on a rebuild, updated in place by pushes only while it is
// live, refreshed on every read and write, and dropped on expiry or
// invalidation.
package cache

import (
	"context"
	"errors"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
)

var (
	// ErrCacheFull is a capacity error: the backend refused the write under
	// memory pressure. Callers skip the cache and rely on the store.
	ErrCacheFull = errors.New("timeline cache full")
	// ErrUnavailable wraps transient backend failures.
	ErrUnavailable = errors.New("timeline cache unavailable")
)

// TimelineCache is implemented by RedisCache and MemoryCache.
type TimelineCache interface {
	// Get returns the live timeline for userID and resets its TTL. The bool is
	// false on a miss.
	Get(ctx context.Context, userID string) ([]feed.Entry, bool, error)
	// Set replaces the cached timeline. entries must be ordered; they are
	// trimmed to the cache's max size. An empty slice removes the entry.
	Set(ctx context.Context, userID string, entries []feed.Entry) error
	// PushIfLive inserts e into a live cached timeline and resets its TTL. It
	// does nothing and reports false for cold users.
	PushIfLive(ctx context.Context, userID string, e feed.Entry) (bool, error)
	// Invalidate drops the cached timeline for userID.
	Invalidate(ctx context.Context, userID string) error
}
