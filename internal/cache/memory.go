package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/pkg/keylock"
)

type memEntry struct {
	entries   []feed.Entry
	expiresAt time.Time
}

// MemoryCache is an in-process TimelineCache bounded by the number of users.
// Least recently used users are evicted first; an evicted user is simply a
// cold read later.
type MemoryCache struct {
	lru   *lru.Cache
	locks keylock.KeyedMutex
	ttl   time.Duration
	max   int
	now   func() time.Time
}

// NewMemoryCache holds up to maxUsers timelines of at most max entries each.
func NewMemoryCache(maxUsers int, ttl time.Duration, max int) (*MemoryCache, error) {
	c, err := lru.New(maxUsers)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: c, ttl: ttl, max: max, now: time.Now}, nil
}

// live returns the unexpired entry for userID; the caller holds its lock.
func (c *MemoryCache) live(userID string) (*memEntry, bool) {
	v, ok := c.lru.Get(userID)
	if !ok {
		return nil, false
	}
	me := v.(*memEntry)
	if !c.now().Before(me.expiresAt) {
		c.lru.Remove(userID)
		return nil, false
	}
	return me, true
}

func (c *MemoryCache) Get(_ context.Context, userID string) ([]feed.Entry, bool, error) {
	unlock := c.locks.Lock(userID)
	defer unlock()

	me, ok := c.live(userID)
	if !ok {
		return nil, false, nil
	}
	// slices are copy-on-write, handing out the shared backing array is safe
	c.lru.Add(userID, &memEntry{entries: me.entries, expiresAt: c.now().Add(c.ttl)})
	return me.entries, true, nil
}

func (c *MemoryCache) Set(_ context.Context, userID string, entries []feed.Entry) error {
	unlock := c.locks.Lock(userID)
	defer unlock()

	if len(entries) == 0 {
		c.lru.Remove(userID)
		return nil
	}
	cp := append([]feed.Entry(nil), feed.Trim(entries, c.max)...)
	c.lru.Add(userID, &memEntry{entries: cp, expiresAt: c.now().Add(c.ttl)})
	return nil
}

func (c *MemoryCache) PushIfLive(_ context.Context, userID string, e feed.Entry) (bool, error) {
	unlock := c.locks.Lock(userID)
	defer unlock()

	me, ok := c.live(userID)
	if !ok {
		return false, nil
	}
	next, _ := feed.Insert(me.entries, e, c.max)
	c.lru.Add(userID, &memEntry{entries: next, expiresAt: c.now().Add(c.ttl)})
	return true, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userID string) error {
	c.lru.Remove(userID)
	return nil
}

// Len reports how many users are cached, including expired ones not yet
// touched.
func (c *MemoryCache) Len() int { return c.lru.Len() }
