// Package cacheperf holds instrumentation for comparing timeline read
// strategies: a store wrapper that counts round trips and a cache that never
// holds anything.
package cacheperf

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/d60-Lab/timeline-fanout/internal/cache"
	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
)

// StoreCounters reports how often the durable store was hit.
type StoreCounters struct {
	Lists   int64
	Appends int64
}

// CountingStore wraps a timeline store. delay simulates the round-trip cost
// of a remote primary.
type CountingStore struct {
	repository.TimelineRepository
	delay time.Duration

	lists   atomic.Int64
	appends atomic.Int64
}

func NewCountingStore(inner repository.TimelineRepository, delay time.Duration) *CountingStore {
	return &CountingStore{TimelineRepository: inner, delay: delay}
}

func (s *CountingStore) Append(ctx context.Context, userID string, e feed.Entry, max int) (bool, error) {
	s.appends.Add(1)
	s.wait()
	return s.TimelineRepository.Append(ctx, userID, e, max)
}

func (s *CountingStore) List(ctx context.Context, userID string, limit int) ([]feed.Entry, error) {
	s.lists.Add(1)
	s.wait()
	return s.TimelineRepository.List(ctx, userID, limit)
}

func (s *CountingStore) wait() {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
}

// Counters returns a snapshot.
func (s *CountingStore) Counters() StoreCounters {
	return StoreCounters{Lists: s.lists.Load(), Appends: s.appends.Load()}
}

func (s *CountingStore) ResetCounters() {
	s.lists.Store(0)
	s.appends.Store(0)
}

// NoCache always misses, so every read rebuilds from the store.
type NoCache struct{}

var _ cache.TimelineCache = NoCache{}

func (NoCache) Get(context.Context, string) ([]feed.Entry, bool, error)      { return nil, false, nil }
func (NoCache) Set(context.Context, string, []feed.Entry) error              { return nil }
func (NoCache) PushIfLive(context.Context, string, feed.Entry) (bool, error) { return false, nil }
func (NoCache) Invalidate(context.Context, string) error                     { return nil }
