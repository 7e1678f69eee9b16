package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-fanout/internal/cache"
	"github.com/d60-Lab/timeline-fanout/internal/feed"
)

// brokenCache 每次写都失败，记录失效调用
type brokenCache struct {
	cache.TimelineCache
	writeErr    error
	invalidated []string
}

func (b *brokenCache) PushIfLive(context.Context, string, feed.Entry) (bool, error) {
	return false, b.writeErr
}

func (b *brokenCache) Set(context.Context, string, []feed.Entry) error { return b.writeErr }

func (b *brokenCache) Invalidate(_ context.Context, userID string) error {
	b.invalidated = append(b.invalidated, userID)
	return nil
}

func TestTimelinesDeliverSurvivesCacheErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		invalidate bool
	}{
		{"full", cache.ErrCacheFull, false},
		{"unavailable", cache.ErrUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			bc := &brokenCache{TimelineCache: h.cache, writeErr: tc.err}
			tl := NewTimelines(h.store, bc, 3, RetryPolicy{MaxTries: 1})

			inserted, err := tl.Deliver(context.Background(), "u1", feed.Entry{PostID: "P1", AuthorID: "A", CreatedAt: 1, Source: feed.SourcePushed})
			require.NoError(t, err)
			assert.True(t, inserted)
			assert.Equal(t, []string{"P1"}, postIDs(h.stored(t, "u1")))

			res, err := tl.Rebuild(context.Background(), "u1", nil, time.Second)
			require.NoError(t, err)
			assert.Equal(t, []string{"P1"}, postIDs(res.Entries))

			if tc.invalidate {
				assert.Equal(t, []string{"u1", "u1"}, bc.invalidated)
			} else {
				assert.Empty(t, bc.invalidated)
			}
		})
	}
}

func TestTimelinesDeliverRetriesStore(t *testing.T) {
	h := newHarness(t)
	h.store.failAppend["u1"] = true
	tl := NewTimelines(h.store, h.cache, 10, RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond})

	_, err := tl.Deliver(context.Background(), "u1", feed.Entry{PostID: "P1", AuthorID: "A", CreatedAt: 1, Source: feed.SourcePushed})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.EqualValues(t, 3, h.store.appends.Load())
}

func TestTimelinesRebuildBoundsAndMerges(t *testing.T) {
	h := newHarness(t)
	tl := NewTimelines(h.store, h.cache, 3, RetryPolicy{MaxTries: 1})
	ctx := context.Background()
	for i, id := range []string{"s1", "s2", "s3"} {
		_, err := tl.Deliver(ctx, "u1", feed.Entry{PostID: id, AuthorID: "A", CreatedAt: int64(10 * (i + 1)), Source: feed.SourcePushed})
		require.NoError(t, err)
	}

	fill := func(_ context.Context, stored []feed.Entry) ([]feed.Entry, error) {
		assert.Len(t, stored, 3)
		return []feed.Entry{
			{PostID: "c1", AuthorID: "B", CreatedAt: 25, Source: feed.SourcePulled},
			{PostID: "s3", AuthorID: "A", CreatedAt: 30, Source: feed.SourcePulled},
		}, nil
	}
	res, err := tl.Rebuild(ctx, "u1", fill, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Equal(t, []string{"s3", "c1", "s2"}, postIDs(res.Entries))
	assert.Equal(t, feed.SourcePushed, res.Entries[0].Source, "stored entry wins the duplicate")

	cached, ok := tl.Cached(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, res.Entries, cached)

	_, err = tl.Rebuild(ctx, "u1", func(context.Context, []feed.Entry) ([]feed.Entry, error) {
		return nil, errors.New("index down")
	}, time.Second)
	require.NoError(t, err)
}

func TestTimelinesDeliverDuringRebuildKeepsEntry(t *testing.T) {
	for _, backend := range []string{"memory", "redis"} {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, func(o *harnessOptions) { o.redis = backend == "redis" })
			ctx := context.Background()
			_, err := h.timelines.Deliver(ctx, "u1", feed.Entry{PostID: "P1", AuthorID: "A", CreatedAt: 10, Source: feed.SourcePushed})
			require.NoError(t, err)

			h.store.mu.Lock()
			h.store.listDelay = 50 * time.Millisecond
			h.store.mu.Unlock()

			rebuilt := make(chan error, 1)
			go func() {
				_, err := h.timelines.Rebuild(ctx, "u1", nil, time.Second)
				rebuilt <- err
			}()
			// 等重建进入存储读取后再推送
			require.Eventually(t, func() bool { return h.store.lists.Load() >= 1 }, time.Second, time.Millisecond)

			inserted, err := h.timelines.Deliver(ctx, "u1", feed.Entry{PostID: "P2", AuthorID: "A", CreatedAt: 20, Source: feed.SourcePushed})
			require.NoError(t, err)
			assert.True(t, inserted)
			require.NoError(t, <-rebuilt)

			cached, ok := h.timelines.Cached(ctx, "u1")
			require.True(t, ok, "rebuild leaves a live cache entry")
			assert.Equal(t, []string{"P2", "P1"}, postIDs(cached))
			assert.True(t, feed.IsOrdered(cached))
		})
	}
}
