package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
)

func entry(id string, ts int64) feed.Entry {
	return feed.Entry{PostID: id, AuthorID: "author", CreatedAt: ts, Source: feed.SourcePushed}
}

func TestTimelineAppendIsIdempotent(t *testing.T) {
	repo := NewTimelineRepository(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		inserted, err := repo.Append(ctx, "u1", entry("p1", 100), 800)
		require.NoError(t, err)
		assert.Equal(t, i == 0, inserted)
	}
	cnt, err := repo.Count(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, cnt)
}

func TestTimelineAppendTrimsOldest(t *testing.T) {
	repo := NewTimelineRepository(openTestDB(t))
	ctx := context.Background()
	const max = 5

	for i := 1; i <= 12; i++ {
		_, err := repo.Append(ctx, "u1", entry(fmt.Sprintf("p%02d", i), int64(i*10)), max)
		require.NoError(t, err)
		cnt, err := repo.Count(ctx, "u1")
		require.NoError(t, err)
		require.LessOrEqual(t, cnt, int64(max))
	}

	got, err := repo.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, max)
	assert.Equal(t, "p12", got[0].PostID)
	assert.Equal(t, "p08", got[max-1].PostID)
	assert.True(t, feed.IsOrdered(got))

	// 其他用户不受影响
	_, err = repo.Append(ctx, "u2", entry("x", 1), max)
	require.NoError(t, err)
	cnt, err := repo.Count(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, max, cnt)
}

func TestTimelineListOrdersTiesByPostID(t *testing.T) {
	repo := NewTimelineRepository(openTestDB(t))
	ctx := context.Background()
	for _, id := range []string{"b", "c", "a"} {
		_, err := repo.Append(ctx, "u1", entry(id, 50), 800)
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, "u1", entry("z", 10), 800)
	require.NoError(t, err)

	got, err := repo.List(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].PostID, got[1].PostID, got[2].PostID})
	assert.Equal(t, feed.SourcePushed, got[0].Source)
}

func TestTimelineConcurrentAppendsStayBounded(t *testing.T) {
	repo := NewTimelineRepository(openTestDB(t))
	ctx := context.Background()
	const max = 20

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := repo.Append(ctx, "u1", entry(fmt.Sprintf("w%d-%d", w, i), int64(w*100+i)), max)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	got, err := repo.List(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, got, max)
	assert.True(t, feed.IsOrdered(got))
}
