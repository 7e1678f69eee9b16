package feed

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func e(id string, ts int64) Entry {
	return Entry{PostID: id, AuthorID: "a", CreatedAt: ts, Source: SourcePushed}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, x := range entries {
		out[i] = x.PostID
	}
	return out
}

func TestLessBreaksTiesByPostID(t *testing.T) {
	assert.True(t, Less(e("p1", 200), e("p2", 100)))
	assert.True(t, Less(e("p2", 100), e("p1", 100)))
	assert.False(t, Less(e("p1", 100), e("p1", 100)))
}

func TestMergeDedupsAndOrders(t *testing.T) {
	stored := []Entry{e("p5", 500), e("p3", 300), e("p1", 100)}
	pulled := []Entry{
		{PostID: "p4", AuthorID: "celeb", CreatedAt: 400, Source: SourcePulled},
		{PostID: "p3", AuthorID: "celeb", CreatedAt: 300, Source: SourcePulled},
		{PostID: "p2", AuthorID: "celeb", CreatedAt: 300, Source: SourcePulled},
	}

	got := Merge(-1, stored, pulled)
	assert.Equal(t, []string{"p5", "p4", "p3", "p2", "p1"}, ids(got))
	assert.True(t, IsOrdered(got))
	// 同一帖子保留先传入列表中的副本
	assert.Equal(t, SourcePushed, got[2].Source)
}

func TestMergeTrimsToMax(t *testing.T) {
	a := []Entry{e("a3", 30), e("a1", 10)}
	b := []Entry{e("b4", 40), e("b2", 20)}
	got := Merge(3, a, b)
	assert.Equal(t, []string{"b4", "a3", "b2"}, ids(got))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	a := []Entry{e("a1", 10), e("a3", 30)} // 故意乱序
	before := append([]Entry(nil), a...)
	_ = Merge(-1, a)
	assert.Equal(t, before, a)
}

func TestInsert(t *testing.T) {
	tl := []Entry{e("p3", 300), e("p1", 100)}

	got, ok := Insert(tl, e("p2", 200), 10)
	require.True(t, ok)
	assert.Equal(t, []string{"p3", "p2", "p1"}, ids(got))
	assert.Equal(t, []string{"p3", "p1"}, ids(tl))

	_, ok = Insert(got, e("p2", 200), 10)
	assert.False(t, ok, "duplicate post must not be inserted")

	full, ok := Insert(got, e("p4", 400), 3)
	require.True(t, ok)
	assert.Equal(t, []string{"p4", "p3", "p2"}, ids(full))

	_, ok = Insert(full, e("p0", 1), 3)
	assert.False(t, ok, "older than a full window")
}

func TestInsertKeepsBoundAndOrderUnderRandomWrites(t *testing.T) {
	const max = 50
	rnd := rand.New(rand.NewSource(7))
	var tl []Entry
	for i := 0; i < 1000; i++ {
		tl, _ = Insert(tl, e(fmt.Sprintf("p%04d", rnd.Intn(400)), int64(rnd.Intn(100))), max)
		require.LessOrEqual(t, len(tl), max)
		require.True(t, IsOrdered(tl))
	}
}

func TestClassifyAtThreshold(t *testing.T) {
	assert.Equal(t, DeliveryPush, Classify(DefaultCelebrityThreshold, DefaultCelebrityThreshold))
	assert.Equal(t, DeliveryPull, Classify(DefaultCelebrityThreshold+1, DefaultCelebrityThreshold))
	assert.Equal(t, DeliveryPush, Classify(0, DefaultCelebrityThreshold))
}

func TestDeliveryModeText(t *testing.T) {
	for _, m := range []DeliveryMode{DeliveryPush, DeliveryPull} {
		got, err := ParseDeliveryMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseDeliveryMode("broadcast")
	assert.Error(t, err)
}
