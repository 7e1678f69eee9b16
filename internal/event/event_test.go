package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuesRoundTrip(t *testing.T) {
	in := &PostCreated{PostID: "p1", AuthorID: "a1", CreatedAt: 100, ContentRef: "s3://bucket/p1"}
	out, err := FromValues(in.Values())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFromValuesRejectsMalformed(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"missing post":         {"author_id": "a1", "created_at": "100"},
		"missing author":       {"post_id": "p1", "created_at": "100"},
		"bad timestamp":        {"post_id": "p1", "author_id": "a1", "created_at": "yesterday"},
		"zero timestamp":       {"post_id": "p1", "author_id": "a1", "created_at": "0"},
		"nanosecond timestamp": {"post_id": "p1", "author_id": "a1", "created_at": "1760000000000000000"},
		"separator in post":    {"post_id": "p\x1f1", "author_id": "a1", "created_at": "100"},
		"control in author":    {"post_id": "p1", "author_id": "a\n1", "created_at": "100"},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromValues(v)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestValidateAcceptsLargestExactTimestamp(t *testing.T) {
	ev := &PostCreated{PostID: "p1", AuthorID: "a1", CreatedAt: MaxCreatedAt}
	require.NoError(t, ev.Validate())

	ev.CreatedAt = MaxCreatedAt + 1
	assert.ErrorIs(t, ev.Validate(), ErrMalformed)
}
