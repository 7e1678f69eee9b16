package feed

import (
	"fmt"
	"sort"
)

// DefaultMaxTimelineSize is the rolling window kept per user.
const DefaultMaxTimelineSize = 800

// Source tells how an entry reached a timeline.
type Source uint8

const (
	SourcePushed Source = iota + 1
	SourcePulled
)

func (s Source) String() string {
	switch s {
	case SourcePushed:
		return "pushed"
	case SourcePulled:
		return "pulled"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) (Source, error) {
	switch s {
	case "pushed":
		return SourcePushed, nil
	case "pulled":
		return SourcePulled, nil
	}
	return 0, fmt.Errorf("unknown source %q", s)
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Entry is one post reference on a user's timeline. Immutable once created.
type Entry struct {
	PostID    string `json:"post_id"`
	AuthorID  string `json:"author_id"`
	CreatedAt int64  `json:"created_at"`
	Source    Source `json:"source"`
}

// Less reports whether a sorts before b, i.e. a is newer.
func Less(a, b Entry) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.PostID > b.PostID
}

// Sort orders entries newest-first in place.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// IsOrdered reports whether entries are strictly ordered by the timeline key.
func IsOrdered(entries []Entry) bool {
	for i := 1; i < len(entries); i++ {
		if !Less(entries[i-1], entries[i]) {
			return false
		}
	}
	return true
}

// Trim returns at most max entries, dropping the oldest. entries must already
// be ordered.
func Trim(entries []Entry, max int) []Entry {
	if max >= 0 && len(entries) > max {
		return entries[:max]
	}
	return entries
}

// Merge combines several timelines into one ordered, duplicate-free timeline of
// at most max entries (max < 0 means unbounded). When the same post appears in
// more than one input, the copy from the earliest input wins, so callers pass
// store-backed entries before pulled ones.
func Merge(max int, lists ...[]Entry) []Entry {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	seen := make(map[string]struct{}, n)
	out := make([]Entry, 0, n)
	for _, l := range lists {
		for _, e := range l {
			if _, ok := seen[e.PostID]; ok {
				continue
			}
			seen[e.PostID] = struct{}{}
			out = append(out, e)
		}
	}
	Sort(out)
	return Trim(out, max)
}

// Insert places e into an ordered timeline, returning a new slice trimmed to
// max. The second result is false when the post was already present or when
// e is older than everything kept by a full window.
func Insert(entries []Entry, e Entry, max int) ([]Entry, bool) {
	for _, x := range entries {
		if x.PostID == e.PostID {
			return entries, false
		}
	}
	i := sort.Search(len(entries), func(i int) bool { return Less(e, entries[i]) })
	if max >= 0 && i >= max {
		return entries, false
	}
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, e)
	out = append(out, entries[i:]...)
	return Trim(out, max), true
}

// Oldest returns the last entry of an ordered timeline.
func Oldest(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}
