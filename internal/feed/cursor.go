package feed

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("invalid timeline cursor")

// Cursor is the last entry a client has seen. Pages resume strictly after it,
// so entries inserted at the head between requests do not shift later pages.
type Cursor struct {
	CreatedAt int64
	PostID    string
}

// CursorAfter builds the cursor that resumes after e.
func CursorAfter(e Entry) Cursor { return Cursor{CreatedAt: e.CreatedAt, PostID: e.PostID} }

// IsZero reports whether c points at the head of the timeline.
func (c Cursor) IsZero() bool { return c.CreatedAt == 0 && c.PostID == "" }

// Encode renders c as an opaque, URL-safe token.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt, 10) + ":" + c.PostID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token from Encode. The empty string is the head.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidCursor
	}
	createdAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	return Cursor{CreatedAt: createdAt, PostID: id}, nil
}

// after reports whether e sorts strictly after the cursor position.
func (c Cursor) after(e Entry) bool {
	return Less(Entry{CreatedAt: c.CreatedAt, PostID: c.PostID}, e)
}

// Paginate returns up to pageSize entries that sort after cur, plus the cursor
// for the following page (zero when nothing follows).
func Paginate(entries []Entry, pageSize int, cur Cursor) ([]Entry, Cursor) {
	if pageSize <= 0 {
		return []Entry{}, Cursor{}
	}
	start := 0
	if !cur.IsZero() {
		start = len(entries)
		for i, e := range entries {
			if cur.after(e) {
				start = i
				break
			}
		}
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	page := make([]Entry, end-start)
	copy(page, entries[start:end])
	if end >= len(entries) || len(page) == 0 {
		return page, Cursor{}
	}
	return page, CursorAfter(page[len(page)-1])
}
