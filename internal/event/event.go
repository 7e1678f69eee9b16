// Package event defines the inbound "post created" message and its Redis
// Stream encoding.
package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed marks events that can never be processed.
var ErrMalformed = errors.New("malformed post created event")

// MaxCreatedAt is the largest timestamp a float64 cache score holds exactly.
const MaxCreatedAt = 1<<53 - 1

// PostCreated is published by the post service once per post, at least once.
type PostCreated struct {
	PostID     string `json:"post_id" validate:"required,max=64,noctl"`
	AuthorID   string `json:"author_id" validate:"required,max=36,noctl"`
	CreatedAt  int64  `json:"created_at" validate:"gt=0,lte=9007199254740991"`
	ContentRef string `json:"content_ref" validate:"max=255"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// ID 会拼进缓存成员，控制字符用作分隔符
	_ = v.RegisterValidation("noctl", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsControl)
	})
	return v
}

// Validate checks field constraints and wraps failures in ErrMalformed.
func (e *PostCreated) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Values renders the event as stream fields.
func (e *PostCreated) Values() map[string]interface{} {
	return map[string]interface{}{
		"post_id":     e.PostID,
		"author_id":   e.AuthorID,
		"created_at":  strconv.FormatInt(e.CreatedAt, 10),
		"content_ref": e.ContentRef,
	}
}

// FromValues decodes stream fields produced by Values.
func FromValues(v map[string]interface{}) (*PostCreated, error) {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	ts, err := strconv.ParseInt(str("created_at"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at %q", ErrMalformed, str("created_at"))
	}
	ev := &PostCreated{
		PostID:     str("post_id"),
		AuthorID:   str("author_id"),
		CreatedAt:  ts,
		ContentRef: str("content_ref"),
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
