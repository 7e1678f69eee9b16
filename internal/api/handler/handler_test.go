package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-fanout/internal/event"
	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/internal/service"
	"github.com/d60-Lab/timeline-fanout/pkg/database"
	"github.com/d60-Lab/timeline-fanout/pkg/response"
)

type fakeReader struct {
	page *service.Page
	err  error
	got  struct {
		userID   string
		pageSize int
		cursor   string
	}
}

func (f *fakeReader) GetTimeline(_ context.Context, userID string, pageSize int, cursor string) (*service.Page, error) {
	f.got.userID, f.got.pageSize, f.got.cursor = userID, pageSize, cursor
	return f.page, f.err
}

func (f *fakeReader) Stats() service.ReaderStats { return service.ReaderStats{Hits: 3} }

type fakeDispatcher struct{ err error }

func (f fakeDispatcher) OnPostCreated(_ context.Context, ev *event.PostCreated) (*service.DispatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.DispatchResult{PostID: ev.PostID, Mode: feed.DeliveryPush, Delivered: 2}, nil
}

type fakePublisher struct{}

func (fakePublisher) Publish(_ context.Context, authorID, contentRef string) (*event.PostCreated, error) {
	return &event.PostCreated{PostID: "generated", AuthorID: authorID, CreatedAt: 1, ContentRef: contentRef}, nil
}

func setupEngine(t *testing.T, reader TimelineReader, dispatcher service.EventHandler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.OpenMemory()
	require.NoError(t, err)
	rel := service.NewRelationshipService(
		repository.NewFollowRepository(db),
		repository.NewFanRepository(db),
		repository.NewProfileRepository(db),
		nil,
	)
	h := NewHandler(rel, reader, dispatcher, fakePublisher{})

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.GET("/timeline/stats", h.TimelineStats)
	v1.GET("/timeline/:user_id", h.GetTimeline)
	v1.POST("/events/post-created", h.PostCreated)
	v1.POST("/posts", h.CreatePost)
	v1.POST("/relations/follow", h.Follow)
	v1.POST("/relations/unfollow", h.Unfollow)
	v1.GET("/relations/:user_id/following", h.ListFollowing)
	v1.GET("/relations/:user_id/fans", h.ListFans)
	v1.PUT("/users/:user_id/profile", h.UpsertProfile)
	v1.POST("/users/:user_id/active", h.MarkActive)
	return r
}

func do(r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestGetTimeline(t *testing.T) {
	reader := &fakeReader{page: &service.Page{
		Entries:    []feed.Entry{{PostID: "P1", AuthorID: "A", CreatedAt: 100, Source: feed.SourcePulled}},
		NextCursor: "next",
	}}
	r := setupEngine(t, reader, fakeDispatcher{})

	w, resp := do(r, http.MethodGet, "/api/v1/timeline/u1?page_size=5&cursor=abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "u1", reader.got.userID)
	assert.Equal(t, 5, reader.got.pageSize)
	assert.Equal(t, "abc", reader.got.cursor)
	assert.Contains(t, w.Body.String(), `"source":"pulled"`)
	assert.Contains(t, w.Body.String(), `"next_cursor":"next"`)

	w, _ = do(r, http.MethodGet, "/api/v1/timeline/u1?page_size=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/timeline/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hits":3`)
}

func TestGetTimelineErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{feed.ErrInvalidCursor, http.StatusBadRequest},
		{fmt.Errorf("%w: list u1: boom", service.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := setupEngine(t, &fakeReader{err: tc.err}, fakeDispatcher{})
		w, _ := do(r, http.MethodGet, "/api/v1/timeline/u1", nil)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		if tc.status == http.StatusServiceUnavailable {
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
		}
	}
}

func TestPostCreated(t *testing.T) {
	body := map[string]interface{}{"post_id": "P1", "author_id": "A", "created_at": 100}

	r := setupEngine(t, &fakeReader{}, fakeDispatcher{})
	w, _ := do(r, http.MethodPost, "/api/v1/events/post-created", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"delivery_mode":"pushed"`)

	r = setupEngine(t, &fakeReader{}, fakeDispatcher{err: service.ErrUnknownAuthor})
	w, _ = do(r, http.MethodPost, "/api/v1/events/post-created", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	r = setupEngine(t, &fakeReader{}, fakeDispatcher{err: service.ErrMalformedEvent})
	w, _ = do(r, http.MethodPost, "/api/v1/events/post-created", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r = setupEngine(t, &fakeReader{}, fakeDispatcher{err: service.ErrFollowerEnumeration})
	w, _ = do(r, http.MethodPost, "/api/v1/events/post-created", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreatePost(t *testing.T) {
	r := setupEngine(t, &fakeReader{}, fakeDispatcher{})
	w, _ := do(r, http.MethodPost, "/api/v1/posts", map[string]string{"author_id": "A", "content_ref": "blob://1"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"post_id":"generated"`)

	w, _ = do(r, http.MethodPost, "/api/v1/posts", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelationsAndProfile(t *testing.T) {
	r := setupEngine(t, &fakeReader{}, fakeDispatcher{})

	w, _ := do(r, http.MethodPut, "/api/v1/users/A/profile", map[string]interface{}{"follower_count": 0})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(r, http.MethodPut, "/api/v1/users/A/profile", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(r, http.MethodPost, "/api/v1/users/u1/active", nil)
	require.Equal(t, http.StatusOK, w.Code)

	edge := map[string]string{"from_user_id": "u1", "to_user_id": "A"}
	w, _ = do(r, http.MethodPost, "/api/v1/relations/follow", edge)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"followed":true`)
	w, _ = do(r, http.MethodPost, "/api/v1/relations/follow", edge)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"followed":false`)
	w, _ = do(r, http.MethodPost, "/api/v1/relations/follow", map[string]string{"from_user_id": "u1", "to_user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/relations/A/fans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"list":["u1"]`)
	assert.Contains(t, w.Body.String(), `"page_size":10`)
	w, _ = do(r, http.MethodGet, "/api/v1/relations/u1/following?page=1&page_size=5", nil)
	assert.Contains(t, w.Body.String(), `"list":["A"]`)
	for _, q := range []string{"page=0", "page_size=101", "page_size=x"} {
		w, _ = do(r, http.MethodGet, "/api/v1/relations/u1/following?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w, _ = do(r, http.MethodPost, "/api/v1/relations/unfollow", edge)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"removed":true`)
	w, _ = do(r, http.MethodPost, "/api/v1/relations/unfollow", edge)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = do(r, http.MethodGet, "/api/v1/relations/A/fans", nil)
	assert.Contains(t, w.Body.String(), `"list":[]`)
}
