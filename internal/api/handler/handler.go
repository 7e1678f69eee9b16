package handler

import (
	"context"

	"github.com/d60-Lab/timeline-fanout/internal/event"
	"github.com/d60-Lab/timeline-fanout/internal/service"
)

// TimelineReader 读时间线
type TimelineReader interface {
	GetTimeline(ctx context.Context, userID string, pageSize int, cursor string) (*service.Page, error)
	Stats() service.ReaderStats
}

// PostPublisher 把新帖事件投递到消息流
type PostPublisher interface {
	Publish(ctx context.Context, authorID, contentRef string) (*event.PostCreated, error)
}

type Handler struct {
	relService service.RelationshipService
	reader     TimelineReader
	dispatcher service.EventHandler
	publisher  PostPublisher
}

func NewHandler(relService service.RelationshipService, reader TimelineReader, dispatcher service.EventHandler, publisher PostPublisher) *Handler {
	return &Handler{relService: relService, reader: reader, dispatcher: dispatcher, publisher: publisher}
}
