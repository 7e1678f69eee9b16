package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/timeline-fanout/internal/event"
)

// Publisher 帖子服务侧的事件投递：把 PostCreated 追加到 Redis Stream
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	now    func() time.Time
}

func NewPublisher(client *redis.Client, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen, now: time.Now}
}

// Publish 生成帖子 ID 并投递事件；createdAt 为毫秒时间戳
func (p *Publisher) Publish(ctx context.Context, authorID, contentRef string) (*event.PostCreated, error) {
	ev := &event.PostCreated{
		PostID:     uuid.New().String(),
		AuthorID:   authorID,
		CreatedAt:  p.now().UnixMilli(),
		ContentRef: contentRef,
	}
	if err := p.PublishEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// PublishEvent 投递一条已构造好的事件（重放、回填时使用）
func (p *Publisher) PublishEvent(ctx context.Context, ev *event.PostCreated) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: p.stream, Values: ev.Values()}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}
