package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-fanout/internal/event"
	"github.com/d60-Lab/timeline-fanout/pkg/alert"
	"github.com/d60-Lab/timeline-fanout/pkg/logger"
)

// EventHandler 处理一条 PostCreated；Dispatcher 实现了它
type EventHandler interface {
	OnPostCreated(ctx context.Context, ev *event.PostCreated) (*DispatchResult, error)
}

// ConsumerOptions Redis Stream 消费参数
type ConsumerOptions struct {
	Stream   string
	Group    string
	Consumer string
	// Lanes 按作者哈希分道，同一作者的事件始终在同一道内顺序处理
	Lanes       int
	BatchSize   int64
	Block       time.Duration
	ClaimIdle   time.Duration
	ClaimEvery  time.Duration
	MaxAttempts uint
	Retry       RetryPolicy
}

// StreamConsumer 至少一次语义的事件消费者（Redis Stream consumer group）。
// 成功或永久失败后 XACK；暂时性失败不确认，空闲超过 ClaimIdle 后由 XAUTOCLAIM 接管重试。
type StreamConsumer struct {
	client    *redis.Client
	handler   EventHandler
	opts      ConsumerOptions
	metricsCh chan time.Duration
}

func NewStreamConsumer(client *redis.Client, handler EventHandler, opts ConsumerOptions) *StreamConsumer {
	if opts.Lanes <= 0 {
		opts.Lanes = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = time.Minute
	}
	if opts.ClaimEvery <= 0 {
		opts.ClaimEvery = 30 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.Retry.MaxTries == 0 {
		opts.Retry.MaxTries = opts.MaxAttempts
	}
	return &StreamConsumer{client: client, handler: handler, opts: opts, metricsCh: make(chan time.Duration, 65536)}
}

// Metrics 事件创建到处理完成的延迟（每处理一条发送一次，满了丢弃）
func (c *StreamConsumer) Metrics() <-chan time.Duration { return c.metricsCh }

// EnsureGroup 创建消费组（流不存在时一并创建），已存在不报错
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Start 启动拉取循环与接管循环；返回停止函数
func (c *StreamConsumer) Start(ctx context.Context) func(context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.loop(ctx)
	}()
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.opts.ClaimEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.ReclaimOnce(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("reclaim pending events", zap.Error(err))
				}
			}
		}
	}()
	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (c *StreamConsumer) loop(ctx context.Context) {
	for ctx.Err() == nil {
		if _, err := c.PollOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("poll post created events", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// PollOnce 读一批新事件并处理完；返回处理条数
func (c *StreamConsumer) PollOnce(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    c.opts.BatchSize,
		Block:    c.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range streams {
		c.processBatch(ctx, s.Messages)
		n += len(s.Messages)
	}
	return n, nil
}

// ReclaimOnce 接管空闲过久的未确认事件（原消费者崩溃或暂时性失败）
func (c *StreamConsumer) ReclaimOnce(ctx context.Context) (int, error) {
	total := 0
	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.opts.Stream,
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			MinIdle:  c.opts.ClaimIdle,
			Start:    start,
			Count:    c.opts.BatchSize,
		}).Result()
		if err != nil {
			return total, err
		}
		c.processBatch(ctx, msgs)
		total += len(msgs)
		if next == "0-0" || len(msgs) == 0 {
			return total, nil
		}
		start = next
	}
}

// processBatch 按作者分道：道内按流顺序串行，道间并行
func (c *StreamConsumer) processBatch(ctx context.Context, msgs []redis.XMessage) {
	if len(msgs) == 0 {
		return
	}
	lanes := make([][]redis.XMessage, c.opts.Lanes)
	for _, m := range msgs {
		i := c.laneOf(m)
		lanes[i] = append(lanes[i], m)
	}
	var wg sync.WaitGroup
	for _, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		wg.Add(1)
		go func(lane []redis.XMessage) {
			defer wg.Done()
			for _, m := range lane {
				c.handle(ctx, m)
			}
		}(lane)
	}
	wg.Wait()
}

func (c *StreamConsumer) laneOf(m redis.XMessage) int {
	author, _ := m.Values["author_id"].(string)
	h := fnv.New32a()
	_, _ = h.Write([]byte(author))
	return int(h.Sum32() % uint32(c.opts.Lanes))
}

func (c *StreamConsumer) handle(ctx context.Context, m redis.XMessage) {
	ev, err := event.FromValues(m.Values)
	if err != nil {
		logger.Error("drop undecodable event", zap.String("id", m.ID), zap.Error(err))
		alert.DataIntegrity(err, map[string]string{"stream_id": m.ID})
		c.ack(ctx, m.ID)
		return
	}

	_, err = backoff.Retry(ctx, func() (*DispatchResult, error) {
		res, err := c.handler.OnPostCreated(ctx, ev)
		if IsPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, c.opts.Retry.options()...)

	switch {
	case err == nil, IsPermanent(err):
		c.ack(ctx, m.ID)
		select {
		case c.metricsCh <- time.Since(time.UnixMilli(ev.CreatedAt)):
		default:
		}
	default:
		// 不确认，留在 PEL 中等待接管
		logger.Warn("post created event left pending",
			zap.String("id", m.ID), zap.String("post", ev.PostID), zap.Error(err))
	}
}

func (c *StreamConsumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, id).Err(); err != nil {
		logger.Warn("xack failed", zap.String("id", id), zap.Error(err))
	}
}
