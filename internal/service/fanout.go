package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/timeline-fanout/internal/event"
	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/model"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/pkg/alert"
	"github.com/d60-Lab/timeline-fanout/pkg/logger"
)

var (
	// ErrMalformedEvent 事件字段非法，丢弃不重试
	ErrMalformedEvent = event.ErrMalformed
	// ErrUnknownAuthor 作者画像不存在；按构造它应当存在，属于数据完整性告警
	ErrUnknownAuthor = errors.New("unknown author")
	// ErrFollowerEnumeration 枚举粉丝中途失败；已写入的部分保留，事件可安全重放
	ErrFollowerEnumeration = errors.New("follower enumeration failed")
)

// IsPermanent 数据完整性错误：记录日志后丢弃事件，不重试
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrUnknownAuthor)
}

// DispatcherConfig 扇出参数
type DispatcherConfig struct {
	CelebrityThreshold int64
	// InactiveSkipWindow 超过该时长未活跃的粉丝不推送；0 表示不跳过
	InactiveSkipWindow time.Duration
	Concurrency        int
	// WriteRate 每秒最多写入的粉丝时间线数；0 表示不限
	WriteRate  float64
	WriteBurst int
}

// DispatchResult 一次扇出的统计
type DispatchResult struct {
	PostID     string            `json:"post_id"`
	Mode       feed.DeliveryMode `json:"delivery_mode"`
	Delivered  int64             `json:"delivered"`
	Duplicates int64             `json:"duplicates"`
	Skipped    int64             `json:"skipped"`
	Failed     int64             `json:"failed"`
}

// Dispatcher 消费"帖子已创建"事件：普通作者推到每个活跃粉丝的时间线，
// 大 V 只记一条 pull-pending 记录，读时合并。
type Dispatcher struct {
	dir       FollowerDirectory
	records   repository.FanoutRecordRepository
	timelines *Timelines
	cfg       DispatcherConfig
	limiter   *rate.Limiter
	tracer    trace.Tracer
	now       func() time.Time
}

func NewDispatcher(dir FollowerDirectory, records repository.FanoutRecordRepository, timelines *Timelines, cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 32
	}
	if cfg.CelebrityThreshold <= 0 {
		cfg.CelebrityThreshold = feed.DefaultCelebrityThreshold
	}
	d := &Dispatcher{
		dir:       dir,
		records:   records,
		timelines: timelines,
		cfg:       cfg,
		tracer:    otel.Tracer("timeline-fanout/dispatcher"),
		now:       time.Now,
	}
	if cfg.WriteRate > 0 {
		burst := cfg.WriteBurst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), burst)
	}
	return d
}

// OnPostCreated 处理一条事件。对同一 (author, post) 重复调用是安全的：
// 投递模式以第一次落库的记录为准，时间线写入按 (user, post) 去重。
func (d *Dispatcher) OnPostCreated(ctx context.Context, ev *event.PostCreated) (*DispatchResult, error) {
	ctx, span := d.tracer.Start(ctx, "fanout.OnPostCreated", trace.WithAttributes(
		attribute.String("post.id", ev.PostID),
		attribute.String("author.id", ev.AuthorID),
	))
	defer span.End()

	if err := ev.Validate(); err != nil {
		d.reject(ev, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	mode, err := d.deliveryMode(ctx, ev)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("delivery.mode", mode.String()))

	res := &DispatchResult{PostID: ev.PostID, Mode: mode}
	if mode == feed.DeliveryPull {
		logger.Debug("post left for pull-time merge",
			zap.String("post", ev.PostID), zap.String("author", ev.AuthorID))
		return res, nil
	}

	start := d.now()
	err = d.push(ctx, ev, res)
	span.SetAttributes(
		attribute.Int64("fanout.delivered", res.Delivered),
		attribute.Int64("fanout.failed", res.Failed),
	)
	logger.Info("fanout done",
		zap.String("post", ev.PostID),
		zap.String("author", ev.AuthorID),
		zap.Int64("delivered", res.Delivered),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int64("skipped", res.Skipped),
		zap.Int64("failed", res.Failed),
		zap.Duration("took", d.now().Sub(start)),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

// deliveryMode 已有记录时沿用（重放），否则按当前粉丝数分类并落一条记录
func (d *Dispatcher) deliveryMode(ctx context.Context, ev *event.PostCreated) (feed.DeliveryMode, error) {
	rec, err := d.records.Get(ctx, ev.PostID)
	switch {
	case err == nil:
		if rec.AuthorID != ev.AuthorID {
			err = fmt.Errorf("%w: post %s already recorded for author %s", ErrMalformedEvent, ev.PostID, rec.AuthorID)
			d.reject(ev, err)
			return 0, err
		}
		return rec.Mode()
	case !errors.Is(err, repository.ErrNotFound):
		return 0, fmt.Errorf("load fanout record: %w", err)
	}

	// 粉丝数每个帖子都重新读，跨过阈值后下一条帖子立即切换
	count, err := d.dir.GetFollowerCount(ctx, ev.AuthorID)
	if errors.Is(err, ErrProfileNotFound) {
		err = fmt.Errorf("%w: %s", ErrUnknownAuthor, ev.AuthorID)
		d.reject(ev, err)
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("load follower count: %w", err)
	}

	mode := feed.Classify(count, d.cfg.CelebrityThreshold)
	stored, _, err := d.records.Create(ctx, &model.PostFanoutRecord{
		PostID:       ev.PostID,
		AuthorID:     ev.AuthorID,
		PostedAt:     ev.CreatedAt,
		DeliveryMode: mode.String(),
		ContentRef:   ev.ContentRef,
	})
	if err != nil {
		return 0, fmt.Errorf("create fanout record: %w", err)
	}
	return stored.Mode()
}

// push 惰性枚举粉丝，有界并发写入；单个粉丝失败只记录，不影响其他粉丝
func (d *Dispatcher) push(ctx context.Context, ev *event.PostCreated, res *DispatchResult) error {
	entry := feed.Entry{PostID: ev.PostID, AuthorID: ev.AuthorID, CreatedAt: ev.CreatedAt, Source: feed.SourcePushed}

	var cutoff time.Time
	if d.cfg.InactiveSkipWindow > 0 {
		cutoff = d.now().Add(-d.cfg.InactiveSkipWindow)
	}

	var (
		g                                      errgroup.Group
		delivered, duplicates, skipped, failed atomic.Int64
		enumErr                                error
	)
	g.SetLimit(d.cfg.Concurrency)

	for f, err := range d.dir.GetFollowers(ctx, ev.AuthorID) {
		if err != nil {
			enumErr = fmt.Errorf("%w: %v", ErrFollowerEnumeration, err)
			logger.Error("enumerate followers", zap.String("author", ev.AuthorID), zap.Error(err))
			break
		}
		if isInactive(f, cutoff) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if d.limiter != nil {
				if err := d.limiter.Wait(ctx); err != nil {
					failed.Add(1)
					logger.Warn("fanout rate wait aborted",
						zap.String("post", ev.PostID), zap.String("follower", f.UserID), zap.Error(err))
					return nil
				}
			}
			inserted, err := d.timelines.Deliver(ctx, f.UserID, entry)
			switch {
			case err != nil:
				failed.Add(1)
				logger.Error("fanout to follower failed",
					zap.String("post", ev.PostID), zap.String("follower", f.UserID), zap.Error(err))
			case inserted:
				delivered.Add(1)
			default:
				duplicates.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Delivered = delivered.Load()
	res.Duplicates = duplicates.Load()
	res.Skipped = skipped.Load()
	res.Failed = failed.Load()
	return enumErr
}

// isInactive 没有活跃记录的粉丝视为活跃（照常推送）
func isInactive(f model.Follower, cutoff time.Time) bool {
	if cutoff.IsZero() || f.LastActiveAt.IsZero() {
		return false
	}
	return f.LastActiveAt.Before(cutoff)
}

func (d *Dispatcher) reject(ev *event.PostCreated, err error) {
	logger.Error("drop post created event",
		zap.String("post", ev.PostID), zap.String("author", ev.AuthorID), zap.Error(err))
	alert.DataIntegrity(err, map[string]string{"post_id": ev.PostID, "author_id": ev.AuthorID})
}
