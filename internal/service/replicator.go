package service

import (
	"context"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/pkg/logger"
)

type replicateAction int

const (
	actionAdd replicateAction = iota + 1
	actionRemove
)

type replicateJob struct {
	action replicateAction
	userID string
	fanID  string
	enqAt  time.Time
}

// FanReplicator 本地异步冗余执行器：维护粉丝表与作者粉丝数。
// 同一 (user, fan) 的任务固定落到同一个队列，关注/取关不会乱序。
type FanReplicator struct {
	fanRepo     repository.FanRepository
	profileRepo repository.ProfileRepository
	queues      []chan replicateJob
	metricsCh   chan time.Duration
}

func NewFanReplicator(fanRepo repository.FanRepository, profileRepo repository.ProfileRepository, workers, queueSize int) *FanReplicator {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 10000
	}
	queues := make([]chan replicateJob, workers)
	for i := range queues {
		queues[i] = make(chan replicateJob, queueSize/workers+1)
	}
	return &FanReplicator{fanRepo: fanRepo, profileRepo: profileRepo, queues: queues, metricsCh: make(chan time.Duration, 65536)}
}

// Start 每个队列一个 worker；返回停止函数，停止前尽量排空队列
func (r *FanReplicator) Start() func(context.Context) error {
	stopCh := make(chan struct{})
	for _, q := range r.queues {
		go r.run(q, stopCh)
	}
	return func(ctx context.Context) error {
		// 等待队列自然排空一小段时间
		timeout := time.After(2 * time.Second)
		for r.QueueLen() > 0 {
			select {
			case <-timeout:
				close(stopCh)
				return nil
			case <-ctx.Done():
				close(stopCh)
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
		close(stopCh)
		return nil
	}
}

func (r *FanReplicator) run(q <-chan replicateJob, stopCh <-chan struct{}) {
	for {
		select {
		case job := <-q:
			r.apply(job)
		case <-stopCh:
			return
		}
	}
}

func (r *FanReplicator) apply(job replicateJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	switch job.action {
	case actionAdd:
		err = replicateAdd(ctx, r.fanRepo, r.profileRepo, job.userID, job.fanID)
	case actionRemove:
		err = replicateRemove(ctx, r.fanRepo, r.profileRepo, job.userID, job.fanID)
	}
	if err != nil {
		logger.Error("replicate fan failed", zap.String("user", job.userID), zap.String("fan", job.fanID), zap.Error(err))
	}
	if !job.enqAt.IsZero() {
		select {
		case r.metricsCh <- time.Since(job.enqAt):
		default:
		}
	}
}

func (r *FanReplicator) queueFor(userID, fanID string) chan replicateJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(fanID))
	return r.queues[h.Sum32()%uint32(len(r.queues))]
}

func (r *FanReplicator) EnqueueAdd(userID, fanID string) {
	select {
	case r.queueFor(userID, fanID) <- replicateJob{action: actionAdd, userID: userID, fanID: fanID, enqAt: time.Now()}:
	default:
		logger.Warn("replicator queue full, drop add", zap.String("user", userID), zap.String("fan", fanID))
	}
}

func (r *FanReplicator) EnqueueRemove(userID, fanID string) {
	select {
	case r.queueFor(userID, fanID) <- replicateJob{action: actionRemove, userID: userID, fanID: fanID, enqAt: time.Now()}:
	default:
		logger.Warn("replicator queue full, drop remove", zap.String("user", userID), zap.String("fan", fanID))
	}
}

// Metrics 返回复制落地耗时的只读通道（每处理一条发送一次 duration）。
func (r *FanReplicator) Metrics() <-chan time.Duration { return r.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (r *FanReplicator) QueueLen() int {
	n := 0
	for _, q := range r.queues {
		n += len(q)
	}
	return n
}
