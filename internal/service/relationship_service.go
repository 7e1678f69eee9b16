package service

import (
	"context"
	"errors"
	"time"

	"github.com/d60-Lab/timeline-fanout/internal/model"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
)

var (
	ErrFollowSelf = errors.New("cannot follow self")
)

// RelationshipService 关系链服务；粉丝表与粉丝数由 FanReplicator 异步冗余
type RelationshipService interface {
	// Follow 返回是否新建了关注；重复关注为 false
	Follow(ctx context.Context, fromUserID, toUserID string) (bool, error)
	// Unfollow 返回是否真的删除了关注
	Unfollow(ctx context.Context, fromUserID, toUserID string) (bool, error)
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	// UpsertProfile 写入扇出画像（初始化或校正粉丝数）
	UpsertProfile(ctx context.Context, p *model.UserFanoutProfile) error
	// MarkActive 记录用户活跃，扇出时据此跳过长期不活跃的粉丝
	MarkActive(ctx context.Context, userID string, at time.Time) error
}

type relationshipService struct {
	followRepo  repository.FollowRepository
	fanRepo     repository.FanRepository
	profileRepo repository.ProfileRepository
	replicator  *FanReplicator
}

func NewRelationshipService(followRepo repository.FollowRepository, fanRepo repository.FanRepository, profileRepo repository.ProfileRepository, replicator *FanReplicator) RelationshipService {
	return &relationshipService{followRepo: followRepo, fanRepo: fanRepo, profileRepo: profileRepo, replicator: replicator}
}

func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	if fromUserID == toUserID {
		return false, ErrFollowSelf
	}
	created, err := s.followRepo.Create(ctx, fromUserID, toUserID)
	if err != nil || !created {
		return false, err
	}
	if s.replicator != nil {
		s.replicator.EnqueueAdd(toUserID, fromUserID)
		return true, nil
	}
	return true, replicateAdd(ctx, s.fanRepo, s.profileRepo, toUserID, fromUserID)
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	deleted, err := s.followRepo.Delete(ctx, fromUserID, toUserID)
	if err != nil || !deleted {
		return false, err
	}
	// 已推送到时间线的条目视为历史，不回收
	if s.replicator != nil {
		s.replicator.EnqueueRemove(toUserID, fromUserID)
		return true, nil
	}
	return true, replicateRemove(ctx, s.fanRepo, s.profileRepo, toUserID, fromUserID)
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

func (s *relationshipService) ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	items, err := s.fanRepo.ListFans(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FanID
	}
	return res, nil
}

func (s *relationshipService) UpsertProfile(ctx context.Context, p *model.UserFanoutProfile) error {
	return s.profileRepo.Upsert(ctx, p)
}

func (s *relationshipService) MarkActive(ctx context.Context, userID string, at time.Time) error {
	return s.profileRepo.Touch(ctx, userID, at)
}

// replicateAdd 写粉丝表，只有真正新增时才给粉丝数 +1
func replicateAdd(ctx context.Context, fanRepo repository.FanRepository, profileRepo repository.ProfileRepository, userID, fanID string) error {
	created, err := fanRepo.Create(ctx, userID, fanID)
	if err != nil || !created {
		return err
	}
	return profileRepo.AddFollowers(ctx, userID, 1)
}

func replicateRemove(ctx context.Context, fanRepo repository.FanRepository, profileRepo repository.ProfileRepository, userID, fanID string) error {
	deleted, err := fanRepo.Delete(ctx, userID, fanID)
	if err != nil || !deleted {
		return err
	}
	return profileRepo.AddFollowers(ctx, userID, -1)
}
