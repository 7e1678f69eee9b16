package service

import (
	"context"
	"errors"
	"iter"

	"github.com/d60-Lab/timeline-fanout/internal/model"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
)

// ErrProfileNotFound 用户画像不存在
var ErrProfileNotFound = errors.New("fanout profile not found")

// FollowerDirectory 关系链只读视图：谁关注了谁、粉丝数、是否大 V
type FollowerDirectory interface {
	// GetFollowers 惰性枚举粉丝，一次只在内存中保留一页
	GetFollowers(ctx context.Context, authorID string) iter.Seq2[model.Follower, error]
	GetFollowerCount(ctx context.Context, authorID string) (int64, error)
	IsFollowing(ctx context.Context, followerID, authorID string) (bool, error)
	GetProfile(ctx context.Context, userID string) (*model.UserFanoutProfile, error)
	// ListHighFanoutFollowings 用户关注的、粉丝数超过 threshold 的账号
	ListHighFanoutFollowings(ctx context.Context, userID string, threshold int64) ([]string, error)
}

type followerDirectory struct {
	fanRepo     repository.FanRepository
	followRepo  repository.FollowRepository
	profileRepo repository.ProfileRepository
	pageSize    int
}

func NewFollowerDirectory(fanRepo repository.FanRepository, followRepo repository.FollowRepository, profileRepo repository.ProfileRepository, pageSize int) FollowerDirectory {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &followerDirectory{fanRepo: fanRepo, followRepo: followRepo, profileRepo: profileRepo, pageSize: pageSize}
}

func (d *followerDirectory) GetFollowers(ctx context.Context, authorID string) iter.Seq2[model.Follower, error] {
	return func(yield func(model.Follower, error) bool) {
		after := ""
		for {
			page, err := d.fanRepo.ListFollowersAfter(ctx, authorID, after, d.pageSize)
			if err != nil {
				yield(model.Follower{}, err)
				return
			}
			for _, f := range page {
				if !yield(f, nil) {
					return
				}
			}
			if len(page) < d.pageSize {
				return
			}
			after = page[len(page)-1].UserID
		}
	}
}

func (d *followerDirectory) GetFollowerCount(ctx context.Context, authorID string) (int64, error) {
	p, err := d.GetProfile(ctx, authorID)
	if err != nil {
		return 0, err
	}
	return p.FollowerCount, nil
}

func (d *followerDirectory) IsFollowing(ctx context.Context, followerID, authorID string) (bool, error) {
	return d.followRepo.Exists(ctx, followerID, authorID)
}

func (d *followerDirectory) GetProfile(ctx context.Context, userID string) (*model.UserFanoutProfile, error) {
	p, err := d.profileRepo.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

func (d *followerDirectory) ListHighFanoutFollowings(ctx context.Context, userID string, threshold int64) ([]string, error) {
	return d.followRepo.ListHighFanoutFollowings(ctx, userID, threshold)
}
