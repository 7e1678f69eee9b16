package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
)

const memberSep = "\x1f"

// The member starts with the post ID so that, for equal scores, Redis' lexical
// tie-break matches the timeline's PostID-desc tie-break.
func encodeMember(e feed.Entry) string {
	return e.PostID + memberSep + e.AuthorID + memberSep + e.Source.String() + memberSep + strconv.FormatInt(e.CreatedAt, 10)
}

func decodeMember(s string) (feed.Entry, error) {
	parts := strings.Split(s, memberSep)
	if len(parts) != 4 {
		return feed.Entry{}, fmt.Errorf("malformed cache member %q", s)
	}
	src, err := feed.ParseSource(parts[2])
	if err != nil {
		return feed.Entry{}, err
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return feed.Entry{}, fmt.Errorf("malformed cache member %q: %w", s, err)
	}
	return feed.Entry{PostID: parts[0], AuthorID: parts[1], CreatedAt: ts, Source: src}, nil
}

var getScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return redis.call('ZREVRANGE', KEYS[1], 0, -1)
`)

var pushScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
local max = tonumber(ARGV[1])
if max > 0 then
  redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(max + 1))
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RedisCache keeps one sorted set per user, scored by CreatedAt.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	max    int
}

// NewRedisCache builds a cache on client. max bounds every cached timeline.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, max int) *RedisCache {
	if prefix == "" {
		prefix = "timeline:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, max: max}
}

func (c *RedisCache) key(userID string) string { return c.prefix + userID }

func (c *RedisCache) Get(ctx context.Context, userID string) ([]feed.Entry, bool, error) {
	members, err := getScript.Run(ctx, c.client, []string{c.key(userID)}, c.ttl.Milliseconds()).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	out := make([]feed.Entry, 0, len(members))
	for _, m := range members {
		e, err := decodeMember(m)
		if err != nil {
			// 脏数据：当作未命中，交给读路径重建
			_ = c.client.Del(ctx, c.key(userID)).Err()
			return nil, false, nil
		}
		out = append(out, e)
	}
	// 分数是 float64，成员里的 CreatedAt 才是精确值
	feed.Sort(out)
	return out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, entries []feed.Entry) error {
	key := c.key(userID)
	entries = feed.Trim(entries, c.max)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(entries) == 0 {
			return nil
		}
		zs := make([]redis.Z, len(entries))
		for i, e := range entries {
			zs[i] = redis.Z{Score: float64(e.CreatedAt), Member: encodeMember(e)}
		}
		pipe.ZAdd(ctx, key, zs...)
		pipe.PExpire(ctx, key, c.ttl)
		return nil
	})
	return classify(err)
}

func (c *RedisCache) PushIfLive(ctx context.Context, userID string, e feed.Entry) (bool, error) {
	live, err := pushScript.Run(ctx, c.client, []string{c.key(userID)},
		c.max, c.ttl.Milliseconds(), e.CreatedAt, encodeMember(e)).Int()
	if err != nil {
		return false, classify(err)
	}
	return live == 1, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return classify(c.client.Del(ctx, c.key(userID)).Err())
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "OOM") {
		return fmt.Errorf("%w: %v", ErrCacheFull, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
