package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	radix "github.com/mediocregopher/radix/v3"
)

// DedupCache 基于 Redis 的重投快路径。数据库的唯一键才是幂等的最终保障，
// 这里只是让明显的重投不用走到 MySQL；Redis 不可用时直接当未命中。
// 键只在消息真正落库之后由 Mark 写入——落库失败时键不存在，
// 上游按 500 重投还能完整走到数据库
type DedupCache struct {
	redis radix.Client
	ttl   time.Duration
}

// NewDedupCache 构建去重缓存
func NewDedupCache(redis radix.Client, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupCache{redis: redis, ttl: ttl}
}

func (c *DedupCache) cacheKey(providerMessageID string) string {
	sum := sha1.Sum([]byte(providerMessageID))
	return "wa:msg:" + hex.EncodeToString(sum[:])
}

// Seen 只读判断该上游消息 ID 是否已落库过，不写任何键
func (c *DedupCache) Seen(ctx context.Context, providerMessageID string) (bool, error) {
	if c.redis == nil || providerMessageID == "" {
		return false, nil
	}
	var n int
	if err := c.redis.Do(radix.Cmd(&n, "EXISTS", c.cacheKey(providerMessageID))); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark 标记该上游消息 ID 已落库，必须在持久化成功之后调用
func (c *DedupCache) Mark(ctx context.Context, providerMessageID string) error {
	if c.redis == nil || providerMessageID == "" {
		return nil
	}
	key := c.cacheKey(providerMessageID)
	return c.redis.Do(radix.FlatCmd(nil, "SET", key, "1", "EX", int64(c.ttl/time.Second)))
}
