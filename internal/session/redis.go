package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waterballsa/academy/internal/model"
)

// RedisCache はRedisを使用したCacheの実装。
// 値はスナップショットのJSON。各操作はtimeoutで打ち切る。
type RedisCache struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisCache はRedisCacheを生成する。
func NewRedisCache(client redis.UniversalClient, timeout time.Duration) *RedisCache {
	return &RedisCache{client: client, timeout: timeout}
}

// NewRedisClient はURLからRedisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// Put はスナップショットを保存する。
func (c *RedisCache) Put(ctx context.Context, userID int64, snapshot *model.SessionSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Set(ctx, Key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", model.ErrCacheUnavailable, Key(userID), err)
	}
	return nil
}

// Get はスナップショットを取得する。
// 壊れた値はミスとして扱い、削除する。
func (c *RedisCache) Get(ctx context.Context, userID int64) (*model.SessionSnapshot, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, Key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", model.ErrCacheUnavailable, Key(userID), err)
	}

	var snapshot model.SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.client.Del(ctx, Key(userID))
		return nil, nil
	}
	return &snapshot, nil
}

// Invalidate はスナップショットを削除する。
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Del(ctx, Key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", model.ErrCacheUnavailable, Key(userID), err)
	}
	return nil
}

func (c *RedisCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// compile-time interface check
var _ Cache = (*RedisCache)(nil)
