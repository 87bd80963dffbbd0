package progress

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker 多实例共享的进度存储
type RedisTracker struct {
	client *redis.Client
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

func (t *RedisTracker) Set(ctx context.Context, videoID string, percent int, ttl time.Duration) error {
	return t.client.Set(ctx, Key(videoID), percent, ttl).Err()
}

func (t *RedisTracker) Get(ctx context.Context, videoID string) (int, bool, error) {
	percent, err := t.client.Get(ctx, Key(videoID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return percent, true, nil
}

func (t *RedisTracker) Clear(ctx context.Context, videoID string) error {
	return t.client.Del(ctx, Key(videoID)).Err()
}

// Close 关闭连接池
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
