package progress

import (
	"context"
	"fmt"
	"time"

	"video-transcoder/app/config"

	"github.com/redis/go-redis/v9"
)

// Absent 没有进度记录时对外返回的值
const Absent = -1

// Tracker 按视频外部ID保存转码百分比，条目带过期时间，可能被随时淘汰
type Tracker interface {
	Set(ctx context.Context, videoID string, percent int, ttl time.Duration) error
	// Get 第二个返回值为 false 表示没有记录，与 0% 区分
	Get(ctx context.Context, videoID string) (int, bool, error)
	Clear(ctx context.Context, videoID string) error
}

// Key 进度条目的键
func Key(videoID string) string {
	return "video_progress_" + videoID
}

// New 根据配置创建进度存储
func New(cfg config.ProgressConfig) (Tracker, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryTracker(cfg.TTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisTracker(client), nil
	default:
		return nil, fmt.Errorf("不支持的进度存储驱动: %s", cfg.Driver)
	}
}
