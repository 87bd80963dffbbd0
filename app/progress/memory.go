package progress

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryTracker 进程内进度存储，仅适用于单实例部署
type MemoryTracker struct {
	cache *cache.Cache
}

func NewMemoryTracker(defaultTTL time.Duration) *MemoryTracker {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Hour
	}
	return &MemoryTracker{cache: cache.New(defaultTTL, 10*time.Minute)}
}

func (t *MemoryTracker) Set(ctx context.Context, videoID string, percent int, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	t.cache.Set(Key(videoID), percent, ttl)
	return nil
}

func (t *MemoryTracker) Get(ctx context.Context, videoID string) (int, bool, error) {
	v, ok := t.cache.Get(Key(videoID))
	if !ok {
		return 0, false, nil
	}
	percent, ok := v.(int)
	return percent, ok, nil
}

func (t *MemoryTracker) Clear(ctx context.Context, videoID string) error {
	t.cache.Delete(Key(videoID))
	return nil
}
