package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore backs the dedup window with redis so multiple relay
// instances share one window. SET NX EX makes the check-and-register
// atomic.
type redisStore struct {
	client *redis.Client
	window time.Duration
}

// NewRedisStore connects to redis and returns a shared dedup window.
func NewRedisStore(redisURL string, window time.Duration) (Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if window <= 0 {
		window = 5 * time.Minute
	}

	return &redisStore{client: client, window: window}, nil
}

func (r *redisStore) Seen(ctx context.Context, key string) (bool, error) {
	set, err := r.client.SetNX(ctx, "dedup:"+key, 1, r.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	// SETNX succeeded means the key was new.
	return !set, nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
