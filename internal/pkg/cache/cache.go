package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkessels/paybridge/internal/pkg/config"
)

// NewClient connects to the Redis instance backing the retry queue. The
// connection is verified with a short ping so a misconfigured endpoint fails
// at startup, not on the first scheduled retry.
func NewClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.CacheHost, cfg.CachePort),
		Password: cfg.CachePassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unreachable at %s:%s: %w", cfg.CacheHost, cfg.CachePort, err)
	}
	return client, nil
}
