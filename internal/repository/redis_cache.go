package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iconidentify/tubeconv/internal/config"
	"github.com/iconidentify/tubeconv/internal/domain"
)

// RedisFormatCache implements FormatCache in Redis. Cache errors are logged
// and treated as misses.
type RedisFormatCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisFormatCache connects to Redis and verifies the connection.
func NewRedisFormatCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*RedisFormatCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisFormatCache{client: client, ttl: cfg.TTL, logger: logger}, nil
}

func formatsKey(videoID string) string {
	return "formats:" + videoID
}

// Get returns the cached menu for videoID.
func (c *RedisFormatCache) Get(ctx context.Context, videoID string) (*domain.FormatMenu, bool) {
	val, err := c.client.Get(ctx, formatsKey(videoID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("format cache read failed", "video_id", videoID, "error", err)
		}
		return nil, false
	}

	var menu domain.FormatMenu
	if err := json.Unmarshal([]byte(val), &menu); err != nil {
		c.logger.Warn("format cache entry corrupt", "video_id", videoID, "error", err)
		return nil, false
	}
	return &menu, true
}

// Set stores menu for videoID with the configured TTL.
func (c *RedisFormatCache) Set(ctx context.Context, videoID string, menu *domain.FormatMenu) {
	data, err := json.Marshal(menu)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, formatsKey(videoID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("format cache write failed", "video_id", videoID, "error", err)
	}
}

// Close closes the Redis client.
func (c *RedisFormatCache) Close() error {
	return c.client.Close()
}
