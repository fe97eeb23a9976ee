package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"chunk-upload-service/conf"

	"github.com/redis/go-redis/v9"
)

var (
	RedisClient *redis.Client
	ctx         = context.Background()
)

// Cache is the raw string cache consumed by the state store. Values are JSON
// documents; returning the raw string lets the caller validate structure
// before unmarshalling.
type Cache interface {
	GetCache(key string) (string, error)
	SetCache(key string, value string) error
	DeleteCache(key string) error
}

// InitRedis initialize Redis client
func InitRedis() error {
	if !conf.Cfg.Redis.Enabled {
		log.Println("Redis cache is disabled")
		return nil
	}

	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", conf.Cfg.Redis.Host, conf.Cfg.Redis.Port),
		Password: conf.Cfg.Redis.Password,
		DB:       conf.Cfg.Redis.DB,
	})

	// Test connection
	if err := RedisClient.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  Failed to connect to Redis: %v", err)
		log.Println("Redis cache will be disabled")
		RedisClient = nil
		return err
	}

	log.Printf("✅ Redis connected successfully: %s:%d (DB: %d, TTL: %ds)",
		conf.Cfg.Redis.Host, conf.Cfg.Redis.Port, conf.Cfg.Redis.DB, conf.Cfg.Redis.CacheTTL)
	return nil
}

// CloseRedis close Redis connection
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// RedisCache Cache implementation backed by the global Redis client. A
// disabled or unreachable Redis degrades every read to a cache miss and every
// write to a no-op.
type RedisCache struct{}

// NewRedisCache returns the Redis-backed cache tier.
func NewRedisCache() *RedisCache {
	return &RedisCache{}
}

// GetCache get cache by key, redis.Nil on miss or disabled cache
func (r *RedisCache) GetCache(key string) (string, error) {
	if RedisClient == nil || !conf.Cfg.Redis.Enabled {
		return "", redis.Nil // Cache disabled, treat as cache miss
	}
	return RedisClient.Get(ctx, key).Result()
}

// SetCache set cache with the configured TTL
func (r *RedisCache) SetCache(key string, value string) error {
	if RedisClient == nil || !conf.Cfg.Redis.Enabled {
		return nil // Cache disabled, skip silently
	}

	ttl := time.Duration(conf.Cfg.Redis.CacheTTL) * time.Second
	if err := RedisClient.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("⚠️  Failed to set cache for key %s: %v", key, err)
		return err
	}
	return nil
}

// DeleteCache delete cache by key
func (r *RedisCache) DeleteCache(key string) error {
	if RedisClient == nil || !conf.Cfg.Redis.Enabled {
		return nil // Cache disabled, skip silently
	}

	if err := RedisClient.Del(ctx, key).Err(); err != nil {
		log.Printf("⚠️  Failed to delete cache for key %s: %v", key, err)
		return err
	}
	return nil
}

// IsCacheMiss reports whether a cache read failed only because the key was
// absent (or the cache tier is disabled).
func IsCacheMiss(err error) bool {
	return err == redis.Nil
}

// IsRedisEnabled check if Redis is enabled and connected
func IsRedisEnabled() bool {
	return RedisClient != nil && conf.Cfg.Redis.Enabled
}
