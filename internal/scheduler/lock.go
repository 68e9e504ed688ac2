package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron-redis-lock/v2"
	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"
)

// RedisConfig Redis 配置，用于调度器分布式锁
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"TR_REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"TR_REDIS_ADDR"`
	Password string `yaml:"password" env:"TR_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DefaultRedisConfig 默认配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:     "localhost:6379",
		PoolSize: 10,
	}
}

// NewRedisClient 创建 Redis 客户端并检查连通性
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisLocker 基于 Redis 的 gocron 分布式锁
func NewRedisLocker(client redis.UniversalClient) (gocron.Locker, error) {
	locker, err := redislock.NewRedisLocker(client)
	if err != nil {
		return nil, fmt.Errorf("create redis locker: %w", err)
	}
	return locker, nil
}
