package redisclient

import (
	"context"
	"time"

	"fleetguard-alert/internal/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient 创建Redis客户端（配置缓存与出站通知流共用一个连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// Ping 验证Redis连通性
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
