// Package cache 提供 Redis 客户端构建，带连接探活
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config Redis 连接配置
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// New 创建 Redis 客户端并验证连通性
func New(cfg Config, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	logger.Info("redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
