// Package ratelimit 基于 Redis 的分布式限流（GCRA），多实例共享同一限流状态
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	// AllowPerSecond 判断给定 key 在 qps/burst 约束下是否放行
	AllowPerSecond(ctx context.Context, key string, qps, burst int) (Result, error)
}

// Result 限流判定结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter Redis 实现
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建 Redis 限流器
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
	}
}

// AllowPerSecond 判断请求是否放行
func (r *RedisRateLimiter) AllowPerSecond(ctx context.Context, key string, qps, burst int) (Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   qps,
		Period: time.Second,
		Burst:  burst,
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	return Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}
