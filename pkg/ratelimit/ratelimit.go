// Package ratelimit 按调用方限制审批接口的请求速率，配额状态保存在 Redis（GCRA）
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

var ErrInvalidQuota = errors.New("ratelimit: per-second rate and burst must be positive")

// CallerLimiter 按调用方（交易台、订单系统）检查配额
type CallerLimiter interface {
	Allow(ctx context.Context, caller string) (*Result, error)
}

// Quota 单个调用方每秒配额与突发上限
type Quota struct {
	PerSecond int
	Burst     int
}

// Result 一次配额检查的结果
type Result struct {
	Allowed    bool
	Burst      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds Retry-After 头使用的整秒数，至少为 1
func (r *Result) RetryAfterSeconds() int64 {
	secs := int64((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Key 调用方在 Redis 中的配额键
func Key(prefix, caller string) string {
	return fmt.Sprintf("%s:ratelimit:%s", prefix, caller)
}

// RedisLimiter 所有实例共享同一份调用方配额
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

func NewRedisLimiter(rdb *redis.Client, prefix string, quota Quota) (*RedisLimiter, error) {
	if quota.PerSecond <= 0 || quota.Burst <= 0 {
		return nil, ErrInvalidQuota
	}
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.Limit{Rate: quota.PerSecond, Period: time.Second, Burst: quota.Burst},
		prefix:  prefix,
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, caller string) (*Result, error) {
	res, err := l.limiter.Allow(ctx, Key(l.prefix, caller), l.limit)
	if err != nil {
		return nil, fmt.Errorf("rate limit check for %s: %w", caller, err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Burst:      l.limit.Burst,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}
