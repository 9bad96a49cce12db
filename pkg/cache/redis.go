// Package cache 提供 Redis 客户端封装与进程内二级缓存
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/securitieslending/pkg/logger"
)

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
}

// NewRedisClient 创建 Redis 客户端并测试连接
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxPoolSize,
		DialTimeout:  time.Duration(cfg.ConnTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(ctx, "Redis connected successfully", "addr", addr)
	return client, nil
}

// Script 包装 Lua 脚本，首次执行后走 EVALSHA
type Script struct {
	script *redis.Script
	name   string
}

// NewScript 创建 Lua 脚本
func NewScript(name, src string) *Script {
	return &Script{script: redis.NewScript(src), name: name}
}

// RunInt64 执行脚本并返回整数结果
func (s *Script) RunInt64(ctx context.Context, client redis.Scripter, keys []string, args ...any) (int64, error) {
	n, err := s.script.Run(ctx, client, keys, args...).Int64()
	if err != nil {
		logger.Error(ctx, "Redis script failed", "script", s.name, "keys", keys, "error", err)
		return 0, err
	}
	return n, nil
}

// RunInt64s 执行脚本并返回整数数组结果
func (s *Script) RunInt64s(ctx context.Context, client redis.Scripter, keys []string, args ...any) ([]int64, error) {
	res, err := s.script.Run(ctx, client, keys, args...).Int64Slice()
	if err != nil {
		logger.Error(ctx, "Redis script failed", "script", s.name, "keys", keys, "error", err)
		return nil, err
	}
	return res, nil
}
