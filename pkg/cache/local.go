package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

// LocalCache 基于 bigcache 的进程内缓存，值以 JSON 存储
type LocalCache struct {
	cache *bigcache.BigCache
}

// NewLocalCache 创建进程内缓存
func NewLocalCache(ctx context.Context, ttl time.Duration, maxSizeMB int) (*LocalCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.HardMaxCacheSize = maxSizeMB
	cfg.Verbose = false
	c, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &LocalCache{cache: c}, nil
}

// GetJSON 读取缓存，未命中返回 false
func (c *LocalCache) GetJSON(key string, dest any) (bool, error) {
	data, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 写入缓存
func (c *LocalCache) SetJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.cache.Set(key, data)
}

// Delete 删除缓存
func (c *LocalCache) Delete(key string) error {
	err := c.cache.Delete(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

// Close 关闭缓存
func (c *LocalCache) Close() error {
	return c.cache.Close()
}
