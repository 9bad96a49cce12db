// Package cache 参考数据的进程内读缓存
package cache

import (
	"context"

	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	"github.com/wyfcoding/securitieslending/pkg/cache"
	"github.com/wyfcoding/securitieslending/pkg/logger"
)

// CachedLookup 在 Lookup 前加一层 bigcache，写入走 Invalidate。
// 不存在的记录不缓存。
type CachedLookup struct {
	next  domain.Lookup
	local *cache.LocalCache
}

func NewCachedLookup(next domain.Lookup, local *cache.LocalCache) *CachedLookup {
	return &CachedLookup{next: next, local: local}
}

func readThrough[T any](ctx context.Context, c *CachedLookup, key string, load func() (*T, error)) (*T, error) {
	var v T
	hit, err := c.local.GetJSON(key, &v)
	if err != nil {
		logger.Warn(ctx, "reference cache read failed", "key", key, "error", err)
	}
	if hit {
		return &v, nil
	}
	out, err := load()
	if err != nil {
		return nil, err
	}
	if err := c.local.SetJSON(key, out); err != nil {
		logger.Warn(ctx, "reference cache write failed", "key", key, "error", err)
	}
	return out, nil
}

func (c *CachedLookup) GetSecurity(ctx context.Context, id string) (*domain.Security, error) {
	return readThrough(ctx, c, "security:"+id, func() (*domain.Security, error) {
		return c.next.GetSecurity(ctx, id)
	})
}

func (c *CachedLookup) GetCounterparty(ctx context.Context, id string) (*domain.Counterparty, error) {
	return readThrough(ctx, c, "counterparty:"+id, func() (*domain.Counterparty, error) {
		return c.next.GetCounterparty(ctx, id)
	})
}

func (c *CachedLookup) GetAggregationUnit(ctx context.Context, id string) (*domain.AggregationUnit, error) {
	return readThrough(ctx, c, "au:"+id, func() (*domain.AggregationUnit, error) {
		return c.next.GetAggregationUnit(ctx, id)
	})
}

// Invalidate kind 取 security / counterparty / au
func (c *CachedLookup) Invalidate(kind, id string) {
	if err := c.local.Delete(kind + ":" + id); err != nil {
		logger.Warn(context.Background(), "reference cache invalidate failed", "kind", kind, "id", id, "error", err)
	}
}
