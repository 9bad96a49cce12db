package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/limit/domain"
	"github.com/wyfcoding/securitieslending/pkg/cache"
)

// 返回值：1 成功，0 额度不足，-1 不存在，-2 版本冲突
var consumeScript = cache.NewScript("limit_consume", `
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local version = tonumber(redis.call('HGET', KEYS[1], 'version'))
if version ~= tonumber(ARGV[4]) then return -2 end
local lim = tonumber(redis.call('HGET', KEYS[1], ARGV[1]))
local used = tonumber(redis.call('HGET', KEYS[1], ARGV[2]))
local qty = tonumber(ARGV[3])
if lim - used < qty then return 0 end
redis.call('HINCRBY', KEYS[1], ARGV[2], qty)
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[5])
return 1
`)

var releaseScript = cache.NewScript("limit_release", `
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local used = tonumber(redis.call('HGET', KEYS[1], ARGV[1])) - tonumber(ARGV[2])
if used < 0 then used = 0 end
redis.call('HSET', KEYS[1], ARGV[1], used, 'updated_at', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

var upsertScript = cache.NewScript("limit_upsert", `
redis.call('HSET', KEYS[1], 'short_sell_limit', ARGV[1], 'long_sell_limit', ARGV[2], 'updated_at', ARGV[3])
redis.call('HSETNX', KEYS[1], 'short_sell_used', 0)
redis.call('HSETNX', KEYS[1], 'long_sell_used', 0)
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

// RedisLimitStore 共享额度存储，占用由 Lua 脚本在 Redis 端原子完成。
// 数量以 4 位小数的整数单位保存。
type RedisLimitStore struct {
	client *redis.Client
	prefix string
}

func NewRedisLimitStore(client *redis.Client, prefix string) *RedisLimitStore {
	if prefix == "" {
		prefix = "seclending:limit:"
	}
	return &RedisLimitStore{client: client, prefix: prefix}
}

func (s *RedisLimitStore) key(k domain.LimitKey) string {
	return s.prefix + k.String()
}

func (s *RedisLimitStore) Read(ctx context.Context, key domain.LimitKey) (*domain.TradingLimit, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrLimitNotFound
	}
	l := &domain.TradingLimit{Key: key}
	for name, dst := range map[string]*decimal.Decimal{
		"short_sell_limit": &l.ShortSellLimit,
		"short_sell_used":  &l.ShortSellUsed,
		"long_sell_limit":  &l.LongSellLimit,
		"long_sell_used":   &l.LongSellUsed,
	} {
		units, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt limit field %s for %s: %w", name, key, err)
		}
		*dst = cache.FromUnits(units)
	}
	if l.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt limit version for %s: %w", key, err)
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		l.UpdatedAt = time.UnixMilli(ms)
	}
	return l, nil
}

func (s *RedisLimitStore) TryConsume(ctx context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal, expectedVersion int64) (bool, error) {
	if !side.Valid() {
		return false, domain.ErrInvalidSide
	}
	units, err := cache.ToUnits(qty)
	if err != nil {
		return false, err
	}
	limitCol, usedCol := sideColumns(side)
	res, err := consumeScript.RunInt64(ctx, s.client, []string{s.key(key)},
		limitCol, usedCol, units, expectedVersion, time.Now().UnixMilli())
	if err != nil {
		return false, unavailable(err)
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	case -1:
		return false, domain.ErrLimitNotFound
	case -2:
		return false, decision.Conflict(nil)
	default:
		return false, fmt.Errorf("unexpected consume result %d", res)
	}
}

func (s *RedisLimitStore) Release(ctx context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal) error {
	units, err := cache.ToUnits(qty)
	if err != nil {
		return err
	}
	_, usedCol := sideColumns(side)
	res, err := releaseScript.RunInt64(ctx, s.client, []string{s.key(key)}, usedCol, units, time.Now().UnixMilli())
	if err != nil {
		return unavailable(err)
	}
	if res == -1 {
		return domain.ErrLimitNotFound
	}
	return nil
}

func (s *RedisLimitStore) Upsert(ctx context.Context, l *domain.TradingLimit) error {
	shortUnits, err := cache.ToUnits(l.ShortSellLimit)
	if err != nil {
		return err
	}
	longUnits, err := cache.ToUnits(l.LongSellLimit)
	if err != nil {
		return err
	}
	_, err = upsertScript.RunInt64(ctx, s.client, []string{s.key(l.Key)}, shortUnits, longUnits, time.Now().UnixMilli())
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("upsert limit %s: %w", l.Key, err)
	}
	return nil
}
