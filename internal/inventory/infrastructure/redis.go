package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/inventory/domain"
	"github.com/wyfcoding/securitieslending/pkg/cache"
)

// 返回 {状态, 当前可用量}：状态 1 成功，0 不足，-1 不存在
var decrementScript = cache.NewScript("inventory_decrement", `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, 0} end
local available = tonumber(redis.call('HGET', KEYS[1], 'available'))
if available < tonumber(ARGV[1]) then return {0, available} end
available = redis.call('HINCRBY', KEYS[1], 'available', -tonumber(ARGV[2]))
redis.call('HINCRBY', KEYS[1], 'reserved', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
return {1, available}
`)

var restoreScript = cache.NewScript("inventory_restore", `
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('HINCRBY', KEYS[1], 'available', ARGV[1])
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved')) - tonumber(ARGV[1])
if reserved < 0 then reserved = 0 end
redis.call('HSET', KEYS[1], 'reserved', reserved, 'updated_at', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

var incrementScript = cache.NewScript("inventory_increment", `
redis.call('HSETNX', KEYS[1], 'reserved', 0)
redis.call('HINCRBY', KEYS[1], 'available', ARGV[1])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

// RedisLedger 多实例共享的库存台账，扣减在 Lua 脚本内原子完成
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "seclending:inventory:"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) key(k domain.InventoryKey) string {
	return l.prefix + k.String()
}

func (l *RedisLedger) Read(ctx context.Context, key domain.InventoryKey) (*domain.Availability, error) {
	fields, err := l.client.HGetAll(ctx, l.key(key)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrInventoryNotFound
	}
	a := &domain.Availability{Key: key}
	available, err := strconv.ParseInt(fields["available"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt available for %s: %w", key, err)
	}
	reserved, _ := strconv.ParseInt(fields["reserved"], 10, 64)
	a.Available = cache.FromUnits(available)
	a.Reserved = cache.FromUnits(reserved)
	a.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		a.UpdatedAt = time.UnixMilli(ms)
	}
	return a, nil
}

func (l *RedisLedger) TryDecrement(ctx context.Context, key domain.InventoryKey, d domain.Decrement) (decimal.Decimal, bool, error) {
	if err := d.Validate(); err != nil {
		return decimal.Zero, false, err
	}
	required, err := cache.ToUnits(d.Required)
	if err != nil {
		return decimal.Zero, false, err
	}
	amount, err := cache.ToUnits(d.Amount)
	if err != nil {
		return decimal.Zero, false, err
	}
	res, err := decrementScript.RunInt64s(ctx, l.client, []string{l.key(key)}, required, amount, time.Now().UnixMilli())
	if err != nil {
		return decimal.Zero, false, unavailable(err)
	}
	return decrementOutcome(res)
}

// decrementOutcome 解析扣减脚本返回的 {状态, 当前可用量}
func decrementOutcome(res []int64) (decimal.Decimal, bool, error) {
	if len(res) != 2 {
		return decimal.Zero, false, fmt.Errorf("unexpected decrement result %v", res)
	}
	switch res[0] {
	case -1:
		return decimal.Zero, false, domain.ErrInventoryNotFound
	case 0:
		return cache.FromUnits(res[1]), false, nil
	default:
		return cache.FromUnits(res[1]), true, nil
	}
}

func (l *RedisLedger) Restore(ctx context.Context, key domain.InventoryKey, amount decimal.Decimal) error {
	units, err := cache.ToUnits(amount)
	if err != nil {
		return err
	}
	res, err := restoreScript.RunInt64(ctx, l.client, []string{l.key(key)}, units, time.Now().UnixMilli())
	if err != nil {
		return unavailable(err)
	}
	if res == -1 {
		return domain.ErrInventoryNotFound
	}
	return nil
}

func (l *RedisLedger) Increment(ctx context.Context, key domain.InventoryKey, qty decimal.Decimal) (*domain.Availability, error) {
	units, err := cache.ToUnits(qty)
	if err != nil {
		return nil, err
	}
	if _, err := incrementScript.RunInt64(ctx, l.client, []string{l.key(key)}, units, time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("increment inventory %s: %w", key, err)
	}
	return l.Read(ctx, key)
}
