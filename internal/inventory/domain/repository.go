package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ledger 库存台账。引擎只通过 TryDecrement 扣减，Restore 仅用于持久化失败后的补偿。
type Ledger interface {
	Read(ctx context.Context, key InventoryKey) (*Availability, error)
	// TryDecrement 原子地检查 available >= d.Required 并扣减 d.Amount。
	// 返回操作后的可用量；不足时 ok=false 且不修改；key 不存在返回 ErrInventoryNotFound。
	TryDecrement(ctx context.Context, key InventoryKey, d Decrement) (remaining decimal.Decimal, ok bool, err error)
	Restore(ctx context.Context, key InventoryKey, amount decimal.Decimal) error
}

// Feed 库存补充入口（日初加载、归还券），不存在时创建
type Feed interface {
	Increment(ctx context.Context, key InventoryKey, qty decimal.Decimal) (*Availability, error)
}
