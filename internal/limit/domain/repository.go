package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// LimitStore 额度存储。引擎只能通过 TryConsume / Release 修改额度，不存在直接覆盖写。
type LimitStore interface {
	// Read 读取快照，不存在返回 ErrLimitNotFound
	Read(ctx context.Context, key LimitKey) (*TradingLimit, error)
	// TryConsume 在版本未变且 remaining >= qty 时原子占用额度。
	// 额度不足返回 false, nil；版本变化返回 decision.ErrVersionConflict。
	TryConsume(ctx context.Context, key LimitKey, side Side, qty decimal.Decimal, expectedVersion int64) (bool, error)
	// Release 补偿已占用的额度，仅用于回滚两段式更新
	Release(ctx context.Context, key LimitKey, side Side, qty decimal.Decimal) error
}

// LimitFeed 额度日终/盘中刷新入口，供额度计算批次写入新的 limit 值，不会改动 used
type LimitFeed interface {
	Upsert(ctx context.Context, l *TradingLimit) error
}
