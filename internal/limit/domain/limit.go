package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType 额度主体类型
type EntityType string

const (
	EntityClient          EntityType = "CLIENT"
	EntityAggregationUnit EntityType = "AGGREGATION_UNIT"
)

// Side 卖出方向
type Side string

const (
	SideShortSell Side = "SHORT_SELL"
	SideLongSell  Side = "LONG_SELL"
)

func (s Side) Valid() bool {
	return s == SideShortSell || s == SideLongSell
}

// LimitKey 额度键：主体 + 证券 + 业务日期
type LimitKey struct {
	EntityType   EntityType `json:"entity_type" validate:"required,oneof=CLIENT AGGREGATION_UNIT"`
	EntityID     string     `json:"entity_id" validate:"required"`
	SecurityID   string     `json:"security_id" validate:"required"`
	BusinessDate string     `json:"business_date" validate:"required,datetime=2006-01-02"`
}

func (k LimitKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.EntityType, k.EntityID, k.SecurityID, k.BusinessDate)
}

func ClientKey(clientID, securityID, businessDate string) LimitKey {
	return LimitKey{EntityType: EntityClient, EntityID: clientID, SecurityID: securityID, BusinessDate: businessDate}
}

func AggregationUnitKey(auID, securityID, businessDate string) LimitKey {
	return LimitKey{EntityType: EntityAggregationUnit, EntityID: auID, SecurityID: securityID, BusinessDate: businessDate}
}

// TradingLimit 预先计算的卖出额度快照
type TradingLimit struct {
	Key            LimitKey        `json:"key"`
	ShortSellLimit decimal.Decimal `json:"short_sell_limit"`
	ShortSellUsed  decimal.Decimal `json:"short_sell_used"`
	LongSellLimit  decimal.Decimal `json:"long_sell_limit"`
	LongSellUsed   decimal.Decimal `json:"long_sell_used"`
	Version        int64           `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (l *TradingLimit) Limit(side Side) decimal.Decimal {
	if side == SideLongSell {
		return l.LongSellLimit
	}
	return l.ShortSellLimit
}

func (l *TradingLimit) Used(side Side) decimal.Decimal {
	if side == SideLongSell {
		return l.LongSellUsed
	}
	return l.ShortSellUsed
}

// Remaining 剩余额度 = limit - used
func (l *TradingLimit) Remaining(side Side) decimal.Decimal {
	return l.Limit(side).Sub(l.Used(side))
}

// HasCapacity 严格按 remaining >= qty 判断，不做舍入
func (l *TradingLimit) HasCapacity(side Side, qty decimal.Decimal) bool {
	return l.Remaining(side).GreaterThanOrEqual(qty)
}

// Consume 占用额度并推进版本，调用方负责加锁
func (l *TradingLimit) Consume(side Side, qty decimal.Decimal, now time.Time) error {
	if !side.Valid() {
		return ErrInvalidSide
	}
	if !l.HasCapacity(side, qty) {
		return ErrInsufficientCapacity
	}
	if side == SideLongSell {
		l.LongSellUsed = l.LongSellUsed.Add(qty)
	} else {
		l.ShortSellUsed = l.ShortSellUsed.Add(qty)
	}
	l.Version++
	l.UpdatedAt = now
	return nil
}

// Release 归还已占用额度，used 不会小于 0
func (l *TradingLimit) Release(side Side, qty decimal.Decimal, now time.Time) {
	used := decimal.Max(l.Used(side).Sub(qty), decimal.Zero)
	if side == SideLongSell {
		l.LongSellUsed = used
	} else {
		l.ShortSellUsed = used
	}
	l.Version++
	l.UpdatedAt = now
}

var (
	ErrLimitNotFound        = errors.New("limit not found")
	ErrInsufficientCapacity = errors.New("insufficient limit capacity")
	ErrInvalidSide          = errors.New("invalid limit side")
)
