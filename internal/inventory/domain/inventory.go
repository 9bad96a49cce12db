// Package domain 借券可用库存台账
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CalculationType 库存口径
type CalculationType string

const (
	CalcLocate    CalculationType = "LOCATE"
	CalcForLoan   CalculationType = "FOR_LOAN"
	CalcShortSell CalculationType = "SHORT_SELL"
	CalcExternal  CalculationType = "EXTERNAL"
)

// InventoryKey 库存键
type InventoryKey struct {
	SecurityID        string          `json:"security_id" validate:"required"`
	CounterpartyID    string          `json:"counterparty_id" validate:"required"`
	AggregationUnitID string          `json:"aggregation_unit_id"`
	BusinessDate      string          `json:"business_date" validate:"required,datetime=2006-01-02"`
	CalculationType   CalculationType `json:"calculation_type" validate:"required,oneof=LOCATE FOR_LOAN SHORT_SELL EXTERNAL"`
}

func (k InventoryKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", k.SecurityID, k.CounterpartyID, k.AggregationUnitID, k.BusinessDate, k.CalculationType)
}

// Availability 某个口径下的可用与已预留数量
type Availability struct {
	Key       InventoryKey    `json:"key"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decrement 扣减指令：可用量必须 >= Required，实际扣减 Amount。
// 按券温度扣减时 Amount 可小于 Required。
type Decrement struct {
	Required decimal.Decimal
	Amount   decimal.Decimal
}

// Exact 判断量与扣减量相同
func Exact(q decimal.Decimal) Decrement {
	return Decrement{Required: q, Amount: q}
}

func (d Decrement) Validate() error {
	if !d.Required.IsPositive() {
		return fmt.Errorf("%w: required quantity must be positive", ErrInvalidDecrement)
	}
	if d.Amount.IsNegative() || d.Amount.GreaterThan(d.Required) {
		return fmt.Errorf("%w: amount %s outside [0, %s]", ErrInvalidDecrement, d.Amount, d.Required)
	}
	return nil
}

// TryApply 检查并扣减，调用方负责加锁；不足时不做任何修改
func (a *Availability) TryApply(d Decrement, now time.Time) bool {
	if a.Available.LessThan(d.Required) {
		return false
	}
	a.Available = a.Available.Sub(d.Amount)
	a.Reserved = a.Reserved.Add(d.Amount)
	a.Version++
	a.UpdatedAt = now
	return true
}

// Restore 回滚一次扣减
func (a *Availability) Restore(amount decimal.Decimal, now time.Time) {
	a.Available = a.Available.Add(amount)
	a.Reserved = decimal.Max(a.Reserved.Sub(amount), decimal.Zero)
	a.Version++
	a.UpdatedAt = now
}

// Replenish 补充可用库存
func (a *Availability) Replenish(qty decimal.Decimal, now time.Time) {
	a.Available = a.Available.Add(qty)
	a.Version++
	a.UpdatedAt = now
}

var (
	ErrInventoryNotFound = errors.New("inventory not found")
	ErrInvalidDecrement  = errors.New("invalid decrement")
)
