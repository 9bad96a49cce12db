package cache

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// UnitScale Redis 中数量按整数单位存储，保留 4 位小数
const UnitScale = 4

var unitFactor = decimal.New(1, UnitScale)

// ToUnits 将数量换算为整数单位，超出精度时报错而不是四舍五入
func ToUnits(q decimal.Decimal) (int64, error) {
	scaled := q.Mul(unitFactor)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("quantity %s exceeds %d decimal places", q, UnitScale)
	}
	return scaled.IntPart(), nil
}

// FromUnits 整数单位还原为数量
func FromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -UnitScale)
}
