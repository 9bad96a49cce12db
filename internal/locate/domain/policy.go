package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DecrementPolicy 按券温度计算库存扣减量，结果落在 [0, approved]
type DecrementPolicy interface {
	DecrementFor(temperature string, approved decimal.Decimal) decimal.Decimal
}

// FractionPolicy 按温度配置扣减比例，未配置的温度全额扣减
type FractionPolicy struct {
	fractions map[string]decimal.Decimal
}

// NewFractionPolicy fractions 形如 {"GC": "0.5"}，比例须在 [0, 1]
func NewFractionPolicy(fractions map[string]string) (*FractionPolicy, error) {
	p := &FractionPolicy{fractions: make(map[string]decimal.Decimal, len(fractions))}
	for temp, raw := range fractions {
		f, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("decrement fraction for %s: %w", temp, err)
		}
		if f.IsNegative() || f.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("decrement fraction for %s must be within [0, 1], got %s", temp, raw)
		}
		p.fractions[strings.ToUpper(temp)] = f
	}
	return p, nil
}

// FullDecrement 所有温度全额扣减
func FullDecrement() *FractionPolicy {
	return &FractionPolicy{fractions: map[string]decimal.Decimal{}}
}

func (p *FractionPolicy) DecrementFor(temperature string, approved decimal.Decimal) decimal.Decimal {
	f, ok := p.fractions[strings.ToUpper(temperature)]
	if !ok {
		return approved
	}
	// 向下取整到库存精度
	return decimal.Min(approved.Mul(f).Truncate(4), approved)
}
