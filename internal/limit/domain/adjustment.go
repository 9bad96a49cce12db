package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Adjustment 市场相关的额度扣减（如某些司法辖区的 carve-out），在容量检查前作用于剩余额度
type Adjustment interface {
	Applies(market string) bool
	Apply(remaining decimal.Decimal) decimal.Decimal
}

// PercentCarveOut 按百分比预留，Percent 取值 0-100
type PercentCarveOut struct {
	Market  string
	Percent decimal.Decimal
}

func (a PercentCarveOut) Applies(market string) bool { return marketMatches(a.Market, market) }

func (a PercentCarveOut) Apply(remaining decimal.Decimal) decimal.Decimal {
	cut := remaining.Mul(a.Percent).Div(decimal.NewFromInt(100))
	return remaining.Sub(cut)
}

// FixedCarveOut 固定数量预留
type FixedCarveOut struct {
	Market   string
	Quantity decimal.Decimal
}

func (a FixedCarveOut) Applies(market string) bool { return marketMatches(a.Market, market) }

func (a FixedCarveOut) Apply(remaining decimal.Decimal) decimal.Decimal {
	return remaining.Sub(a.Quantity)
}

// 空 Market 或 "*" 对所有市场生效
func marketMatches(pattern, market string) bool {
	return pattern == "" || pattern == "*" || strings.EqualFold(pattern, market)
}

// EffectiveRemaining 依次应用匹配的调整后的可用额度，不低于 0
func EffectiveRemaining(l *TradingLimit, side Side, market string, adjustments []Adjustment) decimal.Decimal {
	remaining := l.Remaining(side)
	for _, adj := range adjustments {
		if adj.Applies(market) {
			remaining = adj.Apply(remaining)
		}
	}
	return decimal.Max(remaining, decimal.Zero)
}
