// Package domain 借券审批所需的参考数据：证券、交易对手、聚合单元
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("reference data not found")

// Temperature 证券借券难度分级
type Temperature string

const (
	TemperatureHTB        Temperature = "HTB"
	TemperatureGC         Temperature = "GC"
	TemperatureWarm       Temperature = "WARM"
	TemperatureCold       Temperature = "COLD"
	TemperatureRestricted Temperature = "RESTRICTED"
)

func (t Temperature) Valid() bool {
	switch t {
	case TemperatureHTB, TemperatureGC, TemperatureWarm, TemperatureCold, TemperatureRestricted:
		return true
	}
	return false
}

// Security 证券
type Security struct {
	SecurityID  string          `json:"security_id"`
	Symbol      string          `json:"symbol"`
	Market      string          `json:"market"`
	Active      bool            `json:"active"`
	Temperature Temperature     `json:"temperature,omitempty"`
	BorrowRate  decimal.Decimal `json:"borrow_rate"`
}

// Counterparty 客户 / 交易对手
type Counterparty struct {
	CounterpartyID string `json:"counterparty_id"`
	Name           string `json:"name"`
	Active         bool   `json:"active"`
	// 是否具备借券资格
	LocateEligible bool `json:"locate_eligible"`
}

// Eligible 可发起借券
func (c *Counterparty) Eligible() bool { return c.Active && c.LocateEligible }

// AggregationUnit 聚合单元
type AggregationUnit struct {
	AggregationUnitID string `json:"aggregation_unit_id"`
	Name              string `json:"name"`
	Market            string `json:"market"`
	Active            bool   `json:"active"`
}

// Lookup 只读查询，不存在返回 ErrNotFound
type Lookup interface {
	GetSecurity(ctx context.Context, id string) (*Security, error)
	GetCounterparty(ctx context.Context, id string) (*Counterparty, error)
	GetAggregationUnit(ctx context.Context, id string) (*AggregationUnit, error)
}

// Repository 参考数据存储
type Repository interface {
	Lookup
	SaveSecurity(ctx context.Context, s *Security) error
	SaveCounterparty(ctx context.Context, c *Counterparty) error
	SaveAggregationUnit(ctx context.Context, au *AggregationUnit) error
}
