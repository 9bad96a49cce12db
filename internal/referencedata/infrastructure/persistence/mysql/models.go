package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
)

// SecurityModel 证券表映射
type SecurityModel struct {
	SecurityID  string          `gorm:"primaryKey;type:varchar(32);column:security_id"`
	Symbol      string          `gorm:"column:symbol;type:varchar(20);index"`
	Market      string          `gorm:"column:market;type:varchar(16)"`
	Active      bool            `gorm:"column:active;default:true"`
	Temperature string          `gorm:"column:temperature;type:varchar(16)"`
	BorrowRate  decimal.Decimal `gorm:"column:borrow_rate;type:decimal(10,6);default:0"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (SecurityModel) TableName() string { return "securities" }

// CounterpartyModel 交易对手表映射
type CounterpartyModel struct {
	CounterpartyID string    `gorm:"primaryKey;type:varchar(64);column:counterparty_id"`
	Name           string    `gorm:"column:name;type:varchar(128)"`
	Active         bool      `gorm:"column:active;default:true"`
	LocateEligible bool      `gorm:"column:locate_eligible;default:false"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CounterpartyModel) TableName() string { return "counterparties" }

// AggregationUnitModel 聚合单元表映射
type AggregationUnitModel struct {
	AggregationUnitID string    `gorm:"primaryKey;type:varchar(64);column:aggregation_unit_id"`
	Name              string    `gorm:"column:name;type:varchar(128)"`
	Market            string    `gorm:"column:market;type:varchar(16)"`
	Active            bool      `gorm:"column:active;default:true"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AggregationUnitModel) TableName() string { return "aggregation_units" }

// --- mapping helpers ---

func toSecurity(m *SecurityModel) *domain.Security {
	return &domain.Security{
		SecurityID:  m.SecurityID,
		Symbol:      m.Symbol,
		Market:      m.Market,
		Active:      m.Active,
		Temperature: domain.Temperature(m.Temperature),
		BorrowRate:  m.BorrowRate,
	}
}

func toSecurityModel(s *domain.Security) *SecurityModel {
	return &SecurityModel{
		SecurityID:  s.SecurityID,
		Symbol:      s.Symbol,
		Market:      s.Market,
		Active:      s.Active,
		Temperature: string(s.Temperature),
		BorrowRate:  s.BorrowRate,
	}
}

func toCounterparty(m *CounterpartyModel) *domain.Counterparty {
	return &domain.Counterparty{
		CounterpartyID: m.CounterpartyID,
		Name:           m.Name,
		Active:         m.Active,
		LocateEligible: m.LocateEligible,
	}
}

func toCounterpartyModel(c *domain.Counterparty) *CounterpartyModel {
	return &CounterpartyModel{
		CounterpartyID: c.CounterpartyID,
		Name:           c.Name,
		Active:         c.Active,
		LocateEligible: c.LocateEligible,
	}
}

func toAggregationUnit(m *AggregationUnitModel) *domain.AggregationUnit {
	return &domain.AggregationUnit{
		AggregationUnitID: m.AggregationUnitID,
		Name:              m.Name,
		Market:            m.Market,
		Active:            m.Active,
	}
}

func toAggregationUnitModel(au *domain.AggregationUnit) *AggregationUnitModel {
	return &AggregationUnitModel{
		AggregationUnitID: au.AggregationUnitID,
		Name:              au.Name,
		Market:            au.Market,
		Active:            au.Active,
	}
}
