package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/inventory/domain"
	"github.com/wyfcoding/securitieslending/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AvailabilityPO struct {
	ID                uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	SecurityID        string          `gorm:"column:security_id;type:varchar(32);uniqueIndex:uk_inventory_key,priority:1;not null"`
	CounterpartyID    string          `gorm:"column:counterparty_id;type:varchar(64);uniqueIndex:uk_inventory_key,priority:2;not null"`
	AggregationUnitID string          `gorm:"column:aggregation_unit_id;type:varchar(64);uniqueIndex:uk_inventory_key,priority:3;not null;default:''"`
	BusinessDate      string          `gorm:"column:business_date;type:char(10);uniqueIndex:uk_inventory_key,priority:4;not null"`
	CalculationType   string          `gorm:"column:calculation_type;type:varchar(20);uniqueIndex:uk_inventory_key,priority:5;not null"`
	Available         decimal.Decimal `gorm:"column:available;type:decimal(20,4);not null"`
	Reserved          decimal.Decimal `gorm:"column:reserved;type:decimal(20,4);not null;default:0"`
	Version           int64           `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (AvailabilityPO) TableName() string { return "inventory_availability" }

// GormLedger 数据库库存台账，扣减为单条带条件的 UPDATE
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (r *GormLedger) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AvailabilityPO{})
}

func inventoryScope(key domain.InventoryKey) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("security_id = ? AND counterparty_id = ? AND aggregation_unit_id = ? AND business_date = ? AND calculation_type = ?",
			key.SecurityID, key.CounterpartyID, key.AggregationUnitID, key.BusinessDate, key.CalculationType)
	}
}

func unavailable(err error) error {
	return decision.Transient(decision.ReasonInventoryServiceUnavailable, fmt.Errorf("%w: %v", decision.ErrUnavailable, err))
}

func (r *GormLedger) Read(ctx context.Context, key domain.InventoryKey) (*domain.Availability, error) {
	var po AvailabilityPO
	err := r.db.WithContext(ctx).Scopes(inventoryScope(key)).First(&po).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrInventoryNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return toAvailability(&po), nil
}

func (r *GormLedger) TryDecrement(ctx context.Context, key domain.InventoryKey, d domain.Decrement) (decimal.Decimal, bool, error) {
	if err := d.Validate(); err != nil {
		return decimal.Zero, false, err
	}
	res := r.db.WithContext(ctx).Model(&AvailabilityPO{}).
		Scopes(inventoryScope(key)).
		Where("available >= ?", d.Required).
		Updates(map[string]any{
			"available": gorm.Expr("available - ?", d.Amount),
			"reserved":  gorm.Expr("reserved + ?", d.Amount),
			"version":   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return decimal.Zero, false, unavailable(res.Error)
	}
	// 操作后的余量仅用于展示，读取失败不影响扣减结果
	current, err := r.Read(ctx, key)
	if res.RowsAffected == 0 {
		if err != nil {
			return decimal.Zero, false, err
		}
		return current.Available, false, nil
	}
	if err != nil {
		return decimal.Zero, true, nil
	}
	return current.Available, true, nil
}

func (r *GormLedger) Restore(ctx context.Context, key domain.InventoryKey, amount decimal.Decimal) error {
	res := r.db.WithContext(ctx).Model(&AvailabilityPO{}).
		Scopes(inventoryScope(key)).
		Updates(map[string]any{
			"available": gorm.Expr("available + ?", amount),
			"reserved":  gorm.Expr("GREATEST(reserved - ?, 0)", amount),
			"version":   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrInventoryNotFound
	}
	return nil
}

func (r *GormLedger) Increment(ctx context.Context, key domain.InventoryKey, qty decimal.Decimal) (*domain.Availability, error) {
	po := &AvailabilityPO{
		SecurityID:        key.SecurityID,
		CounterpartyID:    key.CounterpartyID,
		AggregationUnitID: key.AggregationUnitID,
		BusinessDate:      key.BusinessDate,
		CalculationType:   string(key.CalculationType),
		Available:         qty,
		Reserved:          decimal.Zero,
		Version:           1,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "security_id"}, {Name: "counterparty_id"}, {Name: "aggregation_unit_id"},
			{Name: "business_date"}, {Name: "calculation_type"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"available":  gorm.Expr("inventory_availability.available + ?", qty),
			"version":    gorm.Expr("inventory_availability.version + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(po).Error
	if err != nil {
		return nil, fmt.Errorf("increment inventory %s: %w", key, err)
	}
	return r.Read(ctx, key)
}

func toAvailability(po *AvailabilityPO) *domain.Availability {
	return &domain.Availability{
		Key: domain.InventoryKey{
			SecurityID:        po.SecurityID,
			CounterpartyID:    po.CounterpartyID,
			AggregationUnitID: po.AggregationUnitID,
			BusinessDate:      po.BusinessDate,
			CalculationType:   domain.CalculationType(po.CalculationType),
		},
		Available: po.Available,
		Reserved:  po.Reserved,
		Version:   po.Version,
		UpdatedAt: po.UpdatedAt,
	}
}
