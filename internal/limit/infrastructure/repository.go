package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/limit/domain"
	"github.com/wyfcoding/securitieslending/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TradingLimitPO struct {
	ID             uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	EntityType     string          `gorm:"column:entity_type;type:varchar(20);uniqueIndex:uk_limit_key,priority:1;not null"`
	EntityID       string          `gorm:"column:entity_id;type:varchar(64);uniqueIndex:uk_limit_key,priority:2;not null"`
	SecurityID     string          `gorm:"column:security_id;type:varchar(32);uniqueIndex:uk_limit_key,priority:3;not null"`
	BusinessDate   string          `gorm:"column:business_date;type:char(10);uniqueIndex:uk_limit_key,priority:4;not null"`
	ShortSellLimit decimal.Decimal `gorm:"column:short_sell_limit;type:decimal(20,4);not null"`
	ShortSellUsed  decimal.Decimal `gorm:"column:short_sell_used;type:decimal(20,4);not null;default:0"`
	LongSellLimit  decimal.Decimal `gorm:"column:long_sell_limit;type:decimal(20,4);not null"`
	LongSellUsed   decimal.Decimal `gorm:"column:long_sell_used;type:decimal(20,4);not null;default:0"`
	Version        int64           `gorm:"column:version;not null;default:1"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (TradingLimitPO) TableName() string { return "trading_limits" }

// GormLimitStore 数据库额度存储，占用通过带版本条件的 UPDATE 完成
type GormLimitStore struct {
	db *gorm.DB
}

func NewGormLimitStore(db *gorm.DB) *GormLimitStore {
	return &GormLimitStore{db: db}
}

func (r *GormLimitStore) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&TradingLimitPO{})
}

func keyScope(key domain.LimitKey) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("entity_type = ? AND entity_id = ? AND security_id = ? AND business_date = ?",
			key.EntityType, key.EntityID, key.SecurityID, key.BusinessDate)
	}
}

func sideColumns(side domain.Side) (limitCol, usedCol string) {
	if side == domain.SideLongSell {
		return "long_sell_limit", "long_sell_used"
	}
	return "short_sell_limit", "short_sell_used"
}

func unavailable(err error) error {
	return decision.Transient(decision.ReasonLimitServiceUnavailable, fmt.Errorf("%w: %v", decision.ErrUnavailable, err))
}

func (r *GormLimitStore) Read(ctx context.Context, key domain.LimitKey) (*domain.TradingLimit, error) {
	var po TradingLimitPO
	err := r.db.WithContext(ctx).Scopes(keyScope(key)).First(&po).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrLimitNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return toTradingLimit(&po), nil
}

func (r *GormLimitStore) TryConsume(ctx context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal, expectedVersion int64) (bool, error) {
	if !side.Valid() {
		return false, domain.ErrInvalidSide
	}
	limitCol, usedCol := sideColumns(side)
	res := r.db.WithContext(ctx).Model(&TradingLimitPO{}).
		Scopes(keyScope(key)).
		Where("version = ?", expectedVersion).
		Where(limitCol+" - "+usedCol+" >= ?", qty).
		Updates(map[string]any{
			usedCol:   gorm.Expr(usedCol+" + ?", qty),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, unavailable(res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// 未命中时区分：不存在 / 版本变化 / 额度不足
	current, err := r.Read(ctx, key)
	if err != nil {
		return false, err
	}
	if current.Version != expectedVersion {
		return false, decision.Conflict(nil)
	}
	return false, nil
}

func (r *GormLimitStore) Release(ctx context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal) error {
	_, usedCol := sideColumns(side)
	// mysql 与 postgres 均支持 GREATEST
	res := r.db.WithContext(ctx).Model(&TradingLimitPO{}).
		Scopes(keyScope(key)).
		Updates(map[string]any{
			usedCol:   gorm.Expr("GREATEST("+usedCol+" - ?, 0)", qty),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrLimitNotFound
	}
	return nil
}

// Upsert 写入 limit 值；已存在时只更新 limit 列并推进版本
func (r *GormLimitStore) Upsert(ctx context.Context, l *domain.TradingLimit) error {
	po := toTradingLimitPO(l)
	po.Version = 1
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "security_id"}, {Name: "business_date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"short_sell_limit": l.ShortSellLimit,
			"long_sell_limit":  l.LongSellLimit,
			"version":          gorm.Expr("trading_limits.version + 1"),
			"updated_at":       time.Now(),
		}),
	}).Create(po).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("upsert limit %s: %w", l.Key, err)
	}
	return nil
}

func toTradingLimitPO(l *domain.TradingLimit) *TradingLimitPO {
	return &TradingLimitPO{
		EntityType:     string(l.Key.EntityType),
		EntityID:       l.Key.EntityID,
		SecurityID:     l.Key.SecurityID,
		BusinessDate:   l.Key.BusinessDate,
		ShortSellLimit: l.ShortSellLimit,
		ShortSellUsed:  l.ShortSellUsed,
		LongSellLimit:  l.LongSellLimit,
		LongSellUsed:   l.LongSellUsed,
		Version:        l.Version,
	}
}

func toTradingLimit(po *TradingLimitPO) *domain.TradingLimit {
	return &domain.TradingLimit{
		Key: domain.LimitKey{
			EntityType:   domain.EntityType(po.EntityType),
			EntityID:     po.EntityID,
			SecurityID:   po.SecurityID,
			BusinessDate: po.BusinessDate,
		},
		ShortSellLimit: po.ShortSellLimit,
		ShortSellUsed:  po.ShortSellUsed,
		LongSellLimit:  po.LongSellLimit,
		LongSellUsed:   po.LongSellUsed,
		Version:        po.Version,
		UpdatedAt:      po.UpdatedAt,
	}
}
