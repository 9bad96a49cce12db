package infrastructure

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/domain"
	"github.com/wyfcoding/securitieslending/pkg/db"
	"gorm.io/gorm"
)

type OrderValidationPO struct {
	ID                uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	ValidationID      string          `gorm:"column:validation_id;type:varchar(32);uniqueIndex;not null"`
	OrderID           string          `gorm:"column:order_id;type:varchar(64);uniqueIndex;not null"`
	OrderType         string          `gorm:"column:order_type;type:varchar(16);not null"`
	SecurityID        string          `gorm:"column:security_id;type:varchar(32);index"`
	ClientID          string          `gorm:"column:client_id;type:varchar(64);index"`
	AggregationUnitID string          `gorm:"column:aggregation_unit_id;type:varchar(64)"`
	Quantity          decimal.Decimal `gorm:"column:quantity;type:decimal(20,4)"`
	Timestamp         time.Time       `gorm:"column:timestamp;not null"`
	Status            string          `gorm:"column:status;type:varchar(16);index;not null"`
	RejectionReason   string          `gorm:"column:rejection_reason;type:varchar(64)"`
	ProcessingTimeMs  int64           `gorm:"column:processing_time_ms"`
	Version           int64           `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

func (OrderValidationPO) TableName() string { return "order_validations" }

// GormRepository 订单校验记录数据库仓储
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&OrderValidationPO{})
}

func (r *GormRepository) Create(ctx context.Context, v *domain.OrderValidation) error {
	err := r.db.WithContext(ctx).Create(toPO(v)).Error
	if db.IsDuplicateKey(err) {
		return decision.NewStateError("order %s already submitted", v.OrderID)
	}
	return err
}

func (r *GormRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.OrderValidation, error) {
	var po OrderValidationPO
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&po).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrValidationNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromPO(&po), nil
}

// Update 只允许从 PENDING 写入终态
func (r *GormRepository) Update(ctx context.Context, v *domain.OrderValidation, expectedVersion int64) error {
	res := r.db.WithContext(ctx).Model(&OrderValidationPO{}).
		Where("order_id = ? AND version = ? AND status = ?", v.OrderID, expectedVersion, string(domain.StatusPending)).
		Updates(map[string]any{
			"status":             string(v.Status),
			"rejection_reason":   string(v.RejectionReason),
			"processing_time_ms": v.ProcessingTimeMs,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         v.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return decision.Conflict(nil)
	}
	v.Version = expectedVersion + 1
	return nil
}

func toPO(v *domain.OrderValidation) *OrderValidationPO {
	return &OrderValidationPO{
		ValidationID:      v.ValidationID,
		OrderID:           v.OrderID,
		OrderType:         string(v.OrderType),
		SecurityID:        v.SecurityID,
		ClientID:          v.ClientID,
		AggregationUnitID: v.AggregationUnitID,
		Quantity:          v.Quantity,
		Timestamp:         v.Timestamp,
		Status:            string(v.Status),
		RejectionReason:   string(v.RejectionReason),
		ProcessingTimeMs:  v.ProcessingTimeMs,
		Version:           v.Version,
		UpdatedAt:         v.UpdatedAt,
	}
}

func fromPO(po *OrderValidationPO) *domain.OrderValidation {
	return &domain.OrderValidation{
		ValidationID:      po.ValidationID,
		OrderID:           po.OrderID,
		OrderType:         domain.OrderType(po.OrderType),
		SecurityID:        po.SecurityID,
		ClientID:          po.ClientID,
		AggregationUnitID: po.AggregationUnitID,
		Quantity:          po.Quantity,
		Timestamp:         po.Timestamp,
		Status:            domain.Status(po.Status),
		RejectionReason:   decision.Reason(po.RejectionReason),
		ProcessingTimeMs:  po.ProcessingTimeMs,
		Version:           po.Version,
		UpdatedAt:         po.UpdatedAt,
	}
}
