package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/locate/domain"
	"github.com/wyfcoding/securitieslending/pkg/db"
	"gorm.io/gorm"
)

// LocateRequestPO 借券申请表，只追加状态变化不删除
type LocateRequestPO struct {
	ID                uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	RequestID         string          `gorm:"column:request_id;type:varchar(32);uniqueIndex;not null"`
	SecurityID        string          `gorm:"column:security_id;type:varchar(32);index;not null"`
	RequestorID       string          `gorm:"column:requestor_id;type:varchar(64)"`
	ClientID          string          `gorm:"column:client_id;type:varchar(64);index;not null"`
	AggregationUnitID string          `gorm:"column:aggregation_unit_id;type:varchar(64)"`
	LocateType        string          `gorm:"column:locate_type;type:varchar(16);not null"`
	RequestedQuantity decimal.Decimal `gorm:"column:requested_quantity;type:decimal(20,4);not null"`
	RequestTimestamp  time.Time       `gorm:"column:request_timestamp;not null"`
	Status            string          `gorm:"column:status;type:varchar(16);index;not null"`
	IsSwap            bool            `gorm:"column:is_swap;not null;default:false"`
	Version           int64           `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`

	Approval  *LocateApprovalPO  `gorm:"foreignKey:RequestID;references:RequestID"`
	Rejection *LocateRejectionPO `gorm:"foreignKey:RequestID;references:RequestID"`
}

func (LocateRequestPO) TableName() string { return "locate_requests" }

type LocateApprovalPO struct {
	ID                uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	ApprovalID        string          `gorm:"column:approval_id;type:varchar(32);uniqueIndex;not null"`
	RequestID         string          `gorm:"column:request_id;type:varchar(32);uniqueIndex;not null"`
	ApprovedQuantity  decimal.Decimal `gorm:"column:approved_quantity;type:decimal(20,4);not null"`
	DecrementQuantity decimal.Decimal `gorm:"column:decrement_quantity;type:decimal(20,4);not null"`
	ApprovalTimestamp time.Time       `gorm:"column:approval_timestamp;not null"`
	ApprovedBy        string          `gorm:"column:approved_by;type:varchar(64)"`
	ExpiryDate        time.Time       `gorm:"column:expiry_date;index;not null"`
	AutoApproved      bool            `gorm:"column:auto_approved"`
	Temperature       string          `gorm:"column:temperature;type:varchar(16)"`
	BorrowRate        decimal.Decimal `gorm:"column:borrow_rate;type:decimal(10,6)"`
}

func (LocateApprovalPO) TableName() string { return "locate_approvals" }

type LocateRejectionPO struct {
	ID                 uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	RejectionID        string    `gorm:"column:rejection_id;type:varchar(32);uniqueIndex;not null"`
	RequestID          string    `gorm:"column:request_id;type:varchar(32);uniqueIndex;not null"`
	Reason             string    `gorm:"column:reason;type:varchar(64);not null"`
	RejectionTimestamp time.Time `gorm:"column:rejection_timestamp;not null"`
	RejectedBy         string    `gorm:"column:rejected_by;type:varchar(64)"`
	AutoRejected       bool      `gorm:"column:auto_rejected"`
}

func (LocateRejectionPO) TableName() string { return "locate_rejections" }

// GormRepository 借券申请数据库仓储
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&LocateRequestPO{}, &LocateApprovalPO{}, &LocateRejectionPO{})
}

func (r *GormRepository) Create(ctx context.Context, req *domain.LocateRequest) error {
	err := r.db.WithContext(ctx).Omit("Approval", "Rejection").Create(toRequestPO(req)).Error
	if db.IsDuplicateKey(err) {
		return decision.NewStateError("locate %s already exists", req.RequestID)
	}
	return err
}

func (r *GormRepository) Get(ctx context.Context, id string) (*domain.LocateRequest, error) {
	var po LocateRequestPO
	err := r.db.WithContext(ctx).Preload("Approval").Preload("Rejection").
		Where("request_id = ?", id).First(&po).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrLocateNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRequest(&po), nil
}

// Update 状态行按版本条件更新，批准 / 拒绝记录在同一事务内写入
func (r *GormRepository) Update(ctx context.Context, req *domain.LocateRequest, expectedVersion int64) error {
	err := db.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		res := tx.Model(&LocateRequestPO{}).
			Where("request_id = ? AND version = ?", req.RequestID, expectedVersion).
			Updates(map[string]any{
				"status":     string(req.Status),
				"version":    gorm.Expr("version + 1"),
				"updated_at": req.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&LocateRequestPO{}).Where("request_id = ?", req.RequestID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return domain.ErrLocateNotFound
			}
			return decision.Conflict(nil)
		}
		if req.Approval != nil && req.Status == domain.StatusApproved {
			if err := tx.Create(toApprovalPO(req.Approval)).Error; err != nil {
				return fmt.Errorf("insert approval: %w", err)
			}
		}
		if req.Rejection != nil && req.Status == domain.StatusRejected {
			if err := tx.Create(toRejectionPO(req.Rejection)).Error; err != nil {
				return fmt.Errorf("insert rejection: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		// 批准 / 拒绝唯一索引冲突说明并发请求已先行落库
		if db.IsDuplicateKey(err) {
			return decision.Conflict(err)
		}
		return err
	}
	req.Version = expectedVersion + 1
	return nil
}

func (r *GormRepository) ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]*domain.LocateRequest, error) {
	var pos []LocateRequestPO
	q := r.db.WithContext(ctx).
		Joins("JOIN locate_approvals ON locate_approvals.request_id = locate_requests.request_id").
		Where("locate_requests.status = ? AND locate_approvals.expiry_date <= ?", string(domain.StatusApproved), asOf).
		Preload("Approval").
		Order("locate_requests.request_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&pos).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.LocateRequest, 0, len(pos))
	for i := range pos {
		out = append(out, toRequest(&pos[i]))
	}
	return out, nil
}

func toRequestPO(r *domain.LocateRequest) *LocateRequestPO {
	return &LocateRequestPO{
		RequestID:         r.RequestID,
		SecurityID:        r.SecurityID,
		RequestorID:       r.RequestorID,
		ClientID:          r.ClientID,
		AggregationUnitID: r.AggregationUnitID,
		LocateType:        string(r.LocateType),
		RequestedQuantity: r.RequestedQuantity,
		RequestTimestamp:  r.RequestTimestamp,
		Status:            string(r.Status),
		IsSwap:            r.IsSwap,
		Version:           r.Version,
		UpdatedAt:         r.UpdatedAt,
	}
}

func toApprovalPO(a *domain.Approval) *LocateApprovalPO {
	return &LocateApprovalPO{
		ApprovalID:        a.ApprovalID,
		RequestID:         a.RequestID,
		ApprovedQuantity:  a.ApprovedQuantity,
		DecrementQuantity: a.DecrementQuantity,
		ApprovalTimestamp: a.ApprovalTimestamp,
		ApprovedBy:        a.ApprovedBy,
		ExpiryDate:        a.ExpiryDate,
		AutoApproved:      a.AutoApproved,
		Temperature:       a.Temperature,
		BorrowRate:        a.BorrowRate,
	}
}

func toRejectionPO(rej *domain.Rejection) *LocateRejectionPO {
	return &LocateRejectionPO{
		RejectionID:        rej.RejectionID,
		RequestID:          rej.RequestID,
		Reason:             string(rej.Reason),
		RejectionTimestamp: rej.RejectionTimestamp,
		RejectedBy:         rej.RejectedBy,
		AutoRejected:       rej.AutoRejected,
	}
}

func toRequest(po *LocateRequestPO) *domain.LocateRequest {
	r := &domain.LocateRequest{
		RequestID:         po.RequestID,
		SecurityID:        po.SecurityID,
		RequestorID:       po.RequestorID,
		ClientID:          po.ClientID,
		AggregationUnitID: po.AggregationUnitID,
		LocateType:        domain.LocateType(po.LocateType),
		RequestedQuantity: po.RequestedQuantity,
		RequestTimestamp:  po.RequestTimestamp,
		Status:            domain.Status(po.Status),
		IsSwap:            po.IsSwap,
		Version:           po.Version,
		UpdatedAt:         po.UpdatedAt,
	}
	if a := po.Approval; a != nil {
		r.Approval = &domain.Approval{
			ApprovalID:        a.ApprovalID,
			RequestID:         a.RequestID,
			ApprovedQuantity:  a.ApprovedQuantity,
			DecrementQuantity: a.DecrementQuantity,
			ApprovalTimestamp: a.ApprovalTimestamp,
			ApprovedBy:        a.ApprovedBy,
			ExpiryDate:        a.ExpiryDate,
			AutoApproved:      a.AutoApproved,
			Temperature:       a.Temperature,
			BorrowRate:        a.BorrowRate,
		}
	}
	if rej := po.Rejection; rej != nil {
		r.Rejection = &domain.Rejection{
			RejectionID:        rej.RejectionID,
			RequestID:          rej.RequestID,
			Reason:             decision.Reason(rej.Reason),
			RejectionTimestamp: rej.RejectionTimestamp,
			RejectedBy:         rej.RejectedBy,
			AutoRejected:       rej.AutoRejected,
		}
	}
	return r
}
