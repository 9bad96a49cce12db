package domain

import (
	"context"
	"time"
)

// Repository 借券申请仓储
type Repository interface {
	// Create 保存新申请
	Create(ctx context.Context, r *LocateRequest) error
	Get(ctx context.Context, requestID string) (*LocateRequest, error)
	// Update 按 expectedVersion 条件更新状态并写入新挂接的批准/拒绝记录，成功后版本加一；
	// 版本不符返回冲突错误
	Update(ctx context.Context, r *LocateRequest, expectedVersion int64) error
	// ListExpirable 查询 asOf 时已过期的 APPROVED 申请
	ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]*LocateRequest, error)
}
