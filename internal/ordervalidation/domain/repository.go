package domain

import "context"

// Repository 订单校验记录仓储，orderId 唯一
type Repository interface {
	// Create 写入 PENDING 记录；orderId 已存在返回状态错误
	Create(ctx context.Context, v *OrderValidation) error
	GetByOrderID(ctx context.Context, orderID string) (*OrderValidation, error)
	// Update 按版本写入终态，成功后版本加一
	Update(ctx context.Context, v *OrderValidation, expectedVersion int64) error
}
