// Package domain 工作流与库存事件契约，供 UI 推送、风控与簿记系统消费
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// WorkflowType 工作流类型
type WorkflowType string

const (
	WorkflowLocate          WorkflowType = "LOCATE"
	WorkflowOrderValidation WorkflowType = "ORDER_VALIDATION"
)

const (
	EventLocateApproved       = "LOCATE_APPROVED"
	EventLocateRejected       = "LOCATE_REJECTED"
	EventLocateCancelled      = "LOCATE_CANCELLED"
	EventLocateExpired        = "LOCATE_EXPIRED"
	EventOrderApproved        = "ORDER_VALIDATION_APPROVED"
	EventOrderRejected        = "ORDER_VALIDATION_REJECTED"
	EventInventoryDecremented = "INVENTORY_DECREMENTED"
	EventInventoryReplenished = "INVENTORY_REPLENISHED"
)

// WorkflowEvent 工作流状态变更事件
type WorkflowEvent struct {
	EventID           string       `json:"eventId"`
	EventType         string       `json:"eventType"`
	WorkflowType      WorkflowType `json:"workflowType"`
	WorkflowID        string       `json:"workflowId"`
	LocateID          string       `json:"locateId,omitempty"`
	Status            string       `json:"status"`
	SecurityID        string       `json:"securityId"`
	ClientID          string       `json:"clientId"`
	AggregationUnitID string       `json:"aggregationUnitId,omitempty"`
	RejectionReason   *string      `json:"rejectionReason"`
	ProcessingTimeMs  int64        `json:"processingTimeMs"`
	IsAutomatic       bool         `json:"isAutomatic"`
	ActionTimestamp   time.Time    `json:"actionTimestamp"`
}

// Key 分区键，同一工作流的事件保持顺序
func (e WorkflowEvent) Key() string { return e.WorkflowID }

// InventoryEvent 库存变更事件
type InventoryEvent struct {
	EventID           string          `json:"eventId"`
	EventType         string          `json:"eventType"`
	SecurityID        string          `json:"securityId"`
	CounterpartyID    string          `json:"counterpartyId"`
	AggregationUnitID string          `json:"aggregationUnitId,omitempty"`
	CalculationType   string          `json:"calculationType"`
	BusinessDate      string          `json:"businessDate"`
	WorkflowID        string          `json:"workflowId,omitempty"`
	DecrementQuantity decimal.Decimal `json:"decrementQuantity"`
	RemainingQuantity decimal.Decimal `json:"remainingQuantity"`
	ActionTimestamp   time.Time       `json:"actionTimestamp"`
}

// Key 同一证券的库存事件保持顺序
func (e InventoryEvent) Key() string { return e.SecurityID }

// Reason 可空拒绝原因
func Reason(code string) *string {
	if code == "" {
		return nil
	}
	return &code
}

// Publisher 事件发布，至少一次投递
type Publisher interface {
	PublishWorkflowEvent(ctx context.Context, event WorkflowEvent) error
	PublishInventoryEvent(ctx context.Context, event InventoryEvent) error
}
