// Package domain 卖空 / 卖出订单的额度校验记录
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
	limitdomain "github.com/wyfcoding/securitieslending/internal/limit/domain"
)

type OrderType string

const (
	OrderTypeShortSell OrderType = "SHORT_SELL"
	OrderTypeLongSell  OrderType = "LONG_SELL"
	OrderTypeBuy       OrderType = "BUY"
)

// Side 对应的额度方向；BUY 不占用卖出额度
func (t OrderType) Side() (limitdomain.Side, bool) {
	switch t {
	case OrderTypeShortSell:
		return limitdomain.SideShortSell, true
	case OrderTypeLongSell:
		return limitdomain.SideLongSell, true
	}
	return "", false
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Step 校验流程中的步骤
type Step string

const (
	StepValidateFormat            Step = "validate_format"
	StepCheckClientLimit          Step = "check_client_limit"
	StepCheckAggregationUnitLimit Step = "check_aggregation_unit_limit"
	StepApproveAndUpdateLimits    Step = "approve_and_update_limits"
	StepDone                      Step = "done"
)

// NextStep 通过当前步骤后的下一步。BUY 格式校验通过即结束。
func NextStep(current Step, t OrderType) Step {
	switch current {
	case StepValidateFormat:
		if t == OrderTypeBuy {
			return StepDone
		}
		return StepCheckClientLimit
	case StepCheckClientLimit:
		return StepCheckAggregationUnitLimit
	case StepCheckAggregationUnitLimit:
		return StepApproveAndUpdateLimits
	default:
		return StepDone
	}
}

var ErrValidationNotFound = errors.New("order validation not found")

// Order 待校验订单
type Order struct {
	OrderID           string          `json:"order_id" validate:"required"`
	OrderType         OrderType       `json:"order_type" validate:"required,oneof=SHORT_SELL LONG_SELL BUY"`
	SecurityID        string          `json:"security_id" validate:"required"`
	ClientID          string          `json:"client_id" validate:"required"`
	AggregationUnitID string          `json:"aggregation_unit_id" validate:"required"`
	Quantity          decimal.Decimal `json:"quantity"`
	// 可选，缺省取参考数据中证券所属市场
	Market string `json:"market,omitempty"`
	// 可选，缺省取接收时刻所在业务日
	BusinessDate string    `json:"business_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ReceivedAt   time.Time `json:"received_at,omitempty"`
}

// OrderValidation 订单校验记录，终态后不可变
type OrderValidation struct {
	ValidationID      string          `json:"validation_id"`
	OrderID           string          `json:"order_id"`
	OrderType         OrderType       `json:"order_type"`
	SecurityID        string          `json:"security_id"`
	ClientID          string          `json:"client_id"`
	AggregationUnitID string          `json:"aggregation_unit_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	Timestamp         time.Time       `json:"timestamp"`
	Status            Status          `json:"status"`
	RejectionReason   decision.Reason `json:"rejection_reason,omitempty"`
	ProcessingTimeMs  int64           `json:"processing_time_ms"`
	Version           int64           `json:"version"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func NewOrderValidation(id string, o Order, now time.Time) *OrderValidation {
	return &OrderValidation{
		ValidationID:      id,
		OrderID:           o.OrderID,
		OrderType:         o.OrderType,
		SecurityID:        o.SecurityID,
		ClientID:          o.ClientID,
		AggregationUnitID: o.AggregationUnitID,
		Quantity:          o.Quantity,
		Timestamp:         now,
		Status:            StatusPending,
		Version:           1,
		UpdatedAt:         now,
	}
}

func (v *OrderValidation) resolve(to Status, reason decision.Reason, processing time.Duration, now time.Time) error {
	if v.Status != StatusPending {
		return decision.NewStateError("order %s is %s", v.OrderID, v.Status)
	}
	v.ProcessingTimeMs = processing.Milliseconds()
	v.Status = to
	v.RejectionReason = reason
	v.UpdatedAt = now
	return nil
}

// Approve 处理耗时先于状态写入
func (v *OrderValidation) Approve(processing time.Duration, now time.Time) error {
	return v.resolve(StatusApproved, decision.ReasonNone, processing, now)
}

func (v *OrderValidation) Reject(reason decision.Reason, processing time.Duration, now time.Time) error {
	return v.resolve(StatusRejected, reason, processing, now)
}

// ConsumesLimits 批准后是否占用了卖出额度
func (v *OrderValidation) ConsumesLimits() bool {
	_, sell := v.OrderType.Side()
	return v.Status == StatusApproved && sell
}

// Outputs 编排层使用的输出变量
type Outputs struct {
	Approved          bool            `json:"approved"`
	ApprovedQuantity  decimal.Decimal `json:"approvedQuantity"`
	DecrementQuantity decimal.Decimal `json:"decrementQuantity"`
	RejectionReason   *string         `json:"rejectionReason"`
}

func (v *OrderValidation) Outputs() Outputs {
	out := Outputs{ApprovedQuantity: decimal.Zero, DecrementQuantity: decimal.Zero}
	if v.Status == StatusApproved {
		out.Approved = true
		out.ApprovedQuantity = v.Quantity
		if v.ConsumesLimits() {
			out.DecrementQuantity = v.Quantity
		}
		return out
	}
	if v.RejectionReason != decision.ReasonNone {
		reason := string(v.RejectionReason)
		out.RejectionReason = &reason
	}
	return out
}
