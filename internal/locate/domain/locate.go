// Package domain 借券（locate）申请、批准与拒绝记录
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
)

// LocateType 借券类型
type LocateType string

const (
	LocateTypeShortSell LocateType = "SHORT_SELL"
	LocateTypeSwap      LocateType = "SWAP"
)

// Status 申请状态，只能单向流转
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusExpired},
}

// CanTransition 状态迁移表
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var ErrLocateNotFound = errors.New("locate request not found")

// LocateRequest 借券申请
type LocateRequest struct {
	RequestID         string          `json:"request_id"`
	SecurityID        string          `json:"security_id"`
	RequestorID       string          `json:"requestor_id"`
	ClientID          string          `json:"client_id"`
	AggregationUnitID string          `json:"aggregation_unit_id,omitempty"`
	LocateType        LocateType      `json:"locate_type"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	RequestTimestamp  time.Time       `json:"request_timestamp"`
	Status            Status          `json:"status"`
	// 互换 / 现金标识
	IsSwap    bool       `json:"is_swap"`
	Approval  *Approval  `json:"approval,omitempty"`
	Rejection *Rejection `json:"rejection,omitempty"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Approval 借券批准
type Approval struct {
	ApprovalID        string          `json:"approval_id"`
	RequestID         string          `json:"request_id"`
	ApprovedQuantity  decimal.Decimal `json:"approved_quantity"`
	DecrementQuantity decimal.Decimal `json:"decrement_quantity"`
	ApprovalTimestamp time.Time       `json:"approval_timestamp"`
	ApprovedBy        string          `json:"approved_by"`
	ExpiryDate        time.Time       `json:"expiry_date"`
	AutoApproved      bool            `json:"auto_approved"`
	Temperature       string          `json:"temperature"`
	BorrowRate        decimal.Decimal `json:"borrow_rate"`
}

// RemainingQuantity 供下游卖空消耗的剩余额度
func (a *Approval) RemainingQuantity() decimal.Decimal {
	return a.ApprovedQuantity.Sub(a.DecrementQuantity)
}

// Rejection 借券拒绝
type Rejection struct {
	RejectionID        string          `json:"rejection_id"`
	RequestID          string          `json:"request_id"`
	Reason             decision.Reason `json:"reason"`
	RejectionTimestamp time.Time       `json:"rejection_timestamp"`
	RejectedBy         string          `json:"rejected_by"`
	AutoRejected       bool            `json:"auto_rejected"`
}

// NewLocateRequest 创建 PENDING 申请
func NewLocateRequest(id, securityID, requestorID, clientID, auID string, lt LocateType, qty decimal.Decimal, isSwap bool, now time.Time) *LocateRequest {
	return &LocateRequest{
		RequestID:         id,
		SecurityID:        securityID,
		RequestorID:       requestorID,
		ClientID:          clientID,
		AggregationUnitID: auID,
		LocateType:        lt,
		RequestedQuantity: qty,
		RequestTimestamp:  now,
		Status:            StatusPending,
		IsSwap:            isSwap,
		Version:           1,
		UpdatedAt:         now,
	}
}

func (r *LocateRequest) transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return decision.NewStateError("locate %s cannot move from %s to %s", r.RequestID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// Approve 挂接批准记录并进入 APPROVED
func (r *LocateRequest) Approve(a *Approval) error {
	if r.Approval != nil || r.Rejection != nil {
		return decision.NewStateError("locate %s already resolved", r.RequestID)
	}
	if a.ApprovedQuantity.GreaterThan(r.RequestedQuantity) || !a.ApprovedQuantity.IsPositive() {
		return fmt.Errorf("approved quantity %s outside (0, %s]", a.ApprovedQuantity, r.RequestedQuantity)
	}
	if a.DecrementQuantity.IsNegative() || a.DecrementQuantity.GreaterThan(a.ApprovedQuantity) {
		return fmt.Errorf("decrement quantity %s outside [0, %s]", a.DecrementQuantity, a.ApprovedQuantity)
	}
	if err := r.transition(StatusApproved, a.ApprovalTimestamp); err != nil {
		return err
	}
	r.Approval = a
	return nil
}

// Reject 挂接拒绝记录并进入 REJECTED
func (r *LocateRequest) Reject(rej *Rejection) error {
	if r.Approval != nil || r.Rejection != nil {
		return decision.NewStateError("locate %s already resolved", r.RequestID)
	}
	if err := r.transition(StatusRejected, rej.RejectionTimestamp); err != nil {
		return err
	}
	r.Rejection = rej
	return nil
}

func (r *LocateRequest) Cancel(now time.Time) error {
	return r.transition(StatusCancelled, now)
}

// Expire 批准到期；未到期返回错误
func (r *LocateRequest) Expire(asOf time.Time) error {
	if r.Status == StatusApproved && r.Approval != nil && asOf.Before(r.Approval.ExpiryDate) {
		return fmt.Errorf("locate %s not expired until %s", r.RequestID, r.Approval.ExpiryDate.Format(time.RFC3339))
	}
	return r.transition(StatusExpired, asOf)
}

// Clone 深拷贝，内存仓储用
func (r *LocateRequest) Clone() *LocateRequest {
	cp := *r
	if r.Approval != nil {
		a := *r.Approval
		cp.Approval = &a
	}
	if r.Rejection != nil {
		rej := *r.Rejection
		cp.Rejection = &rej
	}
	return &cp
}

// Outcome 审批结果，Approval 与 Rejection 恰有一个非空
type Outcome struct {
	Request   *LocateRequest
	Approval  *Approval
	Rejection *Rejection
}

func (o *Outcome) Approved() bool { return o.Approval != nil }

// Outputs 编排层使用的输出变量
type Outputs struct {
	Approved          bool            `json:"approved"`
	ApprovedQuantity  decimal.Decimal `json:"approvedQuantity"`
	DecrementQuantity decimal.Decimal `json:"decrementQuantity"`
	RejectionReason   *string         `json:"rejectionReason"`
}

func (o *Outcome) Outputs() Outputs {
	if o.Approval != nil {
		return Outputs{Approved: true, ApprovedQuantity: o.Approval.ApprovedQuantity, DecrementQuantity: o.Approval.DecrementQuantity}
	}
	out := Outputs{ApprovedQuantity: decimal.Zero, DecrementQuantity: decimal.Zero}
	if o.Rejection != nil {
		reason := string(o.Rejection.Reason)
		out.RejectionReason = &reason
	}
	return out
}
