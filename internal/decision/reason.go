// Package decision 定义借券与订单校验共享的决策词汇：拒绝原因码、错误分类、重试策略与业务日历。
// 拒绝是普通数据路径，不通过 error 传递；error 只用于状态错误与持久化失败。
package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reason 机器可读的拒绝原因码
type Reason string

const (
	ReasonNone                             Reason = ""
	ReasonInvalidRequest                   Reason = "INVALID_REQUEST"
	ReasonInvalidOrder                     Reason = "INVALID_ORDER"
	ReasonInsufficientInventory            Reason = "INSUFFICIENT_INVENTORY"
	ReasonInsufficientClientLimit          Reason = "INSUFFICIENT_CLIENT_LIMIT"
	ReasonInsufficientAggregationUnitLimit Reason = "INSUFFICIENT_AGGREGATION_UNIT_LIMIT"
	ReasonLimitServiceUnavailable          Reason = "LIMIT_SERVICE_UNAVAILABLE"
	ReasonInventoryServiceUnavailable      Reason = "INVENTORY_SERVICE_UNAVAILABLE"
	ReasonReferenceDataUnavailable         Reason = "REFERENCE_DATA_UNAVAILABLE"
	ReasonConcurrencyConflict              Reason = "CONCURRENCY_CONFLICT"
	ReasonRuleRejected                     Reason = "RULE_REJECTED"
	ReasonRestrictedSecurity               Reason = "RESTRICTED_SECURITY"
	ReasonManualReviewRequired             Reason = "MANUAL_REVIEW_REQUIRED"
	ReasonInternalError                    Reason = "INTERNAL_ERROR"
)

var knownReasons = map[Reason]struct{}{
	ReasonInvalidRequest:                   {},
	ReasonInvalidOrder:                     {},
	ReasonInsufficientInventory:            {},
	ReasonInsufficientClientLimit:          {},
	ReasonInsufficientAggregationUnitLimit: {},
	ReasonLimitServiceUnavailable:          {},
	ReasonInventoryServiceUnavailable:      {},
	ReasonReferenceDataUnavailable:         {},
	ReasonConcurrencyConflict:              {},
	ReasonRuleRejected:                     {},
	ReasonRestrictedSecurity:               {},
	ReasonManualReviewRequired:             {},
	ReasonInternalError:                    {},
}

// ParseReason 将外部配置的原因码映射到固定词汇表，未知码返回 false
func ParseReason(code string) (Reason, bool) {
	r := Reason(strings.ToUpper(strings.TrimSpace(code)))
	_, ok := knownReasons[r]
	return r, ok
}

// Kind 错误分类
type Kind int

const (
	// KindValidation 请求格式或资格不合法，终态拒绝，不重试
	KindValidation Kind = iota + 1
	// KindCapacity 额度或库存不足，终态拒绝，不重试
	KindCapacity
	// KindTransient 依赖服务不可用或超时，有限重试后 fail-closed
	KindTransient
	// KindConflict 乐观并发冲突，立即重试，耗尽后按 KindTransient 处理
	KindConflict
	// KindState 对非 PENDING 的实体再次操作
	KindState
)

// Retryable 瞬时故障与版本冲突可重试
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindConflict
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error 带分类的决策错误
type Error struct {
	Kind   Kind
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s error (%s)", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }


var (
	// ErrState 实体已处于终态
	ErrState = errors.New("entity is not pending")
	// ErrVersionConflict 乐观锁版本冲突
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnavailable 依赖服务不可用
	ErrUnavailable = errors.New("dependency unavailable")
)

// NewStateError 构造状态错误
func NewStateError(format string, args ...any) error {
	return &Error{Kind: KindState, Err: fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))}
}

// Transient 包装依赖故障
func Transient(reason Reason, err error) error {
	return &Error{Kind: KindTransient, Reason: reason, Err: err}
}

// Conflict 包装版本冲突
func Conflict(err error) error {
	if err == nil {
		err = ErrVersionConflict
	}
	return &Error{Kind: KindConflict, Reason: ReasonConcurrencyConflict, Err: err}
}

// KindOf 提取错误分类，未分类错误返回 0
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrVersionConflict) {
		return KindConflict
	}
	if errors.Is(err, ErrState) {
		return KindState
	}
	return 0
}

// IsStateError 是否为状态错误
func IsStateError(err error) bool {
	return KindOf(err) == KindState
}

// ReasonFor 将依赖错误映射为 fail-closed 拒绝原因；无法识别的错误一律 INTERNAL_ERROR
func ReasonFor(err error, fallback Reason) Reason {
	var de *Error
	if errors.As(err, &de) {
		switch {
		case de.Kind == KindConflict:
			return ReasonConcurrencyConflict
		case de.Reason != ReasonNone:
			return de.Reason
		}
	}
	if errors.Is(err, ErrVersionConflict) {
		return ReasonConcurrencyConflict
	}
	unavailable := errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
	if unavailable && fallback != ReasonNone {
		return fallback
	}
	return ReasonInternalError
}
