package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wyfcoding/securitieslending/internal/decision"
	eventdomain "github.com/wyfcoding/securitieslending/internal/event/domain"
	invdomain "github.com/wyfcoding/securitieslending/internal/inventory/domain"
	"github.com/wyfcoding/securitieslending/internal/locate/domain"
	refdomain "github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	ruleapp "github.com/wyfcoding/securitieslending/internal/rule/application"
	ruledomain "github.com/wyfcoding/securitieslending/internal/rule/domain"
	"github.com/wyfcoding/securitieslending/pkg/idgen"
	"github.com/wyfcoding/securitieslending/pkg/metrics"
)

// RuleSource 规则求值
type RuleSource interface {
	Evaluate(ctx context.Context, ruleType ruledomain.RuleType, rc ruledomain.Context, asOf string) []ruleapp.Decision
}

// EngineConfig 审批参数默认值
type EngineConfig struct {
	DefaultApprover      string
	DefaultTemperature   string
	DefaultBorrowRate    decimal.Decimal
	AutoApproveByDefault bool
	Retry                decision.RetryPolicy
}

// DefaultEngineConfig approver=SYSTEM, temperature=GC, borrowRate=0
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultApprover:      "SYSTEM",
		DefaultTemperature:   string(refdomain.TemperatureGC),
		DefaultBorrowRate:    decimal.Zero,
		AutoApproveByDefault: true,
		Retry:                decision.DefaultRetryPolicy(),
	}
}

// Deps 引擎依赖
type Deps struct {
	Repo      domain.Repository
	RefData   refdomain.Lookup
	Ledger    invdomain.Ledger
	Rules     RuleSource
	Policy    domain.DecrementPolicy
	Publisher eventdomain.Publisher
	Calendar  *decision.Calendar
	IDs       idgen.Generator
	Metrics   *metrics.Metrics
}

// Engine 借券审批状态机：校验 → 规则 → 库存扣减 → 批准 / 拒绝 → 持久化 → 发布事件
type Engine struct {
	Deps
	cfg    EngineConfig
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(deps Deps, cfg EngineConfig, logger *slog.Logger) *Engine {
	if deps.Policy == nil {
		deps.Policy = domain.FullDecrement()
	}
	if deps.Calendar == nil {
		deps.Calendar = decision.UTCCalendar()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.Default()
	}
	if cfg.DefaultApprover == "" {
		cfg.DefaultApprover = "SYSTEM"
	}
	if cfg.DefaultTemperature == "" {
		cfg.DefaultTemperature = string(refdomain.TemperatureGC)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = decision.DefaultRetryPolicy()
	}
	return &Engine{
		Deps:   deps,
		cfg:    cfg,
		tracer: otel.Tracer("seclending/locate"),
		logger: logger.With("module", "locate_engine"),
		now:    time.Now,
	}
}

// SubmitLocateCommand 借券申请
type SubmitLocateCommand struct {
	RequestID         string          `json:"request_id"`
	SecurityID        string          `json:"security_id" validate:"required"`
	RequestorID       string          `json:"requestor_id"`
	ClientID          string          `json:"client_id" validate:"required"`
	AggregationUnitID string          `json:"aggregation_unit_id"`
	LocateType        string          `json:"locate_type" validate:"omitempty,oneof=SHORT_SELL SWAP"`
	Quantity          decimal.Decimal `json:"quantity"`
	IsSwap            bool            `json:"is_swap"`
}

// Submit 创建 PENDING 申请，数量与资格校验留给 Approve
func (e *Engine) Submit(ctx context.Context, cmd SubmitLocateCommand) (*domain.LocateRequest, error) {
	id := cmd.RequestID
	if id == "" {
		id = e.IDs.Next("LOC")
	}
	lt := domain.LocateType(cmd.LocateType)
	if lt == "" {
		lt = domain.LocateTypeShortSell
	}
	req := domain.NewLocateRequest(id, cmd.SecurityID, cmd.RequestorID, cmd.ClientID, cmd.AggregationUnitID,
		lt, cmd.Quantity, cmd.IsSwap || lt == domain.LocateTypeSwap, e.now())
	if err := e.Repo.Create(ctx, req); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "locate submitted", "request_id", id, "security_id", cmd.SecurityID, "quantity", cmd.Quantity.String())
	return req, nil
}

func (e *Engine) Get(ctx context.Context, requestID string) (*domain.LocateRequest, error) {
	return e.Repo.Get(ctx, requestID)
}

// verdict 决策路径的中间结果
type verdict struct {
	approved     bool
	reason       decision.Reason
	autoApproved bool
	approvedQty  decimal.Decimal
	decrementQty decimal.Decimal
	temperature  string
	borrowRate   decimal.Decimal
	invKey       invdomain.InventoryKey
	remaining    decimal.Decimal
	decremented  bool
}

func reject(reason decision.Reason) verdict {
	return verdict{reason: reason}
}

// Approve 对 PENDING 申请做出终态决策。
// 拒绝通过 Outcome 返回；只有状态错误、申请不存在与持久化失败返回 error。
func (e *Engine) Approve(ctx context.Context, requestID string) (*domain.Outcome, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "locate.Approve", trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()

	req, err := e.Repo.Get(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if req.Status != domain.StatusPending {
		err := decision.NewStateError("locate %s is %s", requestID, req.Status)
		e.logger.WarnContext(ctx, "approve on resolved locate", "request_id", requestID, "status", req.Status)
		span.SetStatus(codes.Error, "state error")
		return nil, err
	}
	expectedVersion := req.Version

	v := e.decide(ctx, req)
	now := e.now()

	outcome := &domain.Outcome{Request: req}
	if v.approved {
		outcome.Approval = &domain.Approval{
			ApprovalID:        e.IDs.Next("LAP"),
			RequestID:         req.RequestID,
			ApprovedQuantity:  v.approvedQty,
			DecrementQuantity: v.decrementQty,
			ApprovalTimestamp: now,
			ApprovedBy:        e.cfg.DefaultApprover,
			ExpiryDate:        e.Calendar.NextBusinessDay(now),
			AutoApproved:      v.autoApproved,
			Temperature:       v.temperature,
			BorrowRate:        v.borrowRate,
		}
		err = req.Approve(outcome.Approval)
	} else {
		outcome.Rejection = &domain.Rejection{
			RejectionID:        e.IDs.Next("LRJ"),
			RequestID:          req.RequestID,
			Reason:             v.reason,
			RejectionTimestamp: now,
			RejectedBy:         e.cfg.DefaultApprover,
			AutoRejected:       v.reason != decision.ReasonManualReviewRequired,
		}
		err = req.Reject(outcome.Rejection)
	}
	if err == nil {
		err = e.Repo.Update(ctx, req, expectedVersion)
	}
	if err != nil {
		e.compensate(ctx, v)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		if decision.KindOf(err) == decision.KindConflict {
			// 并发请求已先行决策
			return nil, decision.NewStateError("locate %s resolved concurrently", requestID)
		}
		e.logger.ErrorContext(ctx, "persist locate decision failed", "request_id", requestID, "error", err)
		return nil, fmt.Errorf("persist locate %s: %w", requestID, err)
	}

	elapsed := e.now().Sub(start)
	status, reason := string(req.Status), string(v.reason)
	e.Metrics.ObserveDecision(string(eventdomain.WorkflowLocate), status, reason, elapsed)
	span.SetAttributes(attribute.String("status", status), attribute.String("reason", reason))
	e.logger.InfoContext(ctx, "locate resolved",
		"request_id", requestID, "status", status, "reason", reason,
		"approved_quantity", v.approvedQty.String(), "decrement_quantity", v.decrementQty.String(),
		"elapsed_ms", elapsed.Milliseconds())

	e.publishOutcome(ctx, outcome, v, elapsed)
	return outcome, nil
}

// decide 决策路径。依赖错误与 panic 一律转为拒绝。
func (e *Engine) decide(ctx context.Context, req *domain.LocateRequest) (v verdict) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "panic in locate decision", "request_id", req.RequestID, "panic", fmt.Sprint(r))
			e.compensate(ctx, v)
			v = reject(decision.ReasonInternalError)
		}
	}()

	sec, reason := e.validate(ctx, req)
	if reason != decision.ReasonNone {
		return reject(reason)
	}

	v.temperature = e.cfg.DefaultTemperature
	if sec.Temperature != "" {
		v.temperature = string(sec.Temperature)
	}
	v.borrowRate = e.cfg.DefaultBorrowRate
	if !sec.BorrowRate.IsZero() {
		v.borrowRate = sec.BorrowRate
	}
	v.approvedQty = req.RequestedQuantity
	v.autoApproved = e.cfg.AutoApproveByDefault

	businessDate := e.Calendar.BusinessDate(e.now())
	v.invKey = invdomain.InventoryKey{
		SecurityID:        req.SecurityID,
		CounterpartyID:    req.ClientID,
		AggregationUnitID: req.AggregationUnitID,
		BusinessDate:      businessDate,
		CalculationType:   invdomain.CalcLocate,
	}

	// 展示性读取，仅用于规则上下文，扣减仍以 TryDecrement 为准
	available := decimal.Zero
	if snap, err := e.Ledger.Read(ctx, v.invKey); err == nil {
		available = snap.Available
	} else if !errors.Is(err, invdomain.ErrInventoryNotFound) {
		e.logger.WarnContext(ctx, "inventory read failed", "key", v.invKey.String(), "error", err)
		return reject(decision.ReasonFor(err, decision.ReasonInventoryServiceUnavailable))
	}

	if r := e.applyRules(ctx, req, sec, available, businessDate, &v); r != decision.ReasonNone {
		return reject(r)
	}

	v.decrementQty = e.Policy.DecrementFor(v.temperature, v.approvedQty)
	d := invdomain.Decrement{Required: v.approvedQty, Amount: v.decrementQty}
	type result struct {
		remaining decimal.Decimal
		ok        bool
	}
	res, err := decision.Retry(ctx, e.cfg.Retry, func(err error) {
		e.Metrics.Retried("inventory", decision.KindOf(err).String())
	}, func(ctx context.Context) (result, error) {
		remaining, ok, err := e.Ledger.TryDecrement(ctx, v.invKey, d)
		return result{remaining, ok}, err
	})
	switch {
	case errors.Is(err, invdomain.ErrInventoryNotFound):
		return reject(decision.ReasonInsufficientInventory)
	case err != nil:
		e.logger.WarnContext(ctx, "inventory decrement failed", "key", v.invKey.String(), "error", err)
		return reject(decision.ReasonFor(err, decision.ReasonInventoryServiceUnavailable))
	case !res.ok:
		return reject(decision.ReasonInsufficientInventory)
	}
	v.approved = true
	v.decremented = true
	v.remaining = res.remaining
	return v
}

// validate 结构校验：数量为正、证券有效、客户具备资格、聚合单元有效
func (e *Engine) validate(ctx context.Context, req *domain.LocateRequest) (*refdomain.Security, decision.Reason) {
	if !req.RequestedQuantity.IsPositive() || req.SecurityID == "" || req.ClientID == "" {
		return nil, decision.ReasonInvalidRequest
	}
	sec, err := e.RefData.GetSecurity(ctx, req.SecurityID)
	if r := lookupReason(err); r != decision.ReasonNone {
		return nil, r
	}
	if !sec.Active {
		return nil, decision.ReasonInvalidRequest
	}
	cp, err := e.RefData.GetCounterparty(ctx, req.ClientID)
	if r := lookupReason(err); r != decision.ReasonNone {
		return nil, r
	}
	if !cp.Eligible() {
		return nil, decision.ReasonInvalidRequest
	}
	if req.AggregationUnitID != "" {
		au, err := e.RefData.GetAggregationUnit(ctx, req.AggregationUnitID)
		if r := lookupReason(err); r != decision.ReasonNone {
			return nil, r
		}
		if !au.Active {
			return nil, decision.ReasonInvalidRequest
		}
	}
	return sec, decision.ReasonNone
}

func lookupReason(err error) decision.Reason {
	switch {
	case err == nil:
		return decision.ReasonNone
	case errors.Is(err, refdomain.ErrNotFound):
		return decision.ReasonInvalidRequest
	default:
		return decision.ReasonReferenceDataUnavailable
	}
}

// applyRules 按规则顺序处理动作；返回非空原因表示拒绝
func (e *Engine) applyRules(ctx context.Context, req *domain.LocateRequest, sec *refdomain.Security, available decimal.Decimal, businessDate string, v *verdict) decision.Reason {
	if e.Rules == nil {
		return decision.ReasonNone
	}
	ratio := decimal.Zero
	if req.RequestedQuantity.IsPositive() {
		ratio = available.DivRound(req.RequestedQuantity, 8)
	}
	rc := ruledomain.Context{
		"securityId":        req.SecurityID,
		"clientId":          req.ClientID,
		"aggregationUnitId": req.AggregationUnitID,
		"market":            sec.Market,
		"locateType":        string(req.LocateType),
		"isSwap":            req.IsSwap,
		"quantity":          req.RequestedQuantity,
		"available":         available,
		"availabilityRatio": ratio,
		"temperature":       v.temperature,
		"borrowRate":        v.borrowRate,
	}
	autoRuleSeen := false
	for _, d := range e.Rules.Evaluate(ctx, ruledomain.RuleTypeLocateApproval, rc, businessDate) {
		for _, a := range d.Actions {
			switch act := a.(type) {
			case ruledomain.Reject:
				e.logger.InfoContext(ctx, "locate rejected by rule", "request_id", req.RequestID, "rule_id", d.RuleID)
				return act.Reason
			case ruledomain.ManualReview:
				return decision.ReasonManualReviewRequired
			case ruledomain.SetTemperature:
				if refdomain.Temperature(act.Temperature).Valid() {
					v.temperature = strings.ToUpper(act.Temperature)
				}
			case ruledomain.AutoApprove:
				if autoRuleSeen {
					continue
				}
				autoRuleSeen = true
				// 只决定是否自动审批，数量与库存检查不受影响
				v.autoApproved = act.Permits(req.RequestedQuantity, ratio)
			}
		}
	}
	return decision.ReasonNone
}

// compensate 决策未能落库时归还已扣减库存
func (e *Engine) compensate(ctx context.Context, v verdict) {
	if !v.decremented || v.decrementQty.IsZero() {
		return
	}
	if err := e.Ledger.Restore(context.WithoutCancel(ctx), v.invKey, v.decrementQty); err != nil {
		e.logger.ErrorContext(ctx, "inventory compensation failed", "key", v.invKey.String(),
			"amount", v.decrementQty.String(), "error", err)
	}
}

func (e *Engine) publishOutcome(ctx context.Context, o *domain.Outcome, v verdict, elapsed time.Duration) {
	req := o.Request
	evt := eventdomain.WorkflowEvent{
		EventID:           idgen.EventID(),
		WorkflowType:      eventdomain.WorkflowLocate,
		WorkflowID:        req.RequestID,
		LocateID:          req.RequestID,
		Status:            string(req.Status),
		SecurityID:        req.SecurityID,
		ClientID:          req.ClientID,
		AggregationUnitID: req.AggregationUnitID,
		ProcessingTimeMs:  elapsed.Milliseconds(),
		ActionTimestamp:   req.UpdatedAt,
	}
	if o.Approved() {
		evt.EventType = eventdomain.EventLocateApproved
		evt.IsAutomatic = o.Approval.AutoApproved
	} else {
		evt.EventType = eventdomain.EventLocateRejected
		evt.RejectionReason = eventdomain.Reason(string(o.Rejection.Reason))
		evt.IsAutomatic = o.Rejection.AutoRejected
	}
	e.publishWorkflow(ctx, evt)

	if !o.Approved() {
		return
	}
	inv := eventdomain.InventoryEvent{
		EventID:           idgen.EventID(),
		EventType:         eventdomain.EventInventoryDecremented,
		SecurityID:        v.invKey.SecurityID,
		CounterpartyID:    v.invKey.CounterpartyID,
		AggregationUnitID: v.invKey.AggregationUnitID,
		CalculationType:   string(v.invKey.CalculationType),
		BusinessDate:      v.invKey.BusinessDate,
		WorkflowID:        req.RequestID,
		DecrementQuantity: v.decrementQty,
		RemainingQuantity: v.remaining,
		ActionTimestamp:   req.UpdatedAt,
	}
	if err := e.Publisher.PublishInventoryEvent(ctx, inv); err != nil {
		e.Metrics.PublishFailed(inv.EventType)
		e.logger.ErrorContext(ctx, "publish inventory event failed", "request_id", req.RequestID, "error", err)
	}
}

// publishWorkflow 发布失败只记录，不回滚已持久化的状态
func (e *Engine) publishWorkflow(ctx context.Context, evt eventdomain.WorkflowEvent) {
	if err := e.Publisher.PublishWorkflowEvent(ctx, evt); err != nil {
		e.Metrics.PublishFailed(evt.EventType)
		e.logger.ErrorContext(ctx, "publish workflow event failed", "workflow_id", evt.WorkflowID, "event_type", evt.EventType, "error", err)
	}
}
