package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wyfcoding/securitieslending/internal/decision"
	eventdomain "github.com/wyfcoding/securitieslending/internal/event/domain"
	limitdomain "github.com/wyfcoding/securitieslending/internal/limit/domain"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/domain"
	refdomain "github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	ruleapp "github.com/wyfcoding/securitieslending/internal/rule/application"
	ruledomain "github.com/wyfcoding/securitieslending/internal/rule/domain"
	"github.com/wyfcoding/securitieslending/pkg/idgen"
	"github.com/wyfcoding/securitieslending/pkg/metrics"
)

// DefaultBudget 单笔订单校验的软时限
const DefaultBudget = 150 * time.Millisecond

// RuleSource 规则求值
type RuleSource interface {
	Evaluate(ctx context.Context, ruleType ruledomain.RuleType, rc ruledomain.Context, asOf string) []ruleapp.Decision
}

// Deps 引擎依赖；RefData 与 Rules 可为空
type Deps struct {
	Repo      domain.Repository
	Limits    limitdomain.LimitStore
	RefData   refdomain.Lookup
	Rules     RuleSource
	Publisher eventdomain.Publisher
	Calendar  *decision.Calendar
	IDs       idgen.Generator
	Metrics   *metrics.Metrics
}

type EngineConfig struct {
	Budget time.Duration
	Retry  decision.RetryPolicy
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Budget: DefaultBudget, Retry: decision.DefaultRetryPolicy()}
}

// Engine 订单额度校验状态机。
// PENDING → validate_format → check_client_limit → check_aggregation_unit_limit → approve_and_update_limits → APPROVED，
// 任一步失败即 REJECTED。超出时限只记录，不中断。
type Engine struct {
	Deps
	cfg      EngineConfig
	validate *validator.Validate
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(deps Deps, cfg EngineConfig, logger *slog.Logger) *Engine {
	if deps.Calendar == nil {
		deps.Calendar = decision.UTCCalendar()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.Default()
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = decision.DefaultRetryPolicy()
	}
	return &Engine{
		Deps:     deps,
		cfg:      cfg,
		validate: validator.New(),
		tracer:   otel.Tracer("seclending/ordervalidation"),
		logger:   logger.With("module", "order_validation_engine"),
		now:      time.Now,
	}
}

// run 单笔订单在各步骤间传递的状态
type run struct {
	order     domain.Order
	side      limitdomain.Side
	market    string
	date      string
	clientKey limitdomain.LimitKey
	auKey     limitdomain.LimitKey
	client    *limitdomain.TradingLimit
	au        *limitdomain.TradingLimit
	adjust    []limitdomain.Adjustment
	consumed  bool
	attempts  int
}

func (e *Engine) Get(ctx context.Context, orderID string) (*domain.OrderValidation, error) {
	return e.Repo.GetByOrderID(ctx, orderID)
}

// Validate 校验订单并返回终态记录。拒绝体现在记录状态中；
// 重复 orderId 返回状态错误，持久化失败返回 error 并归还已占用额度。
func (e *Engine) Validate(ctx context.Context, order domain.Order) (*domain.OrderValidation, error) {
	start := order.ReceivedAt
	if start.IsZero() {
		start = e.now()
	}
	ctx, span := e.tracer.Start(ctx, "order.Validate", trace.WithAttributes(
		attribute.String("order_id", order.OrderID), attribute.String("order_type", string(order.OrderType))))
	defer span.End()

	v := domain.NewOrderValidation(e.IDs.Next("OVL"), order, start)
	if order.OrderID != "" {
		if err := e.Repo.Create(ctx, v); err != nil {
			span.RecordError(err)
			if decision.IsStateError(err) {
				e.logger.WarnContext(ctx, "duplicate order validation", "order_id", order.OrderID)
			}
			return nil, err
		}
	}
	expected := v.Version

	r := &run{order: order}
	reason := e.execute(ctx, r)

	now := e.now()
	elapsed := now.Sub(start)
	var err error
	if reason == decision.ReasonNone {
		err = v.Approve(elapsed, now)
	} else {
		err = v.Reject(reason, elapsed, now)
	}
	if err == nil && order.OrderID != "" {
		err = e.Repo.Update(ctx, v, expected)
	}
	if err != nil {
		e.releaseAll(ctx, r)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		e.logger.ErrorContext(ctx, "persist order validation failed", "order_id", order.OrderID, "error", err)
		return nil, fmt.Errorf("persist order validation %s: %w", order.OrderID, err)
	}

	if elapsed > e.cfg.Budget {
		e.Metrics.BudgetBreached(string(eventdomain.WorkflowOrderValidation))
		e.logger.WarnContext(ctx, "order validation exceeded budget",
			"order_id", order.OrderID, "elapsed_ms", elapsed.Milliseconds(), "budget_ms", e.cfg.Budget.Milliseconds())
	}
	e.Metrics.ObserveDecision(string(eventdomain.WorkflowOrderValidation), string(v.Status), string(reason), elapsed)
	span.SetAttributes(attribute.String("status", string(v.Status)), attribute.String("reason", string(reason)),
		attribute.Int64("processing_time_ms", v.ProcessingTimeMs))
	e.logger.InfoContext(ctx, "order validated", "order_id", order.OrderID, "status", v.Status,
		"reason", reason, "processing_time_ms", v.ProcessingTimeMs, "attempts", r.attempts)

	e.publish(ctx, v)
	return v, nil
}

// execute 按迁移表依次执行步骤；panic 与未识别错误一律拒绝
func (e *Engine) execute(ctx context.Context, r *run) (reason decision.Reason) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.ErrorContext(ctx, "panic in order validation", "order_id", r.order.OrderID, "panic", fmt.Sprint(p))
			e.releaseAll(ctx, r)
			reason = decision.ReasonInternalError
		}
	}()

	for step := domain.StepValidateFormat; step != domain.StepDone; step = domain.NextStep(step, r.order.OrderType) {
		stepCtx, span := e.tracer.Start(ctx, "order."+string(step))
		stepStart := e.now()
		switch step {
		case domain.StepValidateFormat:
			reason = e.validateFormat(stepCtx, r)
		case domain.StepCheckClientLimit:
			reason = e.checkClientLimit(stepCtx, r)
		case domain.StepCheckAggregationUnitLimit:
			reason = e.checkAggregationUnitLimit(stepCtx, r)
		case domain.StepApproveAndUpdateLimits:
			reason = e.approveAndUpdateLimits(stepCtx, r)
		}
		if reason != decision.ReasonNone {
			span.SetStatus(codes.Error, string(reason))
		}
		span.End()
		e.logger.DebugContext(ctx, "order step finished", "order_id", r.order.OrderID, "step", step,
			"reason", reason, "elapsed_us", e.now().Sub(stepStart).Microseconds())
		if reason != decision.ReasonNone {
			return reason
		}
	}
	return decision.ReasonNone
}

// validateFormat 字段齐全、数量为正、证券可识别；失败时不触达额度服务
func (e *Engine) validateFormat(ctx context.Context, r *run) decision.Reason {
	o := r.order
	if err := e.validate.Struct(o); err != nil || !o.Quantity.IsPositive() {
		return decision.ReasonInvalidOrder
	}
	r.side, _ = o.OrderType.Side()
	r.market = o.Market
	if e.RefData != nil {
		sec, err := e.RefData.GetSecurity(ctx, o.SecurityID)
		switch {
		case errors.Is(err, refdomain.ErrNotFound):
			return decision.ReasonInvalidOrder
		case err != nil:
			e.logger.WarnContext(ctx, "reference data lookup failed", "security_id", o.SecurityID, "error", err)
			return decision.ReasonReferenceDataUnavailable
		case !sec.Active:
			return decision.ReasonInvalidOrder
		}
		if r.market == "" {
			r.market = sec.Market
		}
	}
	r.date = o.BusinessDate
	if r.date == "" {
		r.date = e.Calendar.BusinessDate(e.now())
	}
	r.clientKey = limitdomain.ClientKey(o.ClientID, o.SecurityID, r.date)
	r.auKey = limitdomain.AggregationUnitKey(o.AggregationUnitID, o.SecurityID, r.date)
	return decision.ReasonNone
}

// readLimit 读取额度；不存在视为额度不足，依赖故障 fail-closed
func (e *Engine) readLimit(ctx context.Context, key limitdomain.LimitKey, missing decision.Reason) (*limitdomain.TradingLimit, decision.Reason) {
	l, err := decision.Retry(ctx, e.cfg.Retry, func(err error) {
		e.Metrics.Retried("limit", decision.KindOf(err).String())
	}, func(ctx context.Context) (*limitdomain.TradingLimit, error) {
		return e.Limits.Read(ctx, key)
	})
	switch {
	case errors.Is(err, limitdomain.ErrLimitNotFound):
		e.logger.WarnContext(ctx, "limit record absent", "key", key.String())
		return nil, missing
	case err != nil:
		e.logger.WarnContext(ctx, "limit read failed", "key", key.String(), "error", err)
		return nil, decision.ReasonFor(err, decision.ReasonLimitServiceUnavailable)
	}
	return l, decision.ReasonNone
}

func (e *Engine) checkClientLimit(ctx context.Context, r *run) decision.Reason {
	l, reason := e.readLimit(ctx, r.clientKey, decision.ReasonInsufficientClientLimit)
	if reason != decision.ReasonNone {
		return reason
	}
	r.client = l
	if !l.HasCapacity(r.side, r.order.Quantity) {
		return decision.ReasonInsufficientClientLimit
	}
	return decision.ReasonNone
}

func (e *Engine) checkAggregationUnitLimit(ctx context.Context, r *run) decision.Reason {
	if reason := e.loadAdjustments(ctx, r); reason != decision.ReasonNone {
		return reason
	}
	l, reason := e.readLimit(ctx, r.auKey, decision.ReasonInsufficientAggregationUnitLimit)
	if reason != decision.ReasonNone {
		return reason
	}
	r.au = l
	if limitdomain.EffectiveRemaining(l, r.side, r.market, r.adjust).LessThan(r.order.Quantity) {
		return decision.ReasonInsufficientAggregationUnitLimit
	}
	return decision.ReasonNone
}

// loadAdjustments 订单规则：AdjustLimit 转为市场预留，Reject 直接拒绝
func (e *Engine) loadAdjustments(ctx context.Context, r *run) decision.Reason {
	if e.Rules == nil {
		return decision.ReasonNone
	}
	o := r.order
	rc := ruledomain.Context{
		"orderType":         string(o.OrderType),
		"securityId":        o.SecurityID,
		"clientId":          o.ClientID,
		"aggregationUnitId": o.AggregationUnitID,
		"market":            r.market,
		"quantity":          o.Quantity,
	}
	for _, d := range e.Rules.Evaluate(ctx, ruledomain.RuleTypeOrderValidation, rc, r.date) {
		for _, a := range d.Actions {
			switch act := a.(type) {
			case ruledomain.AdjustLimit:
				if act.Quantity.IsPositive() {
					r.adjust = append(r.adjust, limitdomain.FixedCarveOut{Market: act.Market, Quantity: act.Quantity})
				} else {
					r.adjust = append(r.adjust, limitdomain.PercentCarveOut{Market: act.Market, Percent: act.Percent})
				}
			case ruledomain.Reject:
				e.logger.InfoContext(ctx, "order rejected by rule", "order_id", o.OrderID, "rule_id", d.RuleID)
				return act.Reason
			}
		}
	}
	return decision.ReasonNone
}

// approveAndUpdateLimits 先占客户额度再占聚合单元额度，均以读取时的版本为条件；
// 聚合单元失败时归还客户额度。版本冲突时重新读取并复核后重试。
func (e *Engine) approveAndUpdateLimits(ctx context.Context, r *run) decision.Reason {
	reason, err := decision.Retry(ctx, e.cfg.Retry, func(err error) {
		e.Metrics.Retried("limit", decision.KindOf(err).String())
	}, func(ctx context.Context) (decision.Reason, error) {
		r.attempts++
		if r.attempts > 1 {
			if reason := e.reload(ctx, r); reason != decision.ReasonNone {
				return reason, nil
			}
		}
		return e.consumeBoth(ctx, r)
	})
	if err != nil {
		e.logger.WarnContext(ctx, "limit update failed", "order_id", r.order.OrderID, "attempts", r.attempts, "error", err)
		return decision.ReasonFor(err, decision.ReasonLimitServiceUnavailable)
	}
	return reason
}

// reload 冲突后重新读取两条额度并复核容量
func (e *Engine) reload(ctx context.Context, r *run) decision.Reason {
	if reason := e.checkClientLimit(ctx, r); reason != decision.ReasonNone {
		return reason
	}
	l, reason := e.readLimit(ctx, r.auKey, decision.ReasonInsufficientAggregationUnitLimit)
	if reason != decision.ReasonNone {
		return reason
	}
	r.au = l
	if limitdomain.EffectiveRemaining(l, r.side, r.market, r.adjust).LessThan(r.order.Quantity) {
		return decision.ReasonInsufficientAggregationUnitLimit
	}
	return decision.ReasonNone
}

func (e *Engine) consumeBoth(ctx context.Context, r *run) (decision.Reason, error) {
	qty := r.order.Quantity
	ok, err := e.Limits.TryConsume(ctx, r.clientKey, r.side, qty, r.client.Version)
	if err != nil {
		return decision.ReasonNone, err
	}
	if !ok {
		return decision.ReasonInsufficientClientLimit, nil
	}
	ok, err = e.Limits.TryConsume(ctx, r.auKey, r.side, qty, r.au.Version)
	if err != nil || !ok {
		e.release(ctx, r.clientKey, r.side, qty)
		if err != nil {
			return decision.ReasonNone, err
		}
		return decision.ReasonInsufficientAggregationUnitLimit, nil
	}
	r.consumed = true
	return decision.ReasonNone, nil
}

func (e *Engine) release(ctx context.Context, key limitdomain.LimitKey, side limitdomain.Side, qty decimal.Decimal) {
	if err := e.Limits.Release(context.WithoutCancel(ctx), key, side, qty); err != nil {
		e.logger.ErrorContext(ctx, "limit compensation failed", "key", key.String(), "side", side, "qty", qty.String(), "error", err)
	}
}

// releaseAll 已占用两条额度但未能落库时归还
func (e *Engine) releaseAll(ctx context.Context, r *run) {
	if !r.consumed {
		return
	}
	r.consumed = false
	e.release(ctx, r.clientKey, r.side, r.order.Quantity)
	e.release(ctx, r.auKey, r.side, r.order.Quantity)
}

func (e *Engine) publish(ctx context.Context, v *domain.OrderValidation) {
	evt := eventdomain.WorkflowEvent{
		EventID:           idgen.EventID(),
		EventType:         eventdomain.EventOrderApproved,
		WorkflowType:      eventdomain.WorkflowOrderValidation,
		WorkflowID:        v.OrderID,
		Status:            string(v.Status),
		SecurityID:        v.SecurityID,
		ClientID:          v.ClientID,
		AggregationUnitID: v.AggregationUnitID,
		RejectionReason:   eventdomain.Reason(string(v.RejectionReason)),
		ProcessingTimeMs:  v.ProcessingTimeMs,
		IsAutomatic:       true,
		ActionTimestamp:   v.UpdatedAt,
	}
	if v.Status == domain.StatusRejected {
		evt.EventType = eventdomain.EventOrderRejected
	}
	if err := e.Publisher.PublishWorkflowEvent(ctx, evt); err != nil {
		e.Metrics.PublishFailed(evt.EventType)
		e.logger.ErrorContext(ctx, "publish order event failed", "order_id", v.OrderID, "error", err)
	}
}
