package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
)

type ActionType string

const (
	ActionAutoApprove    ActionType = "AUTO_APPROVE"
	ActionReject         ActionType = "REJECT"
	ActionAdjustLimit    ActionType = "ADJUST_LIMIT"
	ActionSetTemperature ActionType = "SET_TEMPERATURE"
	ActionManualReview   ActionType = "MANUAL_REVIEW"
)

// Action 规则动作，加载时一次性解码为具体类型
type Action interface {
	Type() ActionType
}

// AutoApprove 数量 <= MaxQuantity 且可用比例 >= MinAvailabilityRatio 时自动批准；零值表示不限
type AutoApprove struct {
	MaxQuantity          decimal.Decimal
	MinAvailabilityRatio decimal.Decimal
}

func (AutoApprove) Type() ActionType { return ActionAutoApprove }

// Permits 检查数量与可用比例（available / requested）
func (a AutoApprove) Permits(qty, ratio decimal.Decimal) bool {
	if a.MaxQuantity.IsPositive() && qty.GreaterThan(a.MaxQuantity) {
		return false
	}
	return ratio.GreaterThanOrEqual(a.MinAvailabilityRatio)
}

// Reject 以固定词汇表中的原因码拒绝
type Reject struct {
	Reason decision.Reason
}

func (Reject) Type() ActionType { return ActionReject }

// AdjustLimit 对某市场的聚合单元额度预留 Percent% 或固定 Quantity，二者取其一
type AdjustLimit struct {
	Market   string
	Percent  decimal.Decimal
	Quantity decimal.Decimal
}

func (AdjustLimit) Type() ActionType { return ActionAdjustLimit }

type SetTemperature struct {
	Temperature string
}

func (SetTemperature) Type() ActionType { return ActionSetTemperature }

type ManualReview struct{}

func (ManualReview) Type() ActionType { return ActionManualReview }

func decimalParam(params map[string]string, name string, required bool) (decimal.Decimal, error) {
	raw, ok := params[name]
	if !ok || strings.TrimSpace(raw) == "" {
		if required {
			return decimal.Zero, fmt.Errorf("%w: missing parameter %s", ErrInvalidRuleConfig, name)
		}
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: parameter %s=%q is not a number", ErrInvalidRuleConfig, name, raw)
	}
	return d, nil
}

func decodeAction(def ActionDefinition) (Action, error) {
	p := def.Parameters
	switch ActionType(strings.ToUpper(string(def.Type))) {
	case ActionAutoApprove:
		maxQty, err := decimalParam(p, "maxQuantity", false)
		if err != nil {
			return nil, err
		}
		minRatio, err := decimalParam(p, "minAvailabilityRatio", false)
		if err != nil {
			return nil, err
		}
		if maxQty.IsNegative() || minRatio.IsNegative() {
			return nil, fmt.Errorf("%w: auto approve thresholds must not be negative", ErrInvalidRuleConfig)
		}
		return AutoApprove{MaxQuantity: maxQty, MinAvailabilityRatio: minRatio}, nil
	case ActionReject:
		code := strings.TrimSpace(p["reasonCode"])
		if code == "" {
			return Reject{Reason: decision.ReasonRuleRejected}, nil
		}
		reason, ok := decision.ParseReason(code)
		if !ok {
			return nil, fmt.Errorf("%w: unknown reason code %q", ErrInvalidRuleConfig, code)
		}
		return Reject{Reason: reason}, nil
	case ActionAdjustLimit:
		market := strings.TrimSpace(p["market"])
		if _, fixed := p["quantity"]; fixed {
			if _, both := p["percent"]; both {
				return nil, fmt.Errorf("%w: percent and quantity are exclusive", ErrInvalidRuleConfig)
			}
			qty, err := decimalParam(p, "quantity", true)
			if err != nil {
				return nil, err
			}
			if qty.IsNegative() {
				return nil, fmt.Errorf("%w: quantity %s is negative", ErrInvalidRuleConfig, qty)
			}
			return AdjustLimit{Market: market, Quantity: qty}, nil
		}
		pct, err := decimalParam(p, "percent", true)
		if err != nil {
			return nil, err
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("%w: percent %s outside [0, 100]", ErrInvalidRuleConfig, pct)
		}
		return AdjustLimit{Market: market, Percent: pct}, nil
	case ActionSetTemperature:
		t := strings.ToUpper(strings.TrimSpace(p["temperature"]))
		if t == "" {
			return nil, fmt.Errorf("%w: missing parameter temperature", ErrInvalidRuleConfig)
		}
		return SetTemperature{Temperature: t}, nil
	case ActionManualReview:
		return ManualReview{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidRuleConfig, def.Type)
	}
}

// Compile 校验并编译规则定义
func Compile(def RuleDefinition) (*Rule, error) {
	if def.RuleID == "" {
		return nil, fmt.Errorf("%w: empty rule id", ErrInvalidRuleConfig)
	}
	r := &Rule{
		RuleID:   def.RuleID,
		Name:     def.Name,
		Type:     def.Type,
		Priority: def.Priority,
		Status:   def.Status,
	}
	if def.EffectiveDate != nil {
		r.EffectiveDate = def.EffectiveDate.Format("2006-01-02")
	}
	if def.ExpiryDate != nil {
		r.ExpiryDate = def.ExpiryDate.Format("2006-01-02")
	}

	conds := append([]ConditionDefinition(nil), def.Conditions...)
	sort.SliceStable(conds, func(i, j int) bool { return conds[i].Sequence < conds[j].Sequence })
	for _, cd := range conds {
		c, err := compileCondition(cd)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", def.RuleID, err)
		}
		r.Conditions = append(r.Conditions, c)
	}

	acts := append([]ActionDefinition(nil), def.Actions...)
	sort.SliceStable(acts, func(i, j int) bool { return acts[i].Sequence < acts[j].Sequence })
	for _, ad := range acts {
		a, err := decodeAction(ad)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", def.RuleID, err)
		}
		r.Actions = append(r.Actions, a)
	}
	if len(r.Actions) == 0 {
		return nil, fmt.Errorf("%w: rule %s has no actions", ErrInvalidRuleConfig, def.RuleID)
	}
	return r, nil
}
