package domain

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrRuleNotFound      = errors.New("rule not found")
	ErrInvalidRuleConfig = errors.New("invalid rule configuration")
)

type RuleType string

const (
	RuleTypeLocateApproval  RuleType = "LOCATE_APPROVAL"
	RuleTypeOrderValidation RuleType = "ORDER_VALIDATION"
)

type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "DRAFT"
	RuleStatusActive   RuleStatus = "ACTIVE"
	RuleStatusInactive RuleStatus = "INACTIVE"
)

type Operator string

const (
	OpEQ       Operator = "EQ"
	OpNE       Operator = "NE"
	OpGT       Operator = "GT"
	OpGTE      Operator = "GTE"
	OpLT       Operator = "LT"
	OpLTE      Operator = "LTE"
	OpIn       Operator = "IN"
	OpNotIn    Operator = "NOT_IN"
	OpContains Operator = "CONTAINS"
	// OpExpr Value 为 expr-lang 布尔表达式，Attribute 忽略
	OpExpr Operator = "EXPR"
)

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ConditionDefinition 规则条件的存储形态
type ConditionDefinition struct {
	Sequence        int             `json:"sequence"`
	Attribute       string          `json:"attribute"`
	Operator        Operator        `json:"operator"`
	Value           string          `json:"value"`
	LogicalOperator LogicalOperator `json:"logical_operator"`
}

// ActionDefinition 动作的存储形态，参数为松散的字符串表
type ActionDefinition struct {
	Sequence   int               `json:"sequence"`
	Type       ActionType        `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// RuleDefinition 规则的存储形态，加载时编译为 Rule
type RuleDefinition struct {
	RuleID        string                `json:"rule_id"`
	Name          string                `json:"name"`
	Type          RuleType              `json:"type"`
	Priority      int                   `json:"priority"`
	Status        RuleStatus            `json:"status"`
	EffectiveDate *time.Time            `json:"effective_date,omitempty"`
	ExpiryDate    *time.Time            `json:"expiry_date,omitempty"`
	Conditions    []ConditionDefinition `json:"conditions"`
	Actions       []ActionDefinition    `json:"actions"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Rule 编译后的规则
type Rule struct {
	RuleID        string
	Name          string
	Type          RuleType
	Priority      int
	Status        RuleStatus
	EffectiveDate string
	ExpiryDate    string
	Conditions    []Condition
	Actions       []Action
}

// ActiveOn 状态为 ACTIVE 且 effective <= day <= expiry（空表示不限），day 为 YYYY-MM-DD
func (r *Rule) ActiveOn(day string) bool {
	if r.Status != RuleStatusActive {
		return false
	}
	if r.EffectiveDate != "" && day < r.EffectiveDate {
		return false
	}
	if r.ExpiryDate != "" && day > r.ExpiryDate {
		return false
	}
	return true
}

// Matches 按 sequence 顺序短路求值。每个条件的逻辑运算符决定它与前面累计结果的连接方式，首个条件的运算符不参与计算。
func (r *Rule) Matches(ctx Context) (bool, error) {
	if len(r.Conditions) == 0 {
		return true, nil
	}
	result, err := r.Conditions[0].Evaluate(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range r.Conditions[1:] {
		switch c.Logical {
		case LogicalOr:
			if result {
				continue
			}
		default:
			if !result {
				continue
			}
		}
		if result, err = c.Evaluate(ctx); err != nil {
			return false, err
		}
	}
	return result, nil
}

// SortRules 按 priority 升序、rule id 升序排序
func SortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].RuleID < rules[j].RuleID
	})
}
