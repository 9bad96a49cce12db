package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"
)

// Context 求值上下文。数量类属性使用 decimal.Decimal，其余为 string / bool。
type Context map[string]any

// Env 供 EXPR 条件使用的环境，decimal 转为 float64
func (c Context) Env() map[string]any {
	env := make(map[string]any, len(c))
	for k, v := range c {
		if d, ok := v.(decimal.Decimal); ok {
			env[k] = d.InexactFloat64()
			continue
		}
		env[k] = v
	}
	return env
}

// Condition 编译后的条件
type Condition struct {
	Sequence  int
	Attribute string
	Operator  Operator
	Value     string
	Logical   LogicalOperator
	program   *vm.Program
}

// Evaluate 属性缺失视为不匹配；值无法按属性类型解析时返回错误
func (c *Condition) Evaluate(ctx Context) (bool, error) {
	if c.Operator == OpExpr {
		out, err := expr.Run(c.program, ctx.Env())
		if err != nil {
			return false, fmt.Errorf("condition %d: %w", c.Sequence, err)
		}
		b, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("condition %d: expression returned %T", c.Sequence, out)
		}
		return b, nil
	}

	actual, ok := ctx[c.Attribute]
	if !ok {
		return false, nil
	}
	switch v := actual.(type) {
	case decimal.Decimal:
		return c.compareDecimal(v)
	case int:
		return c.compareDecimal(decimal.NewFromInt(int64(v)))
	case int64:
		return c.compareDecimal(decimal.NewFromInt(v))
	case bool:
		return c.compareBool(v)
	case string:
		return c.compareString(v)
	default:
		return c.compareString(fmt.Sprint(v))
	}
}

func (c *Condition) list() []string {
	parts := strings.Split(c.Value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Condition) compareDecimal(actual decimal.Decimal) (bool, error) {
	if c.Operator == OpIn || c.Operator == OpNotIn {
		found := false
		for _, item := range c.list() {
			d, err := decimal.NewFromString(item)
			if err != nil {
				return false, fmt.Errorf("condition %d: %q is not a number", c.Sequence, item)
			}
			if actual.Equal(d) {
				found = true
				break
			}
		}
		return found == (c.Operator == OpIn), nil
	}

	expected, err := decimal.NewFromString(strings.TrimSpace(c.Value))
	if err != nil {
		return false, fmt.Errorf("condition %d: %q is not a number", c.Sequence, c.Value)
	}
	cmp := actual.Cmp(expected)
	switch c.Operator {
	case OpEQ:
		return cmp == 0, nil
	case OpNE:
		return cmp != 0, nil
	case OpGT:
		return cmp > 0, nil
	case OpGTE:
		return cmp >= 0, nil
	case OpLT:
		return cmp < 0, nil
	case OpLTE:
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("condition %d: operator %s not supported for numbers", c.Sequence, c.Operator)
	}
}

func (c *Condition) compareBool(actual bool) (bool, error) {
	expected, err := strconv.ParseBool(strings.TrimSpace(c.Value))
	if err != nil {
		return false, fmt.Errorf("condition %d: %q is not a bool", c.Sequence, c.Value)
	}
	switch c.Operator {
	case OpEQ:
		return actual == expected, nil
	case OpNE:
		return actual != expected, nil
	default:
		return false, fmt.Errorf("condition %d: operator %s not supported for bools", c.Sequence, c.Operator)
	}
}

func (c *Condition) compareString(actual string) (bool, error) {
	switch c.Operator {
	case OpEQ:
		return strings.EqualFold(actual, c.Value), nil
	case OpNE:
		return !strings.EqualFold(actual, c.Value), nil
	case OpContains:
		return strings.Contains(strings.ToUpper(actual), strings.ToUpper(c.Value)), nil
	case OpIn, OpNotIn:
		found := false
		for _, item := range c.list() {
			if strings.EqualFold(actual, item) {
				found = true
				break
			}
		}
		return found == (c.Operator == OpIn), nil
	case OpGT, OpGTE, OpLT, OpLTE:
		cmp := strings.Compare(actual, c.Value)
		switch c.Operator {
		case OpGT:
			return cmp > 0, nil
		case OpGTE:
			return cmp >= 0, nil
		case OpLT:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, fmt.Errorf("condition %d: operator %s not supported for strings", c.Sequence, c.Operator)
	}
}

func compileCondition(def ConditionDefinition) (Condition, error) {
	c := Condition{
		Sequence:  def.Sequence,
		Attribute: def.Attribute,
		Operator:  Operator(strings.ToUpper(string(def.Operator))),
		Value:     def.Value,
		Logical:   LogicalOperator(strings.ToUpper(string(def.LogicalOperator))),
	}
	if c.Logical == "" {
		c.Logical = LogicalAnd
	}
	if c.Logical != LogicalAnd && c.Logical != LogicalOr {
		return c, fmt.Errorf("%w: condition %d logical operator %q", ErrInvalidRuleConfig, def.Sequence, def.LogicalOperator)
	}
	switch c.Operator {
	case OpEQ, OpNE, OpGT, OpGTE, OpLT, OpLTE, OpIn, OpNotIn, OpContains:
		if c.Attribute == "" {
			return c, fmt.Errorf("%w: condition %d has no attribute", ErrInvalidRuleConfig, def.Sequence)
		}
	case OpExpr:
		program, err := expr.Compile(c.Value, expr.AsBool())
		if err != nil {
			return c, fmt.Errorf("%w: condition %d expression: %v", ErrInvalidRuleConfig, def.Sequence, err)
		}
		c.program = program
	default:
		return c, fmt.Errorf("%w: condition %d operator %q", ErrInvalidRuleConfig, def.Sequence, def.Operator)
	}
	return c, nil
}
