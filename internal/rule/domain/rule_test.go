package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/securitieslending/internal/decision"
)

func mustCompile(t *testing.T, def RuleDefinition) *Rule {
	t.Helper()
	if len(def.Actions) == 0 {
		def.Actions = []ActionDefinition{{Type: ActionManualReview}}
	}
	r, err := Compile(def)
	require.NoError(t, err)
	return r
}

func TestConditionOperators(t *testing.T) {
	ctx := Context{
		"quantity":    decimal.NewFromInt(1000),
		"market":      "US",
		"temperature": "HTB",
		"isSwap":      true,
		"securityId":  "SEC-ABC",
	}
	tests := []struct {
		name string
		cond ConditionDefinition
		want bool
	}{
		{"gt number", ConditionDefinition{Attribute: "quantity", Operator: OpGT, Value: "999.99"}, true},
		{"lte equal", ConditionDefinition{Attribute: "quantity", Operator: OpLTE, Value: "1000"}, true},
		{"lt false", ConditionDefinition{Attribute: "quantity", Operator: OpLT, Value: "1000"}, false},
		{"eq string case insensitive", ConditionDefinition{Attribute: "market", Operator: OpEQ, Value: "us"}, true},
		{"in list", ConditionDefinition{Attribute: "temperature", Operator: OpIn, Value: "HTB, RESTRICTED"}, true},
		{"not in list", ConditionDefinition{Attribute: "temperature", Operator: OpNotIn, Value: "GC,WARM"}, true},
		{"numeric in", ConditionDefinition{Attribute: "quantity", Operator: OpIn, Value: "500,1000"}, true},
		{"contains", ConditionDefinition{Attribute: "securityId", Operator: OpContains, Value: "abc"}, true},
		{"bool eq", ConditionDefinition{Attribute: "isSwap", Operator: OpEQ, Value: "true"}, true},
		{"missing attribute", ConditionDefinition{Attribute: "country", Operator: OpEQ, Value: "US"}, false},
		{"expr", ConditionDefinition{Operator: OpExpr, Value: `quantity >= 1000 && market == "US"`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustCompile(t, RuleDefinition{RuleID: "R1", Conditions: []ConditionDefinition{tt.cond}})
			got, err := r.Matches(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionTypeMismatchIsError(t *testing.T) {
	r := mustCompile(t, RuleDefinition{RuleID: "R1", Conditions: []ConditionDefinition{
		{Attribute: "quantity", Operator: OpGT, Value: "lots"},
	}})
	_, err := r.Matches(Context{"quantity": decimal.NewFromInt(1)})
	assert.Error(t, err)
}

func TestLogicalOperatorsShortCircuitInSequence(t *testing.T) {
	ctx := Context{"quantity": decimal.NewFromInt(50), "market": "HK"}

	// (qty > 100) OR (market == HK) AND (qty < 10) => (false OR true) AND false => false
	r := mustCompile(t, RuleDefinition{RuleID: "R1", Conditions: []ConditionDefinition{
		{Sequence: 3, Attribute: "quantity", Operator: OpLT, Value: "10", LogicalOperator: LogicalAnd},
		{Sequence: 1, Attribute: "quantity", Operator: OpGT, Value: "100"},
		{Sequence: 2, Attribute: "market", Operator: OpEQ, Value: "HK", LogicalOperator: LogicalOr},
	}})
	got, err := r.Matches(ctx)
	require.NoError(t, err)
	assert.False(t, got)

	// a malformed later condition is never reached once OR is satisfied
	r = mustCompile(t, RuleDefinition{RuleID: "R2", Conditions: []ConditionDefinition{
		{Sequence: 1, Attribute: "market", Operator: OpEQ, Value: "HK"},
		{Sequence: 2, Attribute: "quantity", Operator: OpGT, Value: "oops", LogicalOperator: LogicalOr},
	}})
	got, err = r.Matches(ctx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCompileRejectsMalformedRules(t *testing.T) {
	tests := []struct {
		name string
		def  RuleDefinition
	}{
		{"unknown operator", RuleDefinition{RuleID: "R", Conditions: []ConditionDefinition{{Attribute: "a", Operator: "LIKE"}}, Actions: []ActionDefinition{{Type: ActionManualReview}}}},
		{"bad logical", RuleDefinition{RuleID: "R", Conditions: []ConditionDefinition{{Attribute: "a", Operator: OpEQ, LogicalOperator: "XOR"}}, Actions: []ActionDefinition{{Type: ActionManualReview}}}},
		{"bad expr", RuleDefinition{RuleID: "R", Conditions: []ConditionDefinition{{Operator: OpExpr, Value: "quantity >"}}, Actions: []ActionDefinition{{Type: ActionManualReview}}}},
		{"unknown action", RuleDefinition{RuleID: "R", Actions: []ActionDefinition{{Type: "NOTIFY"}}}},
		{"bad param", RuleDefinition{RuleID: "R", Actions: []ActionDefinition{{Type: ActionAutoApprove, Parameters: map[string]string{"maxQuantity": "x"}}}}},
		{"percent range", RuleDefinition{RuleID: "R", Actions: []ActionDefinition{{Type: ActionAdjustLimit, Parameters: map[string]string{"percent": "150"}}}}},
		{"percent and quantity", RuleDefinition{RuleID: "R", Actions: []ActionDefinition{{Type: ActionAdjustLimit, Parameters: map[string]string{"percent": "10", "quantity": "100"}}}}},
		{"negative quantity", RuleDefinition{RuleID: "R", Actions: []ActionDefinition{{Type: ActionAdjustLimit, Parameters: map[string]string{"quantity": "-1"}}}}},
		{"unknown reason code", RuleDefinition{RuleID: "R", Actions: []ActionDefinition{{Type: ActionReject, Parameters: map[string]string{"reasonCode": "BECAUSE_I_SAID_SO"}}}}},
		{"no actions", RuleDefinition{RuleID: "R"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.def)
			assert.ErrorIs(t, err, ErrInvalidRuleConfig)
		})
	}
}

func TestCompileDecodesActions(t *testing.T) {
	r, err := Compile(RuleDefinition{RuleID: "R", Actions: []ActionDefinition{
		{Sequence: 2, Type: ActionReject, Parameters: map[string]string{"reasonCode": "RESTRICTED_SECURITY"}},
		{Sequence: 1, Type: ActionAutoApprove, Parameters: map[string]string{"maxQuantity": "5000", "minAvailabilityRatio": "1.5"}},
		{Sequence: 3, Type: ActionAdjustLimit, Parameters: map[string]string{"market": "HK", "percent": "20"}},
		{Sequence: 4, Type: ActionSetTemperature, Parameters: map[string]string{"temperature": "htb"}},
	}})
	require.NoError(t, err)
	require.Len(t, r.Actions, 4)

	auto, ok := r.Actions[0].(AutoApprove)
	require.True(t, ok)
	assert.True(t, auto.Permits(decimal.NewFromInt(5000), decimal.RequireFromString("1.5")))
	assert.False(t, auto.Permits(decimal.NewFromInt(5001), decimal.NewFromInt(2)))
	assert.False(t, auto.Permits(decimal.NewFromInt(10), decimal.NewFromInt(1)))

	assert.Equal(t, Reject{Reason: decision.ReasonRestrictedSecurity}, r.Actions[1])
	assert.Equal(t, "HK", r.Actions[2].(AdjustLimit).Market)
	assert.Equal(t, SetTemperature{Temperature: "HTB"}, r.Actions[3])
}

func TestCompileDecodesFixedCarveOutAndDefaultReason(t *testing.T) {
	r, err := Compile(RuleDefinition{RuleID: "R", Actions: []ActionDefinition{
		{Sequence: 1, Type: ActionAdjustLimit, Parameters: map[string]string{"market": "XHKG", "quantity": "2500"}},
		{Sequence: 2, Type: ActionReject},
		{Sequence: 3, Type: ActionReject, Parameters: map[string]string{"reasonCode": " manual_review_required "}},
	}})
	require.NoError(t, err)

	adj := r.Actions[0].(AdjustLimit)
	assert.True(t, adj.Quantity.Equal(decimal.NewFromInt(2500)))
	assert.True(t, adj.Percent.IsZero())
	assert.Equal(t, Reject{Reason: decision.ReasonRuleRejected}, r.Actions[1])
	assert.Equal(t, Reject{Reason: decision.ReasonManualReviewRequired}, r.Actions[2])
}

func TestRuleActiveOn(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	r := mustCompile(t, RuleDefinition{RuleID: "R", Status: RuleStatusActive, EffectiveDate: &from, ExpiryDate: &to})

	assert.False(t, r.ActiveOn("2026-02-28"))
	assert.True(t, r.ActiveOn("2026-03-01"))
	assert.True(t, r.ActiveOn("2026-03-31"))
	assert.False(t, r.ActiveOn("2026-04-01"))

	r.Status = RuleStatusInactive
	assert.False(t, r.ActiveOn("2026-03-15"))
}
