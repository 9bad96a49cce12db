package application

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/rule/domain"
	"github.com/wyfcoding/securitieslending/internal/rule/infrastructure"
)

func locateRule(id string, priority int, conds []domain.ConditionDefinition, actions ...domain.ActionDefinition) domain.RuleDefinition {
	return domain.RuleDefinition{
		RuleID:     id,
		Type:       domain.RuleTypeLocateApproval,
		Priority:   priority,
		Status:     domain.RuleStatusActive,
		Conditions: conds,
		Actions:    actions,
	}
}

func TestEvaluatorOrdersAndSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	manual := domain.ActionDefinition{Type: domain.ActionManualReview}
	repo := infrastructure.NewMemoryRuleRepository(
		locateRule("B", 10, nil, manual),
		locateRule("A", 10, nil, manual),
		locateRule("C", 1, []domain.ConditionDefinition{{Attribute: "quantity", Operator: domain.OpLTE, Value: "1000"}}, manual),
		locateRule("BROKEN", 0, []domain.ConditionDefinition{{Attribute: "quantity", Operator: "BETWEEN", Value: "1"}}, manual),
		locateRule("BAD_VALUE", 0, []domain.ConditionDefinition{{Attribute: "quantity", Operator: domain.OpGT, Value: "many"}}, manual),
		locateRule("BAD_REASON", 0, nil, domain.ActionDefinition{Type: domain.ActionReject, Parameters: map[string]string{"reasonCode": "NOT_A_CODE"}}),
		locateRule("NOT_MATCHING", 0, []domain.ConditionDefinition{{Attribute: "quantity", Operator: domain.OpGT, Value: "5000"}}, manual),
	)
	e := NewEvaluator(repo, slog.Default())
	require.NoError(t, e.Reload(ctx))

	got := e.Evaluate(ctx, domain.RuleTypeLocateApproval, domain.Context{"quantity": decimal.NewFromInt(1000)}, "2026-03-02")
	ids := make([]string, len(got))
	for i, d := range got {
		ids[i] = d.RuleID
	}
	assert.Equal(t, []string{"C", "A", "B"}, ids)
	assert.Empty(t, e.Evaluate(ctx, domain.RuleTypeOrderValidation, domain.Context{}, "2026-03-02"))
}

func TestRuleServiceSaveRefreshesSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := infrastructure.NewMemoryRuleRepository()
	e := NewEvaluator(repo, slog.Default())
	svc := NewRuleApplicationService(repo, e, slog.Default())

	err := svc.SaveRule(ctx, &domain.RuleDefinition{RuleID: "X", Type: domain.RuleTypeOrderValidation, Status: domain.RuleStatusActive,
		Actions: []domain.ActionDefinition{{Type: "BOGUS"}}})
	assert.ErrorIs(t, err, domain.ErrInvalidRuleConfig)

	require.NoError(t, svc.SaveRule(ctx, &domain.RuleDefinition{
		RuleID: "HK-CARVE", Type: domain.RuleTypeOrderValidation, Status: domain.RuleStatusActive,
		Actions: []domain.ActionDefinition{{Type: domain.ActionAdjustLimit, Parameters: map[string]string{"market": "HK", "percent": "25"}}},
	}))
	got := e.Evaluate(ctx, domain.RuleTypeOrderValidation, domain.Context{}, "2026-03-02")
	require.Len(t, got, 1)
	adj, ok := got[0].Actions[0].(domain.AdjustLimit)
	require.True(t, ok)
	assert.Equal(t, "HK", adj.Market)
	assert.True(t, adj.Percent.Equal(decimal.NewFromInt(25)))
}
