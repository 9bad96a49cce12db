package domain

import "context"

// RuleRepository 规则定义存储
type RuleRepository interface {
	ListByType(ctx context.Context, ruleType RuleType) ([]RuleDefinition, error)
	Get(ctx context.Context, ruleID string) (*RuleDefinition, error)
	Save(ctx context.Context, def *RuleDefinition) error
}
