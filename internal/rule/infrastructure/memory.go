package infrastructure

import (
	"context"
	"sync"

	"github.com/wyfcoding/securitieslending/internal/rule/domain"
)

// MemoryRuleRepository 进程内规则存储
type MemoryRuleRepository struct {
	mu    sync.RWMutex
	rules map[string]domain.RuleDefinition
}

func NewMemoryRuleRepository(defs ...domain.RuleDefinition) *MemoryRuleRepository {
	r := &MemoryRuleRepository{rules: make(map[string]domain.RuleDefinition, len(defs))}
	for _, d := range defs {
		r.rules[d.RuleID] = d
	}
	return r
}

func (r *MemoryRuleRepository) ListByType(_ context.Context, ruleType domain.RuleType) ([]domain.RuleDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RuleDefinition
	for _, d := range r.rules {
		if d.Type == ruleType {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *MemoryRuleRepository) Get(_ context.Context, ruleID string) (*domain.RuleDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.rules[ruleID]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return &d, nil
}

func (r *MemoryRuleRepository) Save(_ context.Context, def *domain.RuleDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[def.RuleID] = *def
	return nil
}
