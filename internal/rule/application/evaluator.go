package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/securitieslending/internal/rule/domain"
)

// Decision 单条命中规则及其动作
type Decision struct {
	RuleID   string
	Priority int
	Actions  []domain.Action
}

type snapshot map[domain.RuleType][]*domain.Rule

// Evaluator 规则求值器。规则在 Reload 时编译为内存快照，Evaluate 只读快照、不访问存储。
type Evaluator struct {
	repo   domain.RuleRepository
	types  []domain.RuleType
	rules  atomic.Pointer[snapshot]
	logger *slog.Logger
}

func NewEvaluator(repo domain.RuleRepository, logger *slog.Logger) *Evaluator {
	e := &Evaluator{
		repo:   repo,
		types:  []domain.RuleType{domain.RuleTypeLocateApproval, domain.RuleTypeOrderValidation},
		logger: logger.With("module", "rule_evaluator"),
	}
	e.rules.Store(&snapshot{})
	return e
}

// Reload 重新加载并编译规则，格式错误的规则记录告警后跳过
func (e *Evaluator) Reload(ctx context.Context) error {
	next := snapshot{}
	for _, t := range e.types {
		defs, err := e.repo.ListByType(ctx, t)
		if err != nil {
			return fmt.Errorf("load %s rules: %w", t, err)
		}
		compiled := make([]*domain.Rule, 0, len(defs))
		for _, def := range defs {
			r, err := domain.Compile(def)
			if err != nil {
				e.logger.WarnContext(ctx, "skipping malformed rule", "rule_id", def.RuleID, "error", err)
				continue
			}
			compiled = append(compiled, r)
		}
		domain.SortRules(compiled)
		next[t] = compiled
	}
	e.rules.Store(&next)
	return nil
}

// Run 周期性刷新规则直到 ctx 取消
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Reload(ctx); err != nil {
				e.logger.ErrorContext(ctx, "rule reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}

// Evaluate 返回 asOf 当日生效且命中的规则，按 priority、rule id 排序。
// 求值出错的规则视为格式错误，记录告警后跳过。
func (e *Evaluator) Evaluate(ctx context.Context, ruleType domain.RuleType, rc domain.Context, asOf string) []Decision {
	rules := (*e.rules.Load())[ruleType]
	var out []Decision
	for _, r := range rules {
		if !r.ActiveOn(asOf) {
			continue
		}
		matched, err := r.Matches(rc)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping rule that failed to evaluate", "rule_id", r.RuleID, "error", err)
			continue
		}
		if matched {
			out = append(out, Decision{RuleID: r.RuleID, Priority: r.Priority, Actions: r.Actions})
		}
	}
	return out
}

// Rules 当前快照中某类规则
func (e *Evaluator) Rules(ruleType domain.RuleType) []*domain.Rule {
	return (*e.rules.Load())[ruleType]
}
