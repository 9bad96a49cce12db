package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/securitieslending/internal/rule/domain"
)

// RuleApplicationService 规则维护：保存前先编译校验，保存后刷新求值器快照
type RuleApplicationService struct {
	repo      domain.RuleRepository
	evaluator *Evaluator
	logger    *slog.Logger
}

func NewRuleApplicationService(repo domain.RuleRepository, evaluator *Evaluator, logger *slog.Logger) *RuleApplicationService {
	return &RuleApplicationService{repo: repo, evaluator: evaluator, logger: logger.With("module", "rule")}
}

func (s *RuleApplicationService) SaveRule(ctx context.Context, def *domain.RuleDefinition) error {
	if _, err := domain.Compile(*def); err != nil {
		return err
	}
	def.UpdatedAt = time.Now()
	if err := s.repo.Save(ctx, def); err != nil {
		return fmt.Errorf("save rule %s: %w", def.RuleID, err)
	}
	s.logger.InfoContext(ctx, "rule saved", "rule_id", def.RuleID, "type", def.Type, "status", def.Status)
	return s.evaluator.Reload(ctx)
}

func (s *RuleApplicationService) GetRule(ctx context.Context, ruleID string) (*domain.RuleDefinition, error) {
	return s.repo.Get(ctx, ruleID)
}

func (s *RuleApplicationService) ListRules(ctx context.Context, ruleType domain.RuleType) ([]domain.RuleDefinition, error) {
	return s.repo.ListByType(ctx, ruleType)
}
