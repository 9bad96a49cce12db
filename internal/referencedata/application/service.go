package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
)

// Invalidator 写入后失效读缓存
type Invalidator interface {
	Invalidate(kind, id string)
}

// ReferenceDataService 参考数据维护与查询
type ReferenceDataService struct {
	repo   domain.Repository
	lookup domain.Lookup
	inv    Invalidator
	logger *slog.Logger
}

// NewReferenceDataService lookup 为空时直接读 repo，inv 可为空
func NewReferenceDataService(repo domain.Repository, lookup domain.Lookup, inv Invalidator, logger *slog.Logger) *ReferenceDataService {
	if lookup == nil {
		lookup = repo
	}
	return &ReferenceDataService{repo: repo, lookup: lookup, inv: inv, logger: logger.With("module", "referencedata")}
}

// Lookup 供审批引擎使用的只读视图
func (s *ReferenceDataService) Lookup() domain.Lookup { return s.lookup }

func (s *ReferenceDataService) GetSecurity(ctx context.Context, id string) (*domain.Security, error) {
	return s.lookup.GetSecurity(ctx, id)
}

func (s *ReferenceDataService) GetCounterparty(ctx context.Context, id string) (*domain.Counterparty, error) {
	return s.lookup.GetCounterparty(ctx, id)
}

func (s *ReferenceDataService) GetAggregationUnit(ctx context.Context, id string) (*domain.AggregationUnit, error) {
	return s.lookup.GetAggregationUnit(ctx, id)
}

func (s *ReferenceDataService) SaveSecurity(ctx context.Context, sec *domain.Security) error {
	if sec.Temperature != "" && !sec.Temperature.Valid() {
		return fmt.Errorf("invalid temperature %q", sec.Temperature)
	}
	if sec.BorrowRate.IsNegative() {
		return fmt.Errorf("borrow rate must not be negative")
	}
	if err := s.repo.SaveSecurity(ctx, sec); err != nil {
		return err
	}
	s.invalidate("security", sec.SecurityID)
	s.logger.InfoContext(ctx, "security saved", "security_id", sec.SecurityID, "temperature", sec.Temperature)
	return nil
}

func (s *ReferenceDataService) SaveCounterparty(ctx context.Context, c *domain.Counterparty) error {
	if err := s.repo.SaveCounterparty(ctx, c); err != nil {
		return err
	}
	s.invalidate("counterparty", c.CounterpartyID)
	s.logger.InfoContext(ctx, "counterparty saved", "counterparty_id", c.CounterpartyID)
	return nil
}

func (s *ReferenceDataService) SaveAggregationUnit(ctx context.Context, au *domain.AggregationUnit) error {
	if err := s.repo.SaveAggregationUnit(ctx, au); err != nil {
		return err
	}
	s.invalidate("au", au.AggregationUnitID)
	s.logger.InfoContext(ctx, "aggregation unit saved", "aggregation_unit_id", au.AggregationUnitID)
	return nil
}

func (s *ReferenceDataService) invalidate(kind, id string) {
	if s.inv != nil {
		s.inv.Invalidate(kind, id)
	}
}
