package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/limit/domain"
)

// Store 本地额度存储需同时支持占用与刷新
type Store interface {
	domain.LimitStore
	domain.LimitFeed
}

type UpsertLimitCommand struct {
	Key            domain.LimitKey `json:"key"`
	ShortSellLimit decimal.Decimal `json:"short_sell_limit"`
	LongSellLimit  decimal.Decimal `json:"long_sell_limit"`
}

type LimitDTO struct {
	EntityType         string `json:"entity_type"`
	EntityID           string `json:"entity_id"`
	SecurityID         string `json:"security_id"`
	BusinessDate       string `json:"business_date"`
	ShortSellLimit     string `json:"short_sell_limit"`
	ShortSellUsed      string `json:"short_sell_used"`
	ShortSellRemaining string `json:"short_sell_remaining"`
	LongSellLimit      string `json:"long_sell_limit"`
	LongSellUsed       string `json:"long_sell_used"`
	LongSellRemaining  string `json:"long_sell_remaining"`
	Version            int64  `json:"version"`
}

func ToLimitDTO(l *domain.TradingLimit) *LimitDTO {
	return &LimitDTO{
		EntityType:         string(l.Key.EntityType),
		EntityID:           l.Key.EntityID,
		SecurityID:         l.Key.SecurityID,
		BusinessDate:       l.Key.BusinessDate,
		ShortSellLimit:     l.ShortSellLimit.String(),
		ShortSellUsed:      l.ShortSellUsed.String(),
		ShortSellRemaining: l.Remaining(domain.SideShortSell).String(),
		LongSellLimit:      l.LongSellLimit.String(),
		LongSellUsed:       l.LongSellUsed.String(),
		LongSellRemaining:  l.Remaining(domain.SideLongSell).String(),
		Version:            l.Version,
	}
}

// LimitApplicationService 额度服务对外接口：查询、占用、归还与刷新
type LimitApplicationService struct {
	store  Store
	logger *slog.Logger
}

func NewLimitApplicationService(store Store, logger *slog.Logger) *LimitApplicationService {
	return &LimitApplicationService{store: store, logger: logger.With("module", "limit")}
}

func (s *LimitApplicationService) GetLimit(ctx context.Context, key domain.LimitKey) (*domain.TradingLimit, error) {
	return s.store.Read(ctx, key)
}

func (s *LimitApplicationService) Consume(ctx context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal, expectedVersion int64) (bool, error) {
	if !qty.IsPositive() {
		return false, fmt.Errorf("quantity must be positive, got %s", qty)
	}
	ok, err := s.store.TryConsume(ctx, key, side, qty, expectedVersion)
	if err != nil {
		s.logger.WarnContext(ctx, "limit consume failed", "key", key.String(), "side", side, "error", err)
		return false, err
	}
	return ok, nil
}

func (s *LimitApplicationService) Release(ctx context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal) error {
	if err := s.store.Release(ctx, key, side, qty); err != nil {
		s.logger.ErrorContext(ctx, "limit release failed", "key", key.String(), "side", side, "qty", qty.String(), "error", err)
		return err
	}
	return nil
}

func (s *LimitApplicationService) Upsert(ctx context.Context, cmd *UpsertLimitCommand) (*domain.TradingLimit, error) {
	if cmd.ShortSellLimit.IsNegative() || cmd.LongSellLimit.IsNegative() {
		return nil, fmt.Errorf("limits must not be negative")
	}
	if err := s.store.Upsert(ctx, &domain.TradingLimit{
		Key:            cmd.Key,
		ShortSellLimit: cmd.ShortSellLimit,
		LongSellLimit:  cmd.LongSellLimit,
	}); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "limit refreshed", "key", cmd.Key.String())
	return s.store.Read(ctx, cmd.Key)
}
