package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	eventdomain "github.com/wyfcoding/securitieslending/internal/event/domain"
	"github.com/wyfcoding/securitieslending/internal/inventory/domain"
	"github.com/wyfcoding/securitieslending/pkg/idgen"
)

// Store 台账需同时支持扣减与补充
type Store interface {
	domain.Ledger
	domain.Feed
}

type ReplenishCommand struct {
	Key      domain.InventoryKey `json:"key"`
	Quantity decimal.Decimal     `json:"quantity"`
}

type AvailabilityDTO struct {
	SecurityID        string `json:"security_id"`
	CounterpartyID    string `json:"counterparty_id"`
	AggregationUnitID string `json:"aggregation_unit_id,omitempty"`
	BusinessDate      string `json:"business_date"`
	CalculationType   string `json:"calculation_type"`
	Available         string `json:"available"`
	Reserved          string `json:"reserved"`
	Version           int64  `json:"version"`
}

func ToAvailabilityDTO(a *domain.Availability) *AvailabilityDTO {
	return &AvailabilityDTO{
		SecurityID:        a.Key.SecurityID,
		CounterpartyID:    a.Key.CounterpartyID,
		AggregationUnitID: a.Key.AggregationUnitID,
		BusinessDate:      a.Key.BusinessDate,
		CalculationType:   string(a.Key.CalculationType),
		Available:         a.Available.String(),
		Reserved:          a.Reserved.String(),
		Version:           a.Version,
	}
}

// InventoryApplicationService 库存查询与补充
type InventoryApplicationService struct {
	store     Store
	publisher eventdomain.Publisher
	logger    *slog.Logger
}

func NewInventoryApplicationService(store Store, publisher eventdomain.Publisher, logger *slog.Logger) *InventoryApplicationService {
	return &InventoryApplicationService{store: store, publisher: publisher, logger: logger.With("module", "inventory")}
}

func (s *InventoryApplicationService) GetAvailability(ctx context.Context, key domain.InventoryKey) (*domain.Availability, error) {
	return s.store.Read(ctx, key)
}

// Replenish 补充可用库存并发布库存事件
func (s *InventoryApplicationService) Replenish(ctx context.Context, cmd *ReplenishCommand) (*domain.Availability, error) {
	if !cmd.Quantity.IsPositive() {
		return nil, fmt.Errorf("replenish quantity must be positive, got %s", cmd.Quantity)
	}
	a, err := s.store.Increment(ctx, cmd.Key, cmd.Quantity)
	if err != nil {
		return nil, err
	}
	ev := eventdomain.InventoryEvent{
		EventID:           idgen.EventID(),
		EventType:         eventdomain.EventInventoryReplenished,
		SecurityID:        cmd.Key.SecurityID,
		CounterpartyID:    cmd.Key.CounterpartyID,
		AggregationUnitID: cmd.Key.AggregationUnitID,
		CalculationType:   string(cmd.Key.CalculationType),
		BusinessDate:      cmd.Key.BusinessDate,
		DecrementQuantity: cmd.Quantity.Neg(),
		RemainingQuantity: a.Available,
		ActionTimestamp:   time.Now(),
	}
	if err := s.publisher.PublishInventoryEvent(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish replenish event", "key", cmd.Key.String(), "error", err)
	}
	s.logger.InfoContext(ctx, "inventory replenished", "key", cmd.Key.String(), "qty", cmd.Quantity.String(), "available", a.Available.String())
	return a, nil
}
