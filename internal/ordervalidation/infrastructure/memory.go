package infrastructure

import (
	"context"
	"sync"

	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/domain"
)

// MemoryRepository 进程内订单校验记录
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]domain.OrderValidation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]domain.OrderValidation{}}
}

func (m *MemoryRepository) Create(_ context.Context, v *domain.OrderValidation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rows[v.OrderID]; ok {
		return decision.NewStateError("order %s already %s", v.OrderID, cur.Status)
	}
	m.rows[v.OrderID] = *v
	return nil
}

func (m *MemoryRepository) GetByOrderID(_ context.Context, orderID string) (*domain.OrderValidation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.rows[orderID]
	if !ok {
		return nil, domain.ErrValidationNotFound
	}
	return &v, nil
}

func (m *MemoryRepository) Update(_ context.Context, v *domain.OrderValidation, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[v.OrderID]
	if !ok {
		return domain.ErrValidationNotFound
	}
	if cur.Version != expectedVersion {
		return decision.Conflict(nil)
	}
	v.Version = expectedVersion + 1
	m.rows[v.OrderID] = *v
	return nil
}
