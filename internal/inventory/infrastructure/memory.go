package infrastructure

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/inventory/domain"
	"github.com/wyfcoding/securitieslending/pkg/shardmap"
)

// MemoryLedger 进程内库存台账
type MemoryLedger struct {
	rows *shardmap.Map[domain.Availability]
	now  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{rows: shardmap.New[domain.Availability](0), now: time.Now}
}

func (l *MemoryLedger) Read(_ context.Context, key domain.InventoryKey) (*domain.Availability, error) {
	a, ok := l.rows.Load(key.String())
	if !ok {
		return nil, domain.ErrInventoryNotFound
	}
	return &a, nil
}

func (l *MemoryLedger) TryDecrement(_ context.Context, key domain.InventoryKey, d domain.Decrement) (decimal.Decimal, bool, error) {
	if err := d.Validate(); err != nil {
		return decimal.Zero, false, err
	}
	var (
		applied   bool
		remaining decimal.Decimal
	)
	found := l.rows.Update(key.String(), func(a *domain.Availability) {
		applied = a.TryApply(d, l.now())
		remaining = a.Available
	})
	if !found {
		return decimal.Zero, false, domain.ErrInventoryNotFound
	}
	return remaining, applied, nil
}

func (l *MemoryLedger) Restore(_ context.Context, key domain.InventoryKey, amount decimal.Decimal) error {
	if !l.rows.Update(key.String(), func(a *domain.Availability) { a.Restore(amount, l.now()) }) {
		return domain.ErrInventoryNotFound
	}
	return nil
}

func (l *MemoryLedger) Increment(_ context.Context, key domain.InventoryKey, qty decimal.Decimal) (*domain.Availability, error) {
	var out domain.Availability
	l.rows.Upsert(key.String(), func(a *domain.Availability, exists bool) {
		if !exists {
			a.Key = key
		}
		a.Replenish(qty, l.now())
		out = *a
	})
	return &out, nil
}
