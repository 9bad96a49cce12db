package infrastructure

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/limit/domain"
	"github.com/wyfcoding/securitieslending/pkg/shardmap"
)

// MemoryLimitStore 进程内额度存储，按 key 分片加锁，同一 key 的占用严格串行
type MemoryLimitStore struct {
	limits *shardmap.Map[domain.TradingLimit]
	now    func() time.Time
}

func NewMemoryLimitStore() *MemoryLimitStore {
	return &MemoryLimitStore{limits: shardmap.New[domain.TradingLimit](0), now: time.Now}
}

func (s *MemoryLimitStore) Read(_ context.Context, key domain.LimitKey) (*domain.TradingLimit, error) {
	l, ok := s.limits.Load(key.String())
	if !ok {
		return nil, domain.ErrLimitNotFound
	}
	return &l, nil
}

func (s *MemoryLimitStore) TryConsume(_ context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal, expectedVersion int64) (bool, error) {
	if !side.Valid() {
		return false, domain.ErrInvalidSide
	}
	var (
		consumed bool
		conflict bool
	)
	found := s.limits.Update(key.String(), func(l *domain.TradingLimit) {
		if l.Version != expectedVersion {
			conflict = true
			return
		}
		consumed = l.Consume(side, qty, s.now()) == nil
	})
	switch {
	case !found:
		return false, domain.ErrLimitNotFound
	case conflict:
		return false, decision.Conflict(nil)
	}
	return consumed, nil
}

func (s *MemoryLimitStore) Release(_ context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal) error {
	if !s.limits.Update(key.String(), func(l *domain.TradingLimit) { l.Release(side, qty, s.now()) }) {
		return domain.ErrLimitNotFound
	}
	return nil
}

// Upsert 写入新的 limit 值，保留已占用量
func (s *MemoryLimitStore) Upsert(_ context.Context, in *domain.TradingLimit) error {
	s.limits.Upsert(in.Key.String(), func(l *domain.TradingLimit, exists bool) {
		if !exists {
			*l = *in
			l.Version = 1
			l.UpdatedAt = s.now()
			return
		}
		l.ShortSellLimit = in.ShortSellLimit
		l.LongSellLimit = in.LongSellLimit
		l.Version++
		l.UpdatedAt = s.now()
	})
	return nil
}
