package infrastructure

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/limit/domain"
)

func seed(t *testing.T, s *MemoryLimitStore, key domain.LimitKey, short string) *domain.TradingLimit {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), &domain.TradingLimit{
		Key:            key,
		ShortSellLimit: decimal.RequireFromString(short),
		LongSellLimit:  decimal.RequireFromString(short),
	}))
	l, err := s.Read(context.Background(), key)
	require.NoError(t, err)
	return l
}

func TestMemoryLimitStoreTryConsume(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLimitStore()
	key := domain.ClientKey("C1", "SEC-A", "2026-03-02")
	l := seed(t, s, key, "1000")

	ok, err := s.TryConsume(ctx, key, domain.SideShortSell, decimal.NewFromInt(1200), l.Version)
	require.NoError(t, err)
	assert.False(t, ok, "insufficient capacity is not an error")

	ok, err = s.TryConsume(ctx, key, domain.SideShortSell, decimal.NewFromInt(600), l.Version)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.TryConsume(ctx, key, domain.SideShortSell, decimal.NewFromInt(1), l.Version)
	assert.Equal(t, decision.KindConflict, decision.KindOf(err), "stale version must conflict")

	after, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, after.ShortSellUsed.Equal(decimal.NewFromInt(600)))
	assert.True(t, after.LongSellUsed.IsZero())

	_, err = s.TryConsume(ctx, domain.ClientKey("C2", "SEC-A", "2026-03-02"), domain.SideShortSell, decimal.NewFromInt(1), 1)
	assert.ErrorIs(t, err, domain.ErrLimitNotFound)
}

func TestMemoryLimitStoreUpsertKeepsUsed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLimitStore()
	key := domain.AggregationUnitKey("AU1", "SEC-A", "2026-03-02")
	l := seed(t, s, key, "1000")

	ok, err := s.TryConsume(ctx, key, domain.SideLongSell, decimal.NewFromInt(400), l.Version)
	require.NoError(t, err)
	require.True(t, ok)

	l = seed(t, s, key, "2000")
	assert.True(t, l.LongSellUsed.Equal(decimal.NewFromInt(400)))
	assert.True(t, l.Remaining(domain.SideLongSell).Equal(decimal.NewFromInt(1600)))

	require.NoError(t, s.Release(ctx, key, domain.SideLongSell, decimal.NewFromInt(400)))
	l, err = s.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, l.LongSellUsed.IsZero())
}

func TestMemoryLimitStoreConcurrentConsumeNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLimitStore()
	key := domain.ClientKey("C1", "SEC-B", "2026-03-02")
	seed(t, s, key, "1000")

	qty := decimal.NewFromInt(300)
	var approved atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := decision.Retry(ctx, decision.RetryPolicy{MaxAttempts: 50}, nil, func(ctx context.Context) (bool, error) {
				cur, err := s.Read(ctx, key)
				if err != nil {
					return false, err
				}
				ok, err := s.TryConsume(ctx, key, domain.SideShortSell, qty, cur.Version)
				if ok {
					approved.Add(1)
				}
				return ok, err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), approved.Load())
	l, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, l.ShortSellUsed.Equal(decimal.NewFromInt(900)))
}
