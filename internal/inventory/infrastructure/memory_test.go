package infrastructure

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/inventory/domain"
)

var locateKey = domain.InventoryKey{
	SecurityID:      "SEC-A",
	CounterpartyID:  "CP-1",
	BusinessDate:    "2026-03-02",
	CalculationType: domain.CalcLocate,
}

func TestMemoryLedgerTryDecrement(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	_, err := l.Increment(ctx, locateKey, decimal.NewFromInt(1200))
	require.NoError(t, err)

	remaining, ok, err := l.TryDecrement(ctx, locateKey, domain.Exact(decimal.NewFromInt(1000)))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, remaining.Equal(decimal.NewFromInt(200)))

	remaining, ok, err = l.TryDecrement(ctx, locateKey, domain.Exact(decimal.NewFromInt(201)))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, remaining.Equal(decimal.NewFromInt(200)), "failed decrement leaves balance untouched")

	a, err := l.Read(ctx, locateKey)
	require.NoError(t, err)
	assert.True(t, a.Reserved.Equal(decimal.NewFromInt(1000)))

	require.NoError(t, l.Restore(ctx, locateKey, decimal.NewFromInt(1000)))
	a, err = l.Read(ctx, locateKey)
	require.NoError(t, err)
	assert.True(t, a.Available.Equal(decimal.NewFromInt(1200)))
	assert.True(t, a.Reserved.IsZero())
}

func TestMemoryLedgerPartialDecrement(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	_, err := l.Increment(ctx, locateKey, decimal.NewFromInt(500))
	require.NoError(t, err)

	d := domain.Decrement{Required: decimal.NewFromInt(500), Amount: decimal.NewFromInt(250)}
	remaining, ok, err := l.TryDecrement(ctx, locateKey, d)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, remaining.Equal(decimal.NewFromInt(250)))

	_, _, err = l.TryDecrement(ctx, locateKey, domain.Decrement{Required: decimal.NewFromInt(1), Amount: decimal.NewFromInt(2)})
	assert.ErrorIs(t, err, domain.ErrInvalidDecrement)
}

func TestMemoryLedgerMissingKey(t *testing.T) {
	_, _, err := NewMemoryLedger().TryDecrement(context.Background(), locateKey, domain.Exact(decimal.NewFromInt(1)))
	assert.ErrorIs(t, err, domain.ErrInventoryNotFound)
}

func TestMemoryLedgerConcurrentDecrementNeverExceedsPool(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	pool := decimal.NewFromInt(1000)
	_, err := l.Increment(ctx, locateKey, pool)
	require.NoError(t, err)

	const workers = 64
	each := decimal.NewFromInt(70) // floor(1000/70) = 14
	var (
		mu       sync.Mutex
		approved int
		wg       sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.TryDecrement(ctx, locateKey, domain.Exact(each))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 14, approved)
	a, err := l.Read(ctx, locateKey)
	require.NoError(t, err)
	assert.True(t, a.Reserved.Equal(decimal.NewFromInt(980)))
	assert.True(t, a.Available.Equal(decimal.NewFromInt(20)))
}
