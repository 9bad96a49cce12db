package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	"github.com/wyfcoding/securitieslending/internal/referencedata/infrastructure/persistence/memory"
	"github.com/wyfcoding/securitieslending/pkg/cache"
)

type countingLookup struct {
	domain.Lookup
	securityCalls int
}

func (c *countingLookup) GetSecurity(ctx context.Context, id string) (*domain.Security, error) {
	c.securityCalls++
	return c.Lookup.GetSecurity(ctx, id)
}

func TestCachedLookupReadThrough(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewReferenceRepository()
	require.NoError(t, repo.SaveSecurity(ctx, &domain.Security{SecurityID: "SEC-A", Symbol: "AAA", Active: true}))

	local, err := cache.NewLocalCache(ctx, time.Minute, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	src := &countingLookup{Lookup: repo}
	c := NewCachedLookup(src, local)

	for range 3 {
		s, err := c.GetSecurity(ctx, "SEC-A")
		require.NoError(t, err)
		assert.Equal(t, "AAA", s.Symbol)
	}
	assert.Equal(t, 1, src.securityCalls)

	require.NoError(t, repo.SaveSecurity(ctx, &domain.Security{SecurityID: "SEC-A", Symbol: "BBB"}))
	c.Invalidate("security", "SEC-A")
	s, err := c.GetSecurity(ctx, "SEC-A")
	require.NoError(t, err)
	assert.Equal(t, "BBB", s.Symbol)
	assert.Equal(t, 2, src.securityCalls)

	_, err = c.GetSecurity(ctx, "MISSING")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
