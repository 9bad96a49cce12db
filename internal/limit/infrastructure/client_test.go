package infrastructure_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/limit/application"
	"github.com/wyfcoding/securitieslending/internal/limit/domain"
	"github.com/wyfcoding/securitieslending/internal/limit/infrastructure"
	limithttp "github.com/wyfcoding/securitieslending/internal/limit/interfaces/http"
)

func newLimitServer(t *testing.T) (*httptest.Server, *infrastructure.MemoryLimitStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := infrastructure.NewMemoryLimitStore()
	app := application.NewLimitApplicationService(store, slog.Default())
	router := gin.New()
	limithttp.NewLimitHandler(app).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestLimitServiceClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, store := newLimitServer(t)
	key := domain.ClientKey("C1", "SEC-A", "2026-03-02")
	require.NoError(t, store.Upsert(ctx, &domain.TradingLimit{
		Key:            key,
		ShortSellLimit: decimal.NewFromInt(10000),
		LongSellLimit:  decimal.NewFromInt(500),
	}))

	client := infrastructure.NewLimitServiceClient(infrastructure.ClientConfig{BaseURL: srv.URL, Timeout: time.Second})

	l, err := client.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, l.Remaining(domain.SideShortSell).Equal(decimal.NewFromInt(10000)))

	ok, err := client.TryConsume(ctx, key, domain.SideShortSell, decimal.NewFromInt(5000), l.Version)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.TryConsume(ctx, key, domain.SideLongSell, decimal.NewFromInt(501), l.Version+1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = client.TryConsume(ctx, key, domain.SideShortSell, decimal.NewFromInt(1), l.Version)
	assert.Equal(t, decision.KindConflict, decision.KindOf(err))

	require.NoError(t, client.Release(ctx, key, domain.SideShortSell, decimal.NewFromInt(5000)))
	l, err = store.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, l.ShortSellUsed.IsZero())

	_, err = client.Read(ctx, domain.ClientKey("C404", "SEC-A", "2026-03-02"))
	assert.ErrorIs(t, err, domain.ErrLimitNotFound)
}

func TestLimitServiceClientFailsClosedWhenUnreachable(t *testing.T) {
	srv, _ := newLimitServer(t)
	url := srv.URL
	srv.Close()

	client := infrastructure.NewLimitServiceClient(infrastructure.ClientConfig{
		BaseURL:         url,
		Timeout:         100 * time.Millisecond,
		BreakerFailures: 2,
		BreakerOpen:     time.Minute,
	})
	key := domain.ClientKey("C1", "SEC-A", "2026-03-02")

	for range 3 {
		_, err := client.Read(context.Background(), key)
		require.Error(t, err)
		assert.Equal(t, decision.ReasonLimitServiceUnavailable, decision.ReasonFor(err, decision.ReasonLimitServiceUnavailable))
		assert.Equal(t, decision.KindTransient, decision.KindOf(err))
	}
}
