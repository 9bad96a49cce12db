package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/securitieslending/internal/decision"
	eventdomain "github.com/wyfcoding/securitieslending/internal/event/domain"
	"github.com/wyfcoding/securitieslending/internal/event/infrastructure/messaging"
	limitdomain "github.com/wyfcoding/securitieslending/internal/limit/domain"
	limitinfra "github.com/wyfcoding/securitieslending/internal/limit/infrastructure"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/domain"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/infrastructure"
	refdomain "github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	refmemory "github.com/wyfcoding/securitieslending/internal/referencedata/infrastructure/persistence/memory"
	ruleapp "github.com/wyfcoding/securitieslending/internal/rule/application"
	ruledomain "github.com/wyfcoding/securitieslending/internal/rule/domain"
	ruleinfra "github.com/wyfcoding/securitieslending/internal/rule/infrastructure"
)

const day = "2026-03-06"

// countingStore 统计额度服务调用次数，可注入冲突与故障
type countingStore struct {
	limitdomain.LimitStore
	calls     atomic.Int64
	conflicts atomic.Int64
	down      atomic.Bool
}

func (s *countingStore) Read(ctx context.Context, key limitdomain.LimitKey) (*limitdomain.TradingLimit, error) {
	s.calls.Add(1)
	if s.down.Load() {
		return nil, decision.Transient(decision.ReasonLimitServiceUnavailable, decision.ErrUnavailable)
	}
	return s.LimitStore.Read(ctx, key)
}

func (s *countingStore) TryConsume(ctx context.Context, key limitdomain.LimitKey, side limitdomain.Side, qty decimal.Decimal, v int64) (bool, error) {
	s.calls.Add(1)
	if s.conflicts.Load() > 0 {
		s.conflicts.Add(-1)
		return false, decision.Conflict(nil)
	}
	return s.LimitStore.TryConsume(ctx, key, side, qty, v)
}

type fixture struct {
	engine   *Engine
	limits   *limitinfra.MemoryLimitStore
	store    *countingStore
	repo     *infrastructure.MemoryRepository
	recorder *messaging.Recorder
}

func newFixture(t *testing.T, clientCap, auCap int64, rules ...ruledomain.RuleDefinition) *fixture {
	t.Helper()
	ctx := context.Background()
	limits := limitinfra.NewMemoryLimitStore()
	for _, l := range []struct {
		key limitdomain.LimitKey
		cap int64
	}{
		{limitdomain.ClientKey("C1", "SEC-A", day), clientCap},
		{limitdomain.AggregationUnitKey("AU1", "SEC-A", day), auCap},
	} {
		require.NoError(t, limits.Upsert(ctx, &limitdomain.TradingLimit{
			Key: l.key, ShortSellLimit: decimal.NewFromInt(l.cap), LongSellLimit: decimal.NewFromInt(l.cap),
		}))
	}
	refdata := refmemory.NewReferenceRepository()
	require.NoError(t, refdata.SaveSecurity(ctx, &refdomain.Security{SecurityID: "SEC-A", Market: "XHKG", Active: true}))

	evaluator := ruleapp.NewEvaluator(ruleinfra.NewMemoryRuleRepository(rules...), slog.Default())
	require.NoError(t, evaluator.Reload(ctx))

	f := &fixture{
		limits:   limits,
		store:    &countingStore{LimitStore: limits},
		repo:     infrastructure.NewMemoryRepository(),
		recorder: messaging.NewRecorder(),
	}
	f.engine = NewEngine(Deps{
		Repo:      f.repo,
		Limits:    f.store,
		RefData:   refdata,
		Rules:     evaluator,
		Publisher: f.recorder,
	}, EngineConfig{Retry: decision.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}}, slog.Default())
	return f
}

func order(id string, t domain.OrderType, qty int64) domain.Order {
	return domain.Order{
		OrderID: id, OrderType: t, SecurityID: "SEC-A", ClientID: "C1", AggregationUnitID: "AU1",
		Quantity: decimal.NewFromInt(qty), BusinessDate: day,
	}
}

func (f *fixture) used(t *testing.T, key limitdomain.LimitKey) decimal.Decimal {
	t.Helper()
	l, err := f.limits.Read(context.Background(), key)
	require.NoError(t, err)
	return l.ShortSellUsed
}

var (
	clientKey = limitdomain.ClientKey("C1", "SEC-A", day)
	auKey     = limitdomain.AggregationUnitKey("AU1", "SEC-A", day)
)

func TestValidateScenarios(t *testing.T) {
	tests := []struct {
		name       string
		clientCap  int64
		auCap      int64
		order      domain.Order
		wantStatus domain.Status
		wantReason decision.Reason
		clientUsed int64
		auUsed     int64
	}{
		{"approved", 10000, 10000, order("O1", domain.OrderTypeShortSell, 5000), domain.StatusApproved, decision.ReasonNone, 5000, 5000},
		{"exact capacity", 5000, 5000, order("O2", domain.OrderTypeShortSell, 5000), domain.StatusApproved, decision.ReasonNone, 5000, 5000},
		{"client short", 3000, 10000, order("O3", domain.OrderTypeShortSell, 5000), domain.StatusRejected, decision.ReasonInsufficientClientLimit, 0, 0},
		{"aggregation unit short", 10000, 4000, order("O4", domain.OrderTypeShortSell, 5000), domain.StatusRejected, decision.ReasonInsufficientAggregationUnitLimit, 0, 0},
		{"buy skips limits", 0, 0, order("O5", domain.OrderTypeBuy, 5000), domain.StatusApproved, decision.ReasonNone, 0, 0},
		{"zero quantity", 10000, 10000, order("O6", domain.OrderTypeShortSell, 0), domain.StatusRejected, decision.ReasonInvalidOrder, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.clientCap, tt.auCap)
			v, err := f.engine.Validate(context.Background(), tt.order)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, v.Status)
			assert.Equal(t, tt.wantReason, v.RejectionReason)
			assert.GreaterOrEqual(t, v.ProcessingTimeMs, int64(0))
			assert.True(t, f.used(t, clientKey).Equal(decimal.NewFromInt(tt.clientUsed)), "client used")
			assert.True(t, f.used(t, auKey).Equal(decimal.NewFromInt(tt.auUsed)), "aggregation unit used")

			stored, err := f.repo.GetByOrderID(context.Background(), tt.order.OrderID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)

			events := f.recorder.WorkflowEvents()
			require.Len(t, events, 1)
			assert.Equal(t, eventdomain.WorkflowOrderValidation, events[0].WorkflowType)
			assert.Equal(t, v.ProcessingTimeMs, events[0].ProcessingTimeMs)
		})
	}
}

// setSides 为客户与聚合单元设置不同的卖空 / 卖出额度
func (f *fixture) setSides(t *testing.T, shortCap, longCap int64) {
	t.Helper()
	for _, key := range []limitdomain.LimitKey{clientKey, auKey} {
		require.NoError(t, f.limits.Upsert(context.Background(), &limitdomain.TradingLimit{
			Key: key, ShortSellLimit: decimal.NewFromInt(shortCap), LongSellLimit: decimal.NewFromInt(longCap),
		}))
	}
}

func TestCapacityFollowsOrderSide(t *testing.T) {
	tests := []struct {
		name       string
		orderType  domain.OrderType
		shortCap   int64
		longCap    int64
		wantStatus domain.Status
		wantReason decision.Reason
		shortUsed  int64
		longUsed   int64
	}{
		{"long sell uses long capacity", domain.OrderTypeLongSell, 1000, 8000, domain.StatusApproved, decision.ReasonNone, 0, 5000},
		{"long sell ignores short capacity", domain.OrderTypeLongSell, 8000, 1000, domain.StatusRejected, decision.ReasonInsufficientClientLimit, 0, 0},
		{"short sell ignores long capacity", domain.OrderTypeShortSell, 1000, 8000, domain.StatusRejected, decision.ReasonInsufficientClientLimit, 0, 0},
		{"short sell uses short capacity", domain.OrderTypeShortSell, 8000, 1000, domain.StatusApproved, decision.ReasonNone, 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0, 0)
			f.setSides(t, tt.shortCap, tt.longCap)

			v, err := f.engine.Validate(context.Background(), order("O1", tt.orderType, 5000))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, v.Status)
			assert.Equal(t, tt.wantReason, v.RejectionReason)

			for _, key := range []limitdomain.LimitKey{clientKey, auKey} {
				l, err := f.limits.Read(context.Background(), key)
				require.NoError(t, err)
				assert.True(t, l.ShortSellUsed.Equal(decimal.NewFromInt(tt.shortUsed)), "%s short used %s", key.EntityType, l.ShortSellUsed)
				assert.True(t, l.LongSellUsed.Equal(decimal.NewFromInt(tt.longUsed)), "%s long used %s", key.EntityType, l.LongSellUsed)
			}
		})
	}
}

func TestClientRejectionLeavesAggregationUnitUntouched(t *testing.T) {
	f := newFixture(t, 3000, 10000)
	v, err := f.engine.Validate(context.Background(), order("O1", domain.OrderTypeShortSell, 5000))
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonInsufficientClientLimit, v.RejectionReason)
	au, err := f.limits.Read(context.Background(), auKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), au.Version, "no read-modify on the aggregation unit")
}

func TestMissingSecurityMakesNoLimitCalls(t *testing.T) {
	f := newFixture(t, 10000, 10000)
	o := order("O1", domain.OrderTypeShortSell, 100)
	o.SecurityID = ""
	v, err := f.engine.Validate(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonInvalidOrder, v.RejectionReason)
	assert.Zero(t, f.store.calls.Load())

	o = order("O2", domain.OrderTypeShortSell, 100)
	o.SecurityID = "SEC-UNKNOWN"
	v, err = f.engine.Validate(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonInvalidOrder, v.RejectionReason)
	assert.Zero(t, f.store.calls.Load())
}

func TestMissingLimitRecordRejects(t *testing.T) {
	f := newFixture(t, 10000, 10000)
	o := order("O1", domain.OrderTypeShortSell, 100)
	o.ClientID = "C-NOLIMIT"
	v, err := f.engine.Validate(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonInsufficientClientLimit, v.RejectionReason)
}

func TestLimitServiceUnavailableFailsClosed(t *testing.T) {
	f := newFixture(t, 10000, 10000)
	f.store.down.Store(true)
	v, err := f.engine.Validate(context.Background(), order("O1", domain.OrderTypeShortSell, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, v.Status)
	assert.Equal(t, decision.ReasonLimitServiceUnavailable, v.RejectionReason)
	assert.Equal(t, int64(3), f.store.calls.Load(), "bounded retries")
}

func TestConflictIsRetried(t *testing.T) {
	f := newFixture(t, 10000, 10000)
	f.store.conflicts.Store(1)
	v, err := f.engine.Validate(context.Background(), order("O1", domain.OrderTypeShortSell, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, v.Status)
	assert.True(t, f.used(t, clientKey).Equal(decimal.NewFromInt(100)))
	assert.True(t, f.used(t, auKey).Equal(decimal.NewFromInt(100)))
}

func TestConflictExhaustionRejects(t *testing.T) {
	f := newFixture(t, 10000, 10000)
	f.store.conflicts.Store(10)
	v, err := f.engine.Validate(context.Background(), order("O1", domain.OrderTypeShortSell, 100))
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonConcurrencyConflict, v.RejectionReason)
	assert.True(t, f.used(t, clientKey).IsZero())
}

func TestRevalidationIsStateError(t *testing.T) {
	f := newFixture(t, 10000, 10000)
	_, err := f.engine.Validate(context.Background(), order("O1", domain.OrderTypeShortSell, 100))
	require.NoError(t, err)
	_, err = f.engine.Validate(context.Background(), order("O1", domain.OrderTypeShortSell, 100))
	assert.True(t, decision.IsStateError(err))
	assert.True(t, f.used(t, clientKey).Equal(decimal.NewFromInt(100)), "no double consumption")
}

func TestMarketCarveOutReducesAggregationUnitCapacity(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]string
		rejected int64
		approved int64
	}{
		{"percent", map[string]string{"market": "XHKG", "percent": "50"}, 5000, 4000},
		{"fixed quantity", map[string]string{"market": "XHKG", "quantity": "3000"}, 5001, 5000},
		{"other market", map[string]string{"market": "XNYS", "quantity": "3000"}, 8001, 8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := ruledomain.RuleDefinition{
				RuleID: "HK-CARVE", Type: ruledomain.RuleTypeOrderValidation, Status: ruledomain.RuleStatusActive,
				Actions: []ruledomain.ActionDefinition{{Type: ruledomain.ActionAdjustLimit, Parameters: tt.params}},
			}
			f := newFixture(t, 10000, 8000, rule)
			v, err := f.engine.Validate(context.Background(), order("O1", domain.OrderTypeShortSell, tt.rejected))
			require.NoError(t, err)
			assert.Equal(t, decision.ReasonInsufficientAggregationUnitLimit, v.RejectionReason)

			v, err = f.engine.Validate(context.Background(), order("O2", domain.OrderTypeShortSell, tt.approved))
			require.NoError(t, err)
			assert.Equal(t, domain.StatusApproved, v.Status)
		})
	}
}

func TestConcurrentOrdersNeverOverdraw(t *testing.T) {
	f := newFixture(t, 1000, 1000)
	f.engine.cfg.Retry = decision.RetryPolicy{MaxAttempts: 50, InitialBackoff: time.Microsecond, MaxBackoff: time.Microsecond}

	var (
		wg       sync.WaitGroup
		approved atomic.Int64
	)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.engine.Validate(context.Background(), order(fmt.Sprintf("O%d", i), domain.OrderTypeShortSell, 300))
			if err != nil {
				t.Errorf("validate: %v", err)
				return
			}
			if v.Status == domain.StatusApproved {
				approved.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, approved.Load(), int64(3))
	used := f.used(t, clientKey)
	assert.True(t, used.Equal(decimal.NewFromInt(300*approved.Load())))
	assert.True(t, f.used(t, auKey).Equal(used), "both limits move together")
	assert.True(t, used.LessThanOrEqual(decimal.NewFromInt(1000)))
}

type failingRepo struct {
	*infrastructure.MemoryRepository
}

func (failingRepo) Update(context.Context, *domain.OrderValidation, int64) error {
	return errors.New("db down")
}

func TestPersistFailureReleasesLimits(t *testing.T) {
	f := newFixture(t, 10000, 10000)
	f.engine.Repo = failingRepo{f.repo}
	_, err := f.engine.Validate(context.Background(), order("O1", domain.OrderTypeShortSell, 100))
	require.Error(t, err)
	assert.True(t, f.used(t, clientKey).IsZero())
	assert.True(t, f.used(t, auKey).IsZero())
	assert.Empty(t, f.recorder.WorkflowEvents())
}

func TestBudgetBreachIsNotARejection(t *testing.T) {
	f := newFixture(t, 10000, 10000)
	o := order("O1", domain.OrderTypeShortSell, 100)
	o.ReceivedAt = time.Now().Add(-time.Second)
	v, err := f.engine.Validate(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, v.Status)
	assert.GreaterOrEqual(t, v.ProcessingTimeMs, int64(1000))
}
