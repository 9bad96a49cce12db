package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/securitieslending/internal/event/infrastructure/messaging"
	limitdomain "github.com/wyfcoding/securitieslending/internal/limit/domain"
	limitinfra "github.com/wyfcoding/securitieslending/internal/limit/infrastructure"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/application"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/infrastructure"
	"github.com/wyfcoding/securitieslending/pkg/response"
)

func TestValidateOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	limits := limitinfra.NewMemoryLimitStore()
	for _, key := range []limitdomain.LimitKey{
		limitdomain.ClientKey("C1", "SEC-A", "2026-03-06"),
		limitdomain.AggregationUnitKey("AU1", "SEC-A", "2026-03-06"),
	} {
		require.NoError(t, limits.Upsert(ctx, &limitdomain.TradingLimit{Key: key, ShortSellLimit: decimal.NewFromInt(3000), LongSellLimit: decimal.NewFromInt(3000)}))
	}
	engine := application.NewEngine(application.Deps{
		Repo:      infrastructure.NewMemoryRepository(),
		Limits:    limits,
		Publisher: messaging.NewRecorder(),
	}, application.DefaultEngineConfig(), slog.Default())
	r := gin.New()
	NewOrderValidationHandler(engine).RegisterRoutes(r)

	post := func(body string) (int, map[string]any) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/validate", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		var b response.Body
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
		data, _ := b.Data.(map[string]any)
		return w.Code, data
	}

	code, data := post(`{"order_id":"O1","order_type":"SHORT_SELL","security_id":"SEC-A","client_id":"C1","aggregation_unit_id":"AU1","quantity":"5000","business_date":"2026-03-06"}`)
	require.Equal(t, http.StatusOK, code)
	outputs := data["outputs"].(map[string]any)
	assert.Equal(t, false, outputs["approved"])
	assert.Equal(t, "INSUFFICIENT_CLIENT_LIMIT", outputs["rejectionReason"])

	code, _ = post(`{"order_id":"O1","order_type":"SHORT_SELL","security_id":"SEC-A","client_id":"C1","aggregation_unit_id":"AU1","quantity":"5","business_date":"2026-03-06"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, data = post(`{"order_id":"O2","order_type":"LONG_SELL","security_id":"SEC-A","client_id":"C1","aggregation_unit_id":"AU1","quantity":"2000","business_date":"2026-03-06"}`)
	require.Equal(t, http.StatusOK, code)
	outputs = data["outputs"].(map[string]any)
	assert.Equal(t, true, outputs["approved"])
	assert.Equal(t, "2000", outputs["decrementQuantity"])

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/O2", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/NOPE", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
