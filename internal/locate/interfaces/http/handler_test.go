package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/event/infrastructure/messaging"
	invdomain "github.com/wyfcoding/securitieslending/internal/inventory/domain"
	invinfra "github.com/wyfcoding/securitieslending/internal/inventory/infrastructure"
	"github.com/wyfcoding/securitieslending/internal/locate/application"
	"github.com/wyfcoding/securitieslending/internal/locate/infrastructure"
	refdomain "github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	refmemory "github.com/wyfcoding/securitieslending/internal/referencedata/infrastructure/persistence/memory"
	"github.com/wyfcoding/securitieslending/pkg/response"
)

func newRouter(t *testing.T) (*gin.Engine, *invinfra.MemoryLedger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	refdata := refmemory.NewReferenceRepository()
	require.NoError(t, refdata.SaveSecurity(ctx, &refdomain.Security{SecurityID: "SEC-A", Active: true}))
	require.NoError(t, refdata.SaveCounterparty(ctx, &refdomain.Counterparty{CounterpartyID: "C1", Active: true, LocateEligible: true}))

	cal := decision.UTCCalendar()
	ledger := invinfra.NewMemoryLedger()
	engine := application.NewEngine(application.Deps{
		Repo:      infrastructure.NewMemoryRepository(),
		RefData:   refdata,
		Ledger:    ledger,
		Publisher: messaging.NewRecorder(),
		Calendar:  cal,
	}, application.DefaultEngineConfig(), slog.Default())

	r := gin.New()
	NewLocateHandler(engine).RegisterRoutes(r)
	return r, ledger
}

func do(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, response.Body) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var b response.Body
	_ = json.Unmarshal(w.Body.Bytes(), &b)
	return w, b
}

func TestSubmitAndApproveOverHTTP(t *testing.T) {
	r, ledger := newRouter(t)
	key := invdomain.InventoryKey{
		SecurityID: "SEC-A", CounterpartyID: "C1",
		BusinessDate:    decision.UTCCalendar().BusinessDate(time.Now()),
		CalculationType: invdomain.CalcLocate,
	}
	_, err := ledger.Increment(context.Background(), key, decimal.NewFromInt(1200))
	require.NoError(t, err)

	w, body := do(r, http.MethodPost, "/api/v1/locates?approve=true", `{"request_id":"LOC-1","security_id":"SEC-A","client_id":"C1","quantity":"1000"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data, _ := json.Marshal(body.Data)
	var resp struct {
		Outputs struct {
			Approved         bool    `json:"approved"`
			ApprovedQuantity string  `json:"approvedQuantity"`
			RejectionReason  *string `json:"rejectionReason"`
		} `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.True(t, resp.Outputs.Approved)
	assert.Equal(t, "1000", resp.Outputs.ApprovedQuantity)
	assert.Nil(t, resp.Outputs.RejectionReason)

	w, _ = do(r, http.MethodPost, "/api/v1/locates/LOC-1/approve", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/locates/LOC-404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(r, http.MethodPost, "/api/v1/locates", `{"security_id":"SEC-A"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
