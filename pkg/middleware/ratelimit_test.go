package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/wyfcoding/securitieslending/pkg/ratelimit"
)

type fakeLimiter struct {
	res     *ratelimit.Result
	err     error
	callers []string
}

func (f *fakeLimiter) Allow(_ context.Context, caller string) (*ratelimit.Result, error) {
	f.callers = append(f.callers, caller)
	return f.res, f.err
}

func serve(limiter ratelimit.CallerLimiter, clientID string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(limiter))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.7:51000"
	if clientID != "" {
		req.Header.Set("X-Client-ID", clientID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		limiter    *fakeLimiter
		status     int
		retryAfter string
	}{
		{"allowed", &fakeLimiter{res: &ratelimit.Result{Allowed: true, Burst: 10, Remaining: 9}}, http.StatusOK, ""},
		{"throttled", &fakeLimiter{res: &ratelimit.Result{Burst: 10, RetryAfter: 1500 * time.Millisecond}}, http.StatusTooManyRequests, "2"},
		{"limiter down passes through", &fakeLimiter{err: errors.New("redis down")}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(tt.limiter, "desk-1")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, []string{"desk-1"}, tt.limiter.callers)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
		})
	}
}

func TestRateLimitMiddlewareFallsBackToClientIP(t *testing.T) {
	limiter := &fakeLimiter{res: &ratelimit.Result{Allowed: true, Burst: 1}}
	w := serve(limiter, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"10.0.0.7"}, limiter.callers)
}

func TestRateLimitMiddlewareNilLimiter(t *testing.T) {
	w := serve(nil, "desk-1")
	assert.Equal(t, http.StatusOK, w.Code)
}
