package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/limit/domain"
	"github.com/wyfcoding/securitieslending/pkg/logger"
)

// ClientConfig 远程额度服务配置
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// 连续失败多少次后熔断
	BreakerFailures uint32
	// 熔断打开持续时间
	BreakerOpen time.Duration
}

// ConsumeRequest 额度占用请求
type ConsumeRequest struct {
	Key             domain.LimitKey `json:"key"`
	Side            domain.Side     `json:"side" validate:"required,oneof=SHORT_SELL LONG_SELL"`
	Quantity        decimal.Decimal `json:"quantity"`
	ExpectedVersion int64           `json:"expected_version"`
}

// ConsumeResult 额度占用结果
type ConsumeResult struct {
	Consumed bool `json:"consumed"`
}

// ReleaseRequest 额度归还请求
type ReleaseRequest struct {
	Key      domain.LimitKey `json:"key"`
	Side     domain.Side     `json:"side" validate:"required,oneof=SHORT_SELL LONG_SELL"`
	Quantity decimal.Decimal `json:"quantity"`
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// 业务结果（不存在、冲突）不计入熔断失败
var (
	errRemoteNotFound = errors.New("remote limit not found")
	errRemoteConflict = errors.New("remote version conflict")
)

// LimitServiceClient 通过 HTTP 调用外部额度服务。
// 服务不可达、超时或熔断打开时返回 LIMIT_SERVICE_UNAVAILABLE 分类错误，调用方据此 fail-closed。
type LimitServiceClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

func NewLimitServiceClient(cfg ClientConfig) *LimitServiceClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 50 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "limit-service",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errRemoteNotFound) || errors.Is(err, errRemoteConflict)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &LimitServiceClient{http: httpClient, breaker: breaker}
}

func (c *LimitServiceClient) Read(ctx context.Context, key domain.LimitKey) (*domain.TradingLimit, error) {
	out, err := c.call(ctx, func() (any, error) {
		var body envelope[*domain.TradingLimit]
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"entity_type":   string(key.EntityType),
				"entity_id":     key.EntityID,
				"security_id":   key.SecurityID,
				"business_date": key.BusinessDate,
			}).
			SetResult(&body).
			Get("/api/v1/limits")
		if err := classify(resp, err); err != nil {
			return nil, err
		}
		if body.Data == nil {
			return nil, errRemoteNotFound
		}
		return body.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*domain.TradingLimit), nil
}

func (c *LimitServiceClient) TryConsume(ctx context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal, expectedVersion int64) (bool, error) {
	out, err := c.call(ctx, func() (any, error) {
		var body envelope[ConsumeResult]
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(ConsumeRequest{Key: key, Side: side, Quantity: qty, ExpectedVersion: expectedVersion}).
			SetResult(&body).
			Post("/api/v1/limits/consume")
		if err := classify(resp, err); err != nil {
			return nil, err
		}
		return body.Data.Consumed, nil
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

func (c *LimitServiceClient) Release(ctx context.Context, key domain.LimitKey, side domain.Side, qty decimal.Decimal) error {
	_, err := c.call(ctx, func() (any, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(ReleaseRequest{Key: key, Side: side, Quantity: qty}).
			Post("/api/v1/limits/release")
		return nil, classify(resp, err)
	})
	return err
}

// call 经熔断器执行请求，并把远端错误映射为领域错误
func (c *LimitServiceClient) call(ctx context.Context, fn func() (any, error)) (any, error) {
	out, err := c.breaker.Execute(fn)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, errRemoteNotFound):
		return nil, domain.ErrLimitNotFound
	case errors.Is(err, errRemoteConflict):
		return nil, decision.Conflict(nil)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		logger.Warn(ctx, "limit service short-circuited", "error", err)
		return nil, unavailable(err)
	default:
		return nil, unavailable(err)
	}
}

func classify(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return errRemoteNotFound
	case http.StatusConflict:
		return errRemoteConflict
	default:
		return fmt.Errorf("limit service returned %d: %s", resp.StatusCode(), resp.String())
	}
}
