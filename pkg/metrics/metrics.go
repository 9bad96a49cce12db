// Package metrics 提供决策引擎的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 指标集合。nil 指针上的方法均为空操作，方便测试时不注入
type Metrics struct {
	// 决策计数（workflow, status, reason）
	Decisions *prometheus.CounterVec
	// 决策耗时
	ProcessingTime *prometheus.HistogramVec
	// 超出时间预算的次数
	BudgetBreaches *prometheus.CounterVec
	// 原子扣减重试次数（store, cause）
	Retries *prometheus.CounterVec
	// 事件发布失败次数
	PublishFailures *prometheus.CounterVec
	// Outbox 待发送积压
	OutboxPending prometheus.Gauge
	// HTTP 请求计数与耗时
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New 创建指标并注册到 reg；reg 为 nil 时不注册
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Terminal decisions by workflow, status and reason",
		}, []string{"workflow", "status", "reason"}),
		ProcessingTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Decision processing time in seconds",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .15, .25, .5, 1, 2, 5},
		}, []string{"workflow"}),
		BudgetBreaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_breaches_total",
			Help:      "Decisions that exceeded their processing-time budget",
		}, []string{"workflow"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Retries of atomic store operations",
		}, []string{"store", "cause"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Failed event publish attempts",
		}, []string{"event_type"}),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Outbox messages fetched but not yet delivered",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// ObserveDecision 记录一次终态决策
func (m *Metrics) ObserveDecision(workflow, status, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(workflow, status, reason).Inc()
	m.ProcessingTime.WithLabelValues(workflow).Observe(elapsed.Seconds())
}

// BudgetBreached 记录一次超时
func (m *Metrics) BudgetBreached(workflow string) {
	if m == nil {
		return
	}
	m.BudgetBreaches.WithLabelValues(workflow).Inc()
}

// Retried 记录一次重试
func (m *Metrics) Retried(store, cause string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(store, cause).Inc()
}

// PublishFailed 记录一次发布失败
func (m *Metrics) PublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(eventType).Inc()
}

// SetOutboxPending 更新 outbox 积压
func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// ObserveHTTP 记录 HTTP 请求
func (m *Metrics) ObserveHTTP(method, path, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
