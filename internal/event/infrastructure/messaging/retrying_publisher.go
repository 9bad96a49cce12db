package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wyfcoding/securitieslending/internal/event/domain"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/metrics"
)

// ErrQueueFull 重试队列已满
var ErrQueueFull = errors.New("event retry queue full")

type pendingEvent struct {
	eventType string
	send      func(ctx context.Context) error
}

// RetryingPublisher 同步尝试一次，失败的事件进入内存队列由后台协程带退避重投。
// 发布失败不会回传给引擎，已持久化的状态不受影响。
type RetryingPublisher struct {
	next        domain.Publisher
	queue       chan pendingEvent
	maxAttempts uint
	initial     time.Duration
	metrics     *metrics.Metrics
}

func NewRetryingPublisher(next domain.Publisher, queueSize int, maxAttempts int, initial time.Duration, m *metrics.Metrics) *RetryingPublisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	return &RetryingPublisher{
		next:        next,
		queue:       make(chan pendingEvent, queueSize),
		maxAttempts: uint(maxAttempts),
		initial:     initial,
		metrics:     m,
	}
}

func (p *RetryingPublisher) PublishWorkflowEvent(ctx context.Context, event domain.WorkflowEvent) error {
	return p.try(ctx, event.EventType, func(ctx context.Context) error {
		return p.next.PublishWorkflowEvent(ctx, event)
	})
}

func (p *RetryingPublisher) PublishInventoryEvent(ctx context.Context, event domain.InventoryEvent) error {
	return p.try(ctx, event.EventType, func(ctx context.Context) error {
		return p.next.PublishInventoryEvent(ctx, event)
	})
}

func (p *RetryingPublisher) try(ctx context.Context, eventType string, send func(ctx context.Context) error) error {
	err := send(ctx)
	if err == nil {
		return nil
	}
	p.metrics.PublishFailed(eventType)
	select {
	case p.queue <- pendingEvent{eventType: eventType, send: send}:
		logger.Warn(ctx, "event publish failed, queued for retry", "event_type", eventType, "error", err)
		return nil
	default:
		logger.Error(ctx, "event publish failed and retry queue is full", "event_type", eventType, "error", err)
		return ErrQueueFull
	}
}

// Run 消费重试队列直到 ctx 取消
func (p *RetryingPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.queue:
			p.redeliver(ctx, ev)
		}
	}
}

func (p *RetryingPublisher) redeliver(ctx context.Context, ev pendingEvent) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, ev.send(ctx)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.maxAttempts))
	if err != nil {
		p.metrics.PublishFailed(ev.eventType)
		logger.Error(ctx, "event dropped after retries", "event_type", ev.eventType, "error", err)
	}
}

// Pending 队列中待重试数量
func (p *RetryingPublisher) Pending() int {
	return len(p.queue)
}
