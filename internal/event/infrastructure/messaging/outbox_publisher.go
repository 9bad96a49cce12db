package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wyfcoding/securitieslending/internal/event/domain"
	"github.com/wyfcoding/securitieslending/pkg/idgen"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/metrics"
	"github.com/wyfcoding/securitieslending/pkg/mq"
	"gorm.io/gorm"
)

const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxMessage 待投递事件
type OutboxMessage struct {
	ID            string    `gorm:"type:varchar(36);primaryKey"`
	EventID       string    `gorm:"type:varchar(36);uniqueIndex"`
	EventType     string    `gorm:"type:varchar(64);index"`
	Topic         string    `gorm:"type:varchar(128)"`
	MessageKey    string    `gorm:"type:varchar(128)"`
	Payload       string    `gorm:"type:text"`
	Status        string    `gorm:"type:varchar(20);index:idx_outbox_due,priority:1;default:'pending'"`
	Attempts      int       `gorm:"not null;default:0"`
	LastError     string    `gorm:"type:varchar(512)"`
	NextAttemptAt time.Time `gorm:"index:idx_outbox_due,priority:2"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (OutboxMessage) TableName() string {
	return "seclending_outbox_messages"
}

// OutboxEventPublisher 事件先落库，由 Relay 异步投递到 Kafka
type OutboxEventPublisher struct {
	db             *gorm.DB
	workflowTopic  string
	inventoryTopic string
}

func NewOutboxEventPublisher(db *gorm.DB, workflowTopic, inventoryTopic string) *OutboxEventPublisher {
	return &OutboxEventPublisher{db: db, workflowTopic: workflowTopic, inventoryTopic: inventoryTopic}
}

func (p *OutboxEventPublisher) AutoMigrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&OutboxMessage{})
}

func (p *OutboxEventPublisher) PublishWorkflowEvent(ctx context.Context, event domain.WorkflowEvent) error {
	return p.publishEvent(ctx, p.workflowTopic, event.Key(), event.EventID, event.EventType, event)
}

func (p *OutboxEventPublisher) PublishInventoryEvent(ctx context.Context, event domain.InventoryEvent) error {
	return p.publishEvent(ctx, p.inventoryTopic, event.Key(), event.EventID, event.EventType, event)
}

func (p *OutboxEventPublisher) publishEvent(ctx context.Context, topic, key, eventID, eventType string, event any) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if eventID == "" {
		eventID = idgen.EventID()
	}
	now := time.Now()
	message := OutboxMessage{
		ID:            idgen.EventID(),
		EventID:       eventID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    key,
		Payload:       string(eventData),
		Status:        OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return p.db.WithContext(ctx).Create(&message).Error
}

// RelayConfig 投递参数
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// 单条消息失败后的首次重投间隔，之后翻倍
	RetryBase time.Duration
}

// Relay 轮询 outbox 并投递，至少一次语义：发送成功但标记失败时会重复投递
type Relay struct {
	db       *gorm.DB
	producer mq.Producer
	cfg      RelayConfig
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewRelay(db *gorm.DB, producer mq.Producer, cfg RelayConfig, m *metrics.Metrics) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &Relay{db: db, producer: producer, cfg: cfg, metrics: m, now: time.Now}
}

// Run 周期性投递直到 ctx 取消；数据库故障时按指数退避拉长轮询间隔
func (r *Relay) Run(ctx context.Context) error {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = r.cfg.Interval
	idle.MaxInterval = 30 * r.cfg.Interval

	wait := r.cfg.Interval
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if _, err := r.ProcessOutboxMessages(ctx); err != nil {
			wait = idle.NextBackOff()
			logger.Error(ctx, "outbox relay failed", "error", err, "next_poll", wait.String())
			continue
		}
		idle.Reset()
		wait = r.cfg.Interval
	}
}

// ProcessOutboxMessages 投递一批到期消息，返回成功条数
func (r *Relay) ProcessOutboxMessages(ctx context.Context) (int, error) {
	var messages []OutboxMessage
	now := r.now()
	if err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", OutboxPending, now).
		Order("created_at").
		Limit(r.cfg.BatchSize).
		Find(&messages).Error; err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}

	sent := 0
	for i := range messages {
		m := &messages[i]
		err := r.producer.SendRaw(ctx, m.Topic, m.MessageKey, []byte(m.Payload), map[string]string{
			"event_type": m.EventType,
			"event_id":   m.EventID,
		})
		if err == nil {
			if err := r.db.WithContext(ctx).Model(m).Updates(map[string]any{"status": OutboxSent, "updated_at": now}).Error; err != nil {
				return sent, fmt.Errorf("mark outbox %s sent: %w", m.ID, err)
			}
			sent++
			continue
		}

		r.metrics.PublishFailed(m.EventType)
		attempts := m.Attempts + 1
		updates := map[string]any{
			"attempts":        attempts,
			"last_error":      truncate(err.Error(), 512),
			"next_attempt_at": now.Add(r.retryDelay(attempts)),
			"updated_at":      now,
		}
		if attempts >= r.cfg.MaxAttempts {
			updates["status"] = OutboxFailed
			logger.Error(ctx, "outbox message exhausted retries", "event_id", m.EventID, "event_type", m.EventType, "error", err)
		}
		if err := r.db.WithContext(ctx).Model(m).Updates(updates).Error; err != nil {
			return sent, fmt.Errorf("mark outbox %s retry: %w", m.ID, err)
		}
	}

	var pending int64
	if err := r.db.WithContext(ctx).Model(&OutboxMessage{}).Where("status = ?", OutboxPending).Count(&pending).Error; err == nil {
		r.metrics.SetOutboxPending(int(pending))
	}
	return sent, nil
}

func (r *Relay) retryDelay(attempts int) time.Duration {
	d := r.cfg.RetryBase << min(attempts-1, 10)
	return min(d, 10*time.Minute)
}

// CleanupProcessedMessages 清理已投递消息
func (r *Relay) CleanupProcessedMessages(ctx context.Context, before time.Time) error {
	return r.db.WithContext(ctx).Where("status = ? AND updated_at < ?", OutboxSent, before).Delete(&OutboxMessage{}).Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
