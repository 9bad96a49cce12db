package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wyfcoding/securitieslending/internal/event/domain"
	"github.com/wyfcoding/securitieslending/pkg/mq"
)

// KafkaEventPublisher 直接写 Kafka，工作流事件按 workflowId 分区
type KafkaEventPublisher struct {
	producer       mq.Producer
	workflowTopic  string
	inventoryTopic string
}

func NewKafkaEventPublisher(producer mq.Producer, workflowTopic, inventoryTopic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, workflowTopic: workflowTopic, inventoryTopic: inventoryTopic}
}

func (p *KafkaEventPublisher) PublishWorkflowEvent(ctx context.Context, event domain.WorkflowEvent) error {
	return p.send(ctx, p.workflowTopic, event.Key(), event.EventType, event)
}

func (p *KafkaEventPublisher) PublishInventoryEvent(ctx context.Context, event domain.InventoryEvent) error {
	return p.send(ctx, p.inventoryTopic, event.Key(), event.EventType, event)
}

func (p *KafkaEventPublisher) send(ctx context.Context, topic, key, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return p.producer.SendRaw(ctx, topic, key, payload, map[string]string{"event_type": eventType})
}
