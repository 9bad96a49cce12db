// Package mq 提供 Kafka producer 封装，按 key 分区保证同一实体的事件有序
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/securitieslending/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff int
}

// Producer 消息发送接口
type Producer interface {
	SendMessage(ctx context.Context, topic, key string, value any) error
	SendRaw(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
	Close() error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者
func NewProducer(ctx context.Context, cfg KafkaConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Snappy,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
		BatchTimeout:           5 * time.Millisecond,
	}

	logger.Info(ctx, "Kafka producer created", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer}
}

// SendMessage 将 value 序列化为 JSON 后发送
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return kp.SendRaw(ctx, topic, key, data, nil)
}

// SendRaw 发送已序列化的消息
func (kp *KafkaProducer) SendRaw(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}

	logger.Debug(ctx, "Kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
