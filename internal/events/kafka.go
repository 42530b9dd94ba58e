package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"api_gateway/internal/utils"
)

const eventSource = "api-gateway"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter writes events to a Kafka topic, keyed by owner so events of
// one account stay ordered within a partition.
type KafkaEmitter struct {
	writer messageWriter
	logger *utils.Logger
}

// NewKafkaEmitter creates an emitter for the given brokers and topic
func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	logger := utils.NewLogger("kafka-events")
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to deliver lifecycle events", "count", len(messages), "error", err)
			}
		},
	}
	return newKafkaEmitter(writer, logger)
}

func newKafkaEmitter(writer messageWriter, logger *utils.Logger) *KafkaEmitter {
	return &KafkaEmitter{writer: writer, logger: logger}
}

// Emit publishes the event with CloudEvents-style headers
func (e *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OwnerID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(event.ID)},
			{Key: "ce_source", Value: []byte(eventSource)},
			{Key: "ce_specversion", Value: []byte("1.0")},
			{Key: "ce_type", Value: []byte(event.Type)},
			{Key: "ce_time", Value: []byte(event.OccurredAt.Format(time.RFC3339))},
			{Key: "ce_subject", Value: []byte(event.CredentialID.String())},
			{Key: "ce_contenttype", Value: []byte("application/json")},
		},
	}

	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	e.logger.Debug("Lifecycle event published", "type", event.Type, "owner_id", event.OwnerID)
	return nil
}

// Close flushes pending messages
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
