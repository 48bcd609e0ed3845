package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandProducer publishes KafkaCommand envelopes for devices that
// consume the command topic.
type KafkaCommandProducer struct {
	writer MessageWriter
	topic  string
}

// NewKafkaCommandProducer creates a producer writing to topic.
func NewKafkaCommandProducer(brokers []string, topic string) (*KafkaCommandProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // one target stays on one partition
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaCommandProducer{writer: writer, topic: topic}, nil
}

// Publish sends method with params to target ("*" for every device) and
// returns the request ID the devices will log.
func (p *KafkaCommandProducer) Publish(ctx context.Context, target, method string, params interface{}) (string, error) {
	if method == "" {
		return "", fmt.Errorf("method is required")
	}
	if target == "" {
		target = "*"
	}

	var payload json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("failed to marshal params: %w", err)
		}
		payload = data
	}

	cmd := KafkaCommand{
		Version:   "v1",
		Target:    target,
		Command:   method,
		Timestamp: time.Now().UTC(),
		RequestID: uuid.NewString(),
		Payload:   payload,
	}
	value, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal command: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(target),
		Value: value,
		Time:  cmd.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("kafka write failed: %w", err)
	}

	slog.Debug("kafka command published", "topic", p.topic, "target", target, "command", method, "request_id", cmd.RequestID)
	return cmd.RequestID, nil
}

// Close flushes and closes the writer.
func (p *KafkaCommandProducer) Close() error {
	return p.writer.Close()
}
