package kafka

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicTransactions = "transactions"
	TopicUsers        = "users"
)

//go:generate mockgen -source=producer.go -destination=mocks/mock_producer.go -package=mocks

type KafkaProducer interface {
	Send(ctx context.Context, topic string, key int64, value []byte) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a synchronous writer: Send returns only after the
// broker acknowledged the message or the context expired.
func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(key, 10)),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to send Kafka message", "method", "Send", "topic", topic, "key", key, "error", err)
		return err
	}
	slog.Info("Kafka message sent", "method", "Send", "topic", topic, "key", key)
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close Kafka writer", "error", err)
		return err
	}
	slog.Info("Kafka writer closed")
	return nil
}

// NopProducer discards events when no brokers are configured.
type NopProducer struct{}

func (NopProducer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	slog.Debug("event dropped, no brokers configured", "method", "Send", "topic", topic, "key", key)
	return nil
}

func (NopProducer) Close() error { return nil }
