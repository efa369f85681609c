// Package sink publishes stored audit records to external systems.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"monay-hq/authz/pkg/audit"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration

	// RequiredAcks is -1 for all replicas, 1 for the leader only.
	RequiredAcks int
	MaxAttempts  int
}

// DefaultKafkaConfig returns defaults for the given brokers and topic.
func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		Topic:        topic,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: int(kafka.RequireAll),
		MaxAttempts:  3,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes audit records as JSON messages keyed by transaction
// ID, so every record of one transaction lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher backed by a kafka-go writer.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.MaxAttempts,
	}
	return newKafkaPublisher(w, cfg.Topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With("component", "audit.sink.kafka"),
	}
}

// Publish writes one record.
func (p *KafkaPublisher) Publish(ctx context.Context, record *audit.Record) error {
	msg, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish audit record %s to %s: %w", record.ID, p.topic, err)
	}
	p.logger.Debug("audit record published",
		"record_id", record.ID,
		"transaction_id", record.TransactionID,
		"topic", p.topic,
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeRecord(record *audit.Record) (kafka.Message, error) {
	value, err := json.Marshal(record)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal audit record %s: %w", record.ID, err)
	}
	return kafka.Message{
		Key:   []byte(record.TransactionID),
		Value: value,
		Time:  record.Timestamp,
		Headers: []kafka.Header{
			{Key: "record-id", Value: []byte(record.ID)},
			{Key: "outcome", Value: []byte(record.Outcome)},
			{Key: "hash", Value: []byte(record.Hash)},
		},
	}, nil
}
