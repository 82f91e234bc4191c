package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"eventrelay/internal/logger"
)

// Publisher errors
var (
	ErrPublisherClosed = errors.New("dead-letter publisher is closed")
)

// KafkaPublisher writes dead-batch records to a Kafka topic so an
// external recovery process can replay or alert on them.
type KafkaPublisher struct {
	writer *kafka.Writer
	closed atomic.Bool

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewKafkaPublisher creates a publisher for the given brokers and
// topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Partition by destination
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        false, // Sync for reliability
	}

	return &KafkaPublisher{writer: writer}, nil
}

// Publish writes one record. The caller treats failures as log-only;
// the in-memory store remains the source of truth for inspection.
func (p *KafkaPublisher) Publish(ctx context.Context, rec Record) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to serialize dead-letter record: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.Destination),
		Value: data,
		Headers: []kafka.Header{
			{Key: "batch_id", Value: []byte(rec.BatchID)},
			{Key: "destination", Value: []byte(rec.Destination)},
		},
		Time: rec.FailedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to publish dead-letter record: %w", err)
	}

	p.published.Add(1)
	log := logger.WithComponent("deadletter")
	log.Debug().
		Str("batch_id", rec.BatchID).
		Str("destination", rec.Destination).
		Msg("dead-letter record published")
	return nil
}

// Stats returns publish counts.
func (p *KafkaPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}
	return p.writer.Close()
}
