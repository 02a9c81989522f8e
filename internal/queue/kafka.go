package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/raphaelgruber/memfed/internal/models"
)

// ErrQueueClosed is returned when using a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// KafkaQueue implements Queue on a Kafka topic with manual offset
// commits. Offsets advance only through Delivery.Ack, which gives the
// pipeline its at-least-once guarantee.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader

	mu     sync.Mutex
	closed bool
}

// Config holds the Kafka connection settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaQueue wires a producer and a consumer-group reader.
func NewKafkaQueue(cfg Config) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.FirstOffset,
	})

	return &KafkaQueue{writer: writer, reader: reader}, nil
}

// Enqueue publishes a job keyed by batch id.
func (q *KafkaQueue) Enqueue(ctx context.Context, job models.IngestionJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	payload, err := job.Encode()
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.BatchID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue job %s/%s: %w", job.BatchID, job.FileID, err)
	}
	return nil
}

// Receive fetches the next message without committing its offset.
// Undecodable messages are committed and skipped; they can never
// succeed and would wedge the partition.
func (q *KafkaQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch message: %w", err)
		}

		job, err := models.DecodeJob(msg.Value)
		if err != nil {
			slog.Error("dropping undecodable queue message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			if err := q.reader.CommitMessages(ctx, msg); err != nil {
				return nil, fmt.Errorf("commit poison message: %w", err)
			}
			continue
		}

		var once sync.Once
		return &Delivery{
			Job:     job,
			Payload: msg.Value,
			Ack: func(ctx context.Context) error {
				var ackErr error
				once.Do(func() {
					ackErr = q.reader.CommitMessages(ctx, msg)
				})
				return ackErr
			},
		}, nil
	}
}

// Close shuts down both the writer and the reader.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return errors.Join(q.writer.Close(), q.reader.Close())
}
