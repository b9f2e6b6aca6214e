package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// HandlerFunc runs the job a message refers to.
type HandlerFunc func(ctx context.Context, msg CleanupMessage) error

// Consumer reads cleanup messages from Kafka. Handlers must be idempotent:
// the relay delivers at least once.
type Consumer struct {
	r      *kafka.Reader
	handle HandlerFunc
}

func NewConsumer(brokers []string, topic, groupID string, handle HandlerFunc) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		handle: handle,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run blocks until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("cleanup consumer stopped", "err", err)
			}
			return
		}
		if err := c.handleMessage(ctx, m.Value); err != nil {
			slog.Warn("cleanup message not handled", "offset", m.Offset, "partition", m.Partition, "err", err)
		}
	}
}

// handleMessage decodes and dispatches one payload. Failed jobs stay pending
// in the database and are picked up by the scheduled sweep.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	var msg CleanupMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.handle(ctx, msg)
}
