package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer publishes through a kafka-go Writer.
type Writer struct {
	w     messageWriter
	topic string
}

func NewWriter(cfg Config) *Writer {
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 10 * time.Millisecond
	}
	return &Writer{
		topic: cfg.Topic,
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: batch,
			MaxAttempts:  max(cfg.ClientRetries, 1),
		},
	}
}

func (p *Writer) Publish(ctx context.Context, key, value []byte) error {
	err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
	return errors.Wrapf(err, "kafka-go write to %s", p.topic)
}

func (p *Writer) Close() error {
	return p.w.Close()
}
