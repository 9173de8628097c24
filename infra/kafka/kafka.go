// Package kafka publishes execution reports to a Kafka topic.
//
// Two clients are supported: segmentio/kafka-go and IBM/sarama. Both are
// synchronous: Publish returns once the broker acknowledged the message.
package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	ClientKafkaGo = "kafka-go"
	ClientSarama  = "sarama"
)

var ErrNoBrokers = errors.New("no kafka brokers configured")

// Publisher sends one keyed message.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	Client       string        `yaml:"client"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// Retries inside the client, before the outbox retry policy applies.
	ClientRetries int `yaml:"client_retries"`
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

// New builds the publisher selected by cfg.Client. An empty client picks
// kafka-go.
func New(cfg Config) (Publisher, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	switch strings.ToLower(cfg.Client) {
	case "", ClientKafkaGo:
		return NewWriter(cfg), nil
	case ClientSarama:
		return DialSarama(cfg)
	default:
		return nil, errors.Newf("unknown kafka client %q", cfg.Client)
	}
}
