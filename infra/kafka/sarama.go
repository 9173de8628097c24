package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
)

// SaramaPublisher publishes through a sarama SyncProducer.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func DialSarama(cfg Config) (*SaramaPublisher, error) {
	sc := SaramaConfig(cfg)
	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, errors.Wrap(err, "sarama producer")
	}
	return NewSaramaPublisher(producer, cfg.Topic), nil
}

// SaramaConfig is the producer configuration DialSarama uses.
func SaramaConfig(cfg Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = "shardmatch"
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Retry.Max = 5
	if cfg.ClientRetries > 0 {
		sc.Producer.Retry.Max = cfg.ClientRetries
	}
	return sc
}

func NewSaramaPublisher(producer sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, topic: topic}
}

// Publish ignores ctx; SyncProducer has its own timeouts.
func (p *SaramaPublisher) Publish(_ context.Context, key, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return errors.Wrapf(err, "sarama send to %s", p.topic)
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
