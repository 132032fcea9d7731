package notify

import (
	"context"
	"fmt"

	"github.com/your-org/voxrelay/pkg/kafka"
)

// Kafka publishes through a per-call kafka-go writer.
type Kafka struct {
	cfg      Config
	producer *kafka.Producer
}

// NewKafka validates the SASL settings and prepares the producer.
func NewKafka(cfg Config) (*Kafka, error) {
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:       []string{cfg.hostPort()},
		TLS:           cfg.tlsConfig(),
		SASLMechanism: cfg.SASL,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Compression:   kafka.CompressionFromString(cfg.Compression),
		DialTimeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init kafka notifier: %w", err)
	}
	return &Kafka{cfg: cfg, producer: producer}, nil
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, k.cfg.Timeout)
	defer cancel()
	return k.producer.Publish(ctx, msg.Topic, []byte(msg.Key), msg.Payload, msg.Headers)
}
