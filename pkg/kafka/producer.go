package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// ProducerConfig describes how to reach the cluster. No connection is held
// between publishes.
type ProducerConfig struct {
	Brokers       []string
	TLS           *tls.Config
	SASLMechanism string
	Username      string
	Password      string
	Compression   kafkago.Compression
	RequiredAcks  kafkago.RequiredAcks
	DialTimeout   time.Duration
}

// Producer opens a kafka-go Writer per publish and closes it afterwards.
type Producer struct {
	cfg       ProducerConfig
	transport *kafkago.Transport
}

// NewProducer validates the SASL settings and builds the shared transport
// options.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers configured")
	}
	mechanism, err := SASLFromString(cfg.SASLMechanism, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = kafkago.RequireAll
	}
	return &Producer{
		cfg: cfg,
		transport: &kafkago.Transport{
			DialTimeout: dialTimeout,
			TLS:         cfg.TLS,
			SASL:        mechanism,
		},
	}, nil
}

// Publish sends one message to topic with optional headers. The writer is
// created for this call only and makes a single attempt.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(p.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: p.cfg.RequiredAcks,
		Compression:  p.cfg.Compression,
		MaxAttempts:  1,
		BatchSize:    1,
		Transport:    p.transport,
	}
	defer writer.Close() //nolint:errcheck

	msg := kafkago.Message{
		Key:   key,
		Value: value,
		Time:  time.Now().UTC(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// CompressionFromString maps textual codec to kafka-go value.
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafkago.Gzip
	case "snappy":
		return kafkago.Snappy
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	case "none":
		return 0
	default:
		return kafkago.Snappy
	}
}

// SASLFromString builds the SASL mechanism for name. Empty credentials
// disable SASL.
func SASLFromString(name, username, password string) (sasl.Mechanism, error) {
	if username == "" && password == "" {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "plain":
		return plain.Mechanism{Username: username, Password: password}, nil
	case "scram-sha-256":
		return scram.Mechanism(scram.SHA256, username, password)
	case "scram-sha-512":
		return scram.Mechanism(scram.SHA512, username, password)
	default:
		return nil, fmt.Errorf("unsupported kafka sasl mechanism: %s", name)
	}
}
