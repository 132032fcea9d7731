// Package notify publishes artifact events to a downstream broker.
//
// Every provider opens a connection for a single publish and closes it
// afterwards; nothing is retried. Connections to anything other than a
// loopback broker must use TLS.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	// ErrInsecureTransport rejects plaintext connections to remote brokers.
	ErrInsecureTransport = errors.New("notify: TLS is required for a non-loopback broker")
	// ErrUnknownProvider is returned by New for unsupported providers.
	ErrUnknownProvider = errors.New("notify: unknown provider")
)

// Message is one event bound for a topic.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// Notifier publishes a message and reports whether the broker accepted it.
type Notifier interface {
	Publish(ctx context.Context, msg Message) error
}

// Config describes the broker connection.
type Config struct {
	Provider    string
	Host        string
	Port        int
	Username    string
	Password    string
	TLS         bool
	ClientID    string
	Timeout     time.Duration
	Compression string
	SASL        string
}

// New builds the configured Notifier. Provider "none" yields Noop.
func New(cfg Config) (Notifier, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "none" || provider == "" {
		return Noop{}, nil
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("notify: broker host is required for provider %q", provider)
	}
	if !cfg.TLS && !IsLoopback(cfg.Host) {
		return nil, fmt.Errorf("%w: %s", ErrInsecureTransport, cfg.Host)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	switch provider {
	case "mqtt":
		return NewMQTT(cfg), nil
	case "kafka":
		return NewKafka(cfg)
	case "nats":
		return NewNATS(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// IsLoopback reports whether host names the local machine.
func IsLoopback(host string) bool {
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

func (c Config) tlsConfig() *tls.Config {
	if !c.TLS {
		return nil
	}
	return &tls.Config{
		ServerName: c.Host,
		MinVersion: tls.VersionTLS12,
	}
}

func (c Config) hostPort() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Noop drops every message. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Message) error {
	return nil
}
