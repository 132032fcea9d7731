package notify

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTT publishes with QoS 1 over a fresh session per message.
type MQTT struct {
	cfg Config
}

// NewMQTT returns an MQTT notifier; no connection is made until Publish.
func NewMQTT(cfg Config) *MQTT {
	return &MQTT{cfg: cfg}
}

func (m *MQTT) brokerURL() string {
	scheme := "tcp"
	if m.cfg.TLS {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s", scheme, m.cfg.hostPort())
}

func (m *MQTT) Publish(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	// Concurrent publishes need distinct client ids or the broker drops the older session.
	clientID := fmt.Sprintf("%s-%s", m.cfg.ClientID, uuid.NewString()[:8])
	opts := mqtt.NewClientOptions().
		AddBroker(m.brokerURL()).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(m.cfg.Timeout)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	if tlsCfg := m.cfg.tlsConfig(); tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connect mqtt broker %s: %w", m.cfg.hostPort(), err)
	}
	defer client.Disconnect(250)

	if err := waitToken(ctx, client.Publish(msg.Topic, 1, false, msg.Payload)); err != nil {
		return fmt.Errorf("publish mqtt topic %s: %w", msg.Topic, err)
	}
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
