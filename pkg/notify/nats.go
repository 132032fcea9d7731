package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS publishes on a subject named after the topic.
type NATS struct {
	cfg Config
}

// NewNATS returns a NATS notifier; no connection is made until Publish.
func NewNATS(cfg Config) *NATS {
	return &NATS{cfg: cfg}
}

func (n *NATS) url() string {
	scheme := "nats"
	if n.cfg.TLS {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s", scheme, n.cfg.hostPort())
}

func (n *NATS) Publish(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	opts := []nats.Option{
		nats.Name(n.cfg.ClientID),
		nats.Timeout(n.cfg.Timeout),
		nats.NoReconnect(),
	}
	if n.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(n.cfg.Username, n.cfg.Password))
	}
	if tlsCfg := n.cfg.tlsConfig(); tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}

	nc, err := nats.Connect(n.url(), opts...)
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", n.cfg.hostPort(), err)
	}
	defer nc.Close()

	out := nats.NewMsg(msg.Topic)
	out.Data = msg.Payload
	for k, v := range msg.Headers {
		out.Header.Set(k, v)
	}
	if msg.Key != "" {
		out.Header.Set("key", msg.Key)
	}

	if err := nc.PublishMsg(out); err != nil {
		return fmt.Errorf("publishing to %s: %w", msg.Topic, err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing %s: %w", msg.Topic, err)
	}
	return nil
}
