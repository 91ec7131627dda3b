package emitter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSEmitter publishes payloads to a JetStream subject so other local
// consumers can observe what the agent reports.
type NATSEmitter struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

func NewNATSEmitter(url, subject string) (*NATSEmitter, error) {
	conn, err := nats.Connect(url, nats.Name("sd-agent"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	slog.Info("nats emitter initialized", "url", url, "subject", subject)
	return &NATSEmitter{conn: conn, js: js, subject: subject}, nil
}

func (e *NATSEmitter) Name() string { return "nats" }

func (e *NATSEmitter) Emit(ctx context.Context, body []byte) error {
	if _, err := e.js.Publish(ctx, e.subject, body); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

func (e *NATSEmitter) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
}
