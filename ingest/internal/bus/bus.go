// Package bus republishes newly stored envelopes on NATS so internal
// consumers (analytics, dashboards) can react without polling the
// ledger. Only first-seen events are published; replays never reach
// the bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/storepulse-systems/storepulse/common/envelope"
)

// SubjectPrefix is the root of all event subjects. The full subject is
// <prefix>.<event_name>.
const SubjectPrefix = "storepulse.events"

// Publisher fans newly stored envelopes out to the bus.
type Publisher interface {
	PublishEnvelope(ctx context.Context, e *envelope.Envelope) error
	Close()
}

// Config holds NATS connection configuration.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "storepulse-ingest",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSPublisher implements Publisher over a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS with the given configuration.
func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn}, nil
}

// PublishEnvelope publishes the envelope under its event-name subject.
func (p *NATSPublisher) PublishEnvelope(ctx context.Context, e *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return p.conn.Publish(Subject(e.EventName), data)
}

// Close drains the connection, letting buffered publishes flush.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// Subject returns the bus subject for an event name.
func Subject(eventName string) string {
	return SubjectPrefix + "." + eventName
}

// NoOpPublisher drops envelopes, for deployments without a bus.
type NoOpPublisher struct{}

func (NoOpPublisher) PublishEnvelope(context.Context, *envelope.Envelope) error { return nil }
func (NoOpPublisher) Close()                                                    {}
