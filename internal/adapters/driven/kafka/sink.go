// Package kafka publishes change events to a Kafka topic.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EventSink = (*Sink)(nil)

// DefaultBatchTimeout bounds how long Emit waits for a batch to fill. Emit
// writes one message per call, so a long timeout would delay every event.
const DefaultBatchTimeout = 10 * time.Millisecond

// Config holds producer configuration.
type Config struct {
	Brokers []string
	Topic   string

	// BatchSize tunes the writer's batching (kafka-go default when zero).
	// BatchTimeout defaults to DefaultBatchTimeout when zero.
	BatchSize    int
	BatchTimeout time.Duration

	// SASLMechanism is "", "plain", "scram-sha-256" or "scram-sha-512"
	SASLMechanism string
	Username      string
	Password      string
	TLS           bool
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes each event as one message keyed by subscription id, so all events
// of a subscription land on the same partition in emission order.
type Sink struct {
	writer messageWriter
}

// NewSink creates a Sink with a kafka-go writer built from cfg.
func NewSink(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	transport := &kafka.Transport{}
	mechanism, err := saslMechanism(cfg)
	if err != nil {
		return nil, err
	}
	transport.SASL = mechanism
	if cfg.TLS {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return newSink(newWriter(cfg, transport)), nil
}

func newWriter(cfg Config, transport kafka.RoundTripper) *kafka.Writer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

func newSink(w messageWriter) *Sink {
	return &Sink{writer: w}
}

func saslMechanism(cfg Config) (sasl.Mechanism, error) {
	switch strings.ToLower(cfg.SASLMechanism) {
	case "":
		return nil, nil
	case "plain":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "scram-sha-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "scram-sha-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("kafka: unsupported SASL mechanism %q", cfg.SASLMechanism)
	}
}

// Emit publishes the event. The event name travels as a header so consumers can
// route without decoding the body.
func (s *Sink) Emit(ctx context.Context, event *domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.SubscriptionID),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafka.Header{
			{Key: "event_name", Value: []byte(event.Name)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Name, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
