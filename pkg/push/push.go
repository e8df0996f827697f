package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrPushDisabled signals that push delivery is disabled via configuration.
var ErrPushDisabled = errors.New("push: delivery disabled")

// Message is the payload handed to the push gateway.
type Message struct {
	IdempotencyKey string    `json:"idempotency_key"`
	RecipientID    string    `json:"recipient_id"`
	NotificationID string    `json:"notification_id"`
	Type           string    `json:"type"`
	Priority       string    `json:"priority"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Link           string    `json:"link,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Publisher hands push messages to the gateway.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// KafkaSettings configure the Kafka-backed publisher.
type KafkaSettings struct {
	Enabled bool
	Brokers []string
	Topic   string
	Timeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	enabled bool
	writer  messageWriter
}

// NewKafkaPublisher builds a Publisher writing to the configured topic. The
// message key is the idempotency key so the gateway can drop redelivered
// retries.
func NewKafkaPublisher(cfg KafkaSettings) (Publisher, error) {
	if !cfg.Enabled {
		return &kafkaPublisher{}, nil
	}

	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("push: at least one kafka broker is required when enabled")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("push: kafka topic is required when enabled")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &kafkaPublisher{
		enabled: true,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           timeout,
			AllowAutoTopicCreation: false,
		},
	}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if !p.enabled || p.writer == nil {
		return ErrPushDisabled
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(msg.RecipientID) == "" {
		return errors.New("push: recipient id is required")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("push: marshal message: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.IdempotencyKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "recipient_id", Value: []byte(msg.RecipientID)},
			{Key: "priority", Value: []byte(msg.Priority)},
		},
	}); err != nil {
		return fmt.Errorf("push: write message: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
