package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/model"
)

// KafkaConfig mirrors the broker section of the gateway configuration.
type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers"`
	ClientID           string   `mapstructure:"client_id"`
	Compression        string   `mapstructure:"compression"`
	RequiredAcks       string   `mapstructure:"required_acks"`
	ConnIdleTimeoutMS  int      `mapstructure:"conn_idle_timeout_ms"`
	MessageTimeoutMS   int      `mapstructure:"message_timeout_ms"`
	AckTimeoutMS       int      `mapstructure:"ack_timeout_ms"`
	MetadataFieldAsKey *string  `mapstructure:"metadata_field_as_key"`
}

// messageWriter is the slice of kafka.Writer the publisher needs; tests
// substitute a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher delivers events as JSON messages. The partition key is
// taken from a configured metadata field when present, otherwise the event
// id, so related events land on the same partition.
type KafkaPublisher struct {
	writer   messageWriter
	keyField *string
	logger   *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	acks, err := parseRequiredAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}

	transport := &kafka.Transport{
		ClientID:    cfg.ClientID,
		IdleTimeout: durationOrDefault(cfg.ConnIdleTimeoutMS, 30*time.Second),
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		Compression:  compression,
		RequiredAcks: acks,
		WriteTimeout: durationOrDefault(cfg.MessageTimeoutMS, 10*time.Second),
		ReadTimeout:  durationOrDefault(cfg.AckTimeoutMS, 10*time.Second),
		Transport:    transport,
	}
	return &KafkaPublisher{writer: writer, keyField: cfg.MetadataFieldAsKey, logger: logger}, nil
}

func (p *KafkaPublisher) PublishOne(ctx context.Context, topic string, event *model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: serializing event %s: %v", ErrPublish, event.ID, err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   p.messageKey(event),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	p.logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("eventId", event.ID.String()),
	)
	return nil
}

// Close flushes buffered messages and releases connections.
func (p *KafkaPublisher) Close() error { return p.writer.Close() }

func (p *KafkaPublisher) messageKey(event *model.Event) []byte {
	if p.keyField != nil {
		if v, ok := event.Metadata[*p.keyField]; ok && v != "" {
			return []byte(v)
		}
	}
	return []byte(event.ID.String())
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		// Zero value disables compression.
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	default:
		return 0, fmt.Errorf("kafka publisher: unknown compression %q", name)
	}
}

func parseRequiredAcks(name string) (kafka.RequiredAcks, error) {
	switch name {
	case "none":
		return kafka.RequireNone, nil
	case "", "one":
		return kafka.RequireOne, nil
	case "all":
		return kafka.RequireAll, nil
	default:
		return 0, fmt.Errorf("kafka publisher: unknown required_acks %q", name)
	}
}

func durationOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
