package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/model"
)

const mqttConnectTimeout = 10 * time.Second

// MQTTConfig mirrors the broker section of the gateway configuration.
type MQTTConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	ClientID      string `mapstructure:"client_id"`
	KeepAliveSecs int    `mapstructure:"keep_alive_secs"`
	CleanSession  bool   `mapstructure:"clean_session"`
	QoS           string `mapstructure:"qos"`
	Retain        bool   `mapstructure:"retain"`
}

func parseQoS(name string) (byte, error) {
	switch name {
	case "", "atMostOnce":
		return 0, nil
	case "atLeastOnce":
		return 1, nil
	case "exactlyOnce":
		return 2, nil
	default:
		return 0, fmt.Errorf("mqtt publisher: unknown qos %q", name)
	}
}

// MQTTPublisher delivers events as JSON payloads over MQTT.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	retain bool
	logger *zap.Logger
}

func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	qos, err := parseQoS(cfg.QoS)
	if err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(cfg.CleanSession).
		SetAutoReconnect(true)
	if cfg.KeepAliveSecs > 0 {
		opts.SetKeepAlive(time.Duration(cfg.KeepAliveSecs) * time.Second)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt publisher: connect to %s:%d timed out", cfg.Host, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt publisher: connecting to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &MQTTPublisher{client: client, qos: qos, retain: cfg.Retain, logger: logger}, nil
}

func (p *MQTTPublisher) PublishOne(ctx context.Context, topic string, event *model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: serializing event %s: %v", ErrPublish, event.ID, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrPublish, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	p.logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("eventId", event.ID.String()),
	)
	return nil
}

// Close disconnects from the broker, allowing in-flight messages to drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
