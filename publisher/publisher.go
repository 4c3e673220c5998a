// Package publisher delivers accepted events to a broker topic.
package publisher

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/model"
)

// ErrPublish wraps every broker-side delivery failure so callers can treat
// them uniformly.
var ErrPublish = errors.New("failed to publish event")

// Publisher sends one event to one topic. Implementations block until the
// broker acknowledges delivery or ctx expires.
type Publisher interface {
	PublishOne(ctx context.Context, topic string, event *model.Event) error
}

// NoOpPublisher logs events instead of delivering them. It is the default
// when no broker is configured and is handy in tests.
type NoOpPublisher struct {
	logger *zap.Logger
}

func NewNoOpPublisher(logger *zap.Logger) *NoOpPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoOpPublisher{logger: logger}
}

func (p *NoOpPublisher) PublishOne(_ context.Context, topic string, event *model.Event) error {
	p.logger.Info("publishing event",
		zap.String("topic", topic),
		zap.String("eventId", event.ID.String()),
		zap.String("eventType", event.EventType),
	)
	return nil
}
