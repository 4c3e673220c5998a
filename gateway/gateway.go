// Package gateway implements the event ingestion pipeline: look up the
// routing rules, pick a destination topic, validate the payload against the
// topic's schemas, and publish.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/model"
	"github.com/hatsunemiku3939/eventgateway/publisher"
	"github.com/hatsunemiku3939/eventgateway/router"
	"github.com/hatsunemiku3939/eventgateway/store"
)

// storageReadTimeout bounds the hot-path storage reads so a slow backend
// degrades into an internal error instead of holding the request open.
const storageReadTimeout = 500 * time.Millisecond

// Pipeline outcomes. Handle returns exactly one of these (or nil); the HTTP
// layer maps them onto status codes.
var (
	ErrSchemaInvalid  = errors.New("event payload failed schema validation")
	ErrNoTopicToRoute = errors.New("no routing rule matched the event")
	ErrInternal       = errors.New("internal gateway error")
)

// SchemaInvalidError carries which schema rejected the payload and why.
// It unwraps to ErrSchemaInvalid.
type SchemaInvalidError struct {
	SchemaName string
	Reason     string
}

func (e *SchemaInvalidError) Error() string {
	return fmt.Sprintf("schema %q rejected the payload: %s", e.SchemaName, e.Reason)
}

func (e *SchemaInvalidError) Unwrap() error { return ErrSchemaInvalid }

// Gateway is the full capability set exposed over HTTP: the ingestion
// pipeline plus administration of rules, validations, and the event archive.
type Gateway interface {
	Handle(ctx context.Context, event *model.Event) error

	AddRoutingRule(ctx context.Context, rule model.TopicRoutingRule) error
	GetRoutingRule(ctx context.Context, id uuid.UUID) (model.TopicRoutingRule, error)
	GetRoutingRules(ctx context.Context) ([]model.TopicRoutingRule, error)
	UpdateRoutingRule(ctx context.Context, id uuid.UUID, rule model.TopicRoutingRule) error
	DeleteRoutingRule(ctx context.Context, id uuid.UUID) error

	AddTopicValidation(ctx context.Context, v model.TopicValidationConfig) error
	GetTopicValidations(ctx context.Context) (map[string][]model.TopicValidationConfig, error)
	DeleteTopicValidation(ctx context.Context, id uuid.UUID) error

	GetSampleEvents(ctx context.Context, limit, offset int64) ([]model.Event, int64, error)
}

// EventGateway wires storage and a publisher into the pipeline.
type EventGateway struct {
	storage   store.Storage
	publisher publisher.Publisher
	logger    *zap.Logger

	samplingEnabled   bool
	samplingThreshold uint8
}

// Option configures an EventGateway.
type Option func(*EventGateway)

// WithSampling archives roughly threshold percent of handled events.
// A threshold of 100 archives everything.
func WithSampling(threshold uint8) Option {
	return func(g *EventGateway) {
		g.samplingEnabled = true
		if threshold > 100 {
			threshold = 100
		}
		g.samplingThreshold = threshold
	}
}

func New(storage store.Storage, pub publisher.Publisher, logger *zap.Logger, opts ...Option) *EventGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &EventGateway{storage: storage, publisher: pub, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle runs one event through the pipeline. It returns nil on successful
// publish, ErrNoTopicToRoute when no rule matches, a SchemaInvalidError when
// a topic schema rejects the payload, and ErrInternal for storage or broker
// failures.
func (g *EventGateway) Handle(ctx context.Context, event *model.Event) error {
	rules, err := g.loadRules(ctx)
	if err != nil {
		return err
	}

	rule, ok := router.NewTopicRoutings(rules).Route(event)
	if !ok {
		g.logger.Debug("no routing rule matched",
			zap.String("eventId", event.ID.String()),
			zap.String("eventType", event.EventType),
		)
		g.sample(ctx, event, nil, strPtr("no routing rule matched"))
		return ErrNoTopicToRoute
	}

	topic := rule.Topic.String()
	if err := g.validateForTopic(ctx, event, topic); err != nil {
		var invalid *SchemaInvalidError
		if errors.As(err, &invalid) {
			g.sample(ctx, event, rule, strPtr(invalid.Reason))
		}
		return err
	}

	// Delivery must not be cut short by the client hanging up mid-request.
	if err := g.publisher.PublishOne(context.WithoutCancel(ctx), topic, event); err != nil {
		g.logger.Error("publish failed",
			zap.String("eventId", event.ID.String()),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	g.sample(ctx, event, rule, nil)
	return nil
}

func (g *EventGateway) loadRules(ctx context.Context) ([]model.TopicRoutingRule, error) {
	readCtx, cancel := context.WithTimeout(ctx, storageReadTimeout)
	defer cancel()
	rules, err := g.storage.GetAllRules(readCtx)
	if err != nil {
		g.logger.Error("loading routing rules failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return rules, nil
}

// validateForTopic checks the event payload against every schema registered
// for the topic that applies to the event's type and version. Only JSON
// payloads are validated; string and binary payloads pass through.
func (g *EventGateway) validateForTopic(ctx context.Context, event *model.Event, topic string) error {
	readCtx, cancel := context.WithTimeout(ctx, storageReadTimeout)
	defer cancel()
	schemas, err := g.storage.GetValidationsForTopic(readCtx, topic)
	if err != nil {
		g.logger.Error("loading topic validations failed",
			zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if event.Data.Type() != model.DataTypeJSON {
		return nil
	}
	payload := event.Data.JSONValue()
	for _, schema := range schemas {
		if !schema.AppliesTo(event.EventType, event.EventVersion) {
			continue
		}
		if err := schema.Schema.Validate(payload); err != nil {
			g.logger.Debug("schema rejected event",
				zap.String("eventId", event.ID.String()),
				zap.String("schema", schema.Name),
				zap.Error(err),
			)
			return &SchemaInvalidError{SchemaName: schema.Name, Reason: err.Error()}
		}
	}
	return nil
}

// sample archives the event and its routing outcome when sampling selects
// it. Archive failures are logged and swallowed: the pipeline outcome never
// depends on the archive.
func (g *EventGateway) sample(ctx context.Context, event *model.Event, rule *model.TopicRoutingRule, failureReason *string) {
	if !g.samplingEnabled {
		return
	}
	if rand.Intn(100) >= int(g.samplingThreshold) {
		return
	}
	rec := store.EventRecord{
		Event:         *event,
		FailureReason: failureReason,
		StoredAt:      time.Now().UTC(),
	}
	if rule != nil {
		id := rule.ID
		topic := rule.Topic.String()
		rec.RoutingID = &id
		rec.DestinationTopic = &topic
	}
	if err := g.storage.StoreEvent(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Warn("archiving sampled event failed",
			zap.String("eventId", event.ID.String()), zap.Error(err))
	}
}

// --- Administration ---

func (g *EventGateway) AddRoutingRule(ctx context.Context, rule model.TopicRoutingRule) error {
	return g.storage.AddRule(ctx, rule)
}

func (g *EventGateway) GetRoutingRule(ctx context.Context, id uuid.UUID) (model.TopicRoutingRule, error) {
	return g.storage.GetRule(ctx, id)
}

// GetRoutingRules returns the rules in evaluation order.
func (g *EventGateway) GetRoutingRules(ctx context.Context) ([]model.TopicRoutingRule, error) {
	rules, err := g.storage.GetAllRules(ctx)
	if err != nil {
		return nil, err
	}
	return router.NewTopicRoutings(rules).Rules(), nil
}

func (g *EventGateway) UpdateRoutingRule(ctx context.Context, id uuid.UUID, rule model.TopicRoutingRule) error {
	return g.storage.UpdateRule(ctx, id, rule)
}

func (g *EventGateway) DeleteRoutingRule(ctx context.Context, id uuid.UUID) error {
	return g.storage.DeleteRule(ctx, id)
}

func (g *EventGateway) AddTopicValidation(ctx context.Context, v model.TopicValidationConfig) error {
	return g.storage.AddTopicValidation(ctx, v)
}

func (g *EventGateway) GetTopicValidations(ctx context.Context) (map[string][]model.TopicValidationConfig, error) {
	return g.storage.GetAllTopicValidations(ctx)
}

func (g *EventGateway) DeleteTopicValidation(ctx context.Context, id uuid.UUID) error {
	return g.storage.DeleteTopicValidation(ctx, id)
}

func (g *EventGateway) GetSampleEvents(ctx context.Context, limit, offset int64) ([]model.Event, int64, error) {
	return g.storage.GetSampleEvents(ctx, limit, offset)
}

func strPtr(s string) *string { return &s }
