package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hatsunemiku3939/eventgateway/model"
)

// MeteredGateway decorates a Gateway with Prometheus instrumentation on the
// ingestion path. Admin operations pass through unmeasured.
type MeteredGateway struct {
	inner Gateway

	eventsTotal      *prometheus.CounterVec
	handlingDuration *prometheus.HistogramVec
}

// NewMeteredGateway registers the gateway metrics on reg and returns the
// decorated gateway.
func NewMeteredGateway(inner Gateway, reg prometheus.Registerer) (*MeteredGateway, error) {
	g := &MeteredGateway{
		inner: inner,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_total",
			Help: "Events handled by the gateway, by type, version, source, and outcome.",
		}, []string{"event_type", "event_version", "source", "result"}),
		handlingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "event_handling_duration_seconds",
			Help:    "Time spent handling events, by pipeline step.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
	}
	for _, c := range []prometheus.Collector{g.eventsTotal, g.handlingDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *MeteredGateway) Handle(ctx context.Context, event *model.Event) error {
	start := time.Now()
	err := g.inner.Handle(ctx, event)
	g.handlingDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	g.eventsTotal.WithLabelValues(
		event.EventType,
		event.Version(),
		originOf(event),
		resultLabel(err),
	).Inc()
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSchemaInvalid):
		return "schema_invalid"
	case errors.Is(err, ErrNoTopicToRoute):
		return "no_route"
	default:
		return "internal_error"
	}
}

func originOf(event *model.Event) string {
	if event.Origin == nil {
		return "unknown"
	}
	return *event.Origin
}

func (g *MeteredGateway) AddRoutingRule(ctx context.Context, rule model.TopicRoutingRule) error {
	return g.inner.AddRoutingRule(ctx, rule)
}

func (g *MeteredGateway) GetRoutingRule(ctx context.Context, id uuid.UUID) (model.TopicRoutingRule, error) {
	return g.inner.GetRoutingRule(ctx, id)
}

func (g *MeteredGateway) GetRoutingRules(ctx context.Context) ([]model.TopicRoutingRule, error) {
	return g.inner.GetRoutingRules(ctx)
}

func (g *MeteredGateway) UpdateRoutingRule(ctx context.Context, id uuid.UUID, rule model.TopicRoutingRule) error {
	return g.inner.UpdateRoutingRule(ctx, id, rule)
}

func (g *MeteredGateway) DeleteRoutingRule(ctx context.Context, id uuid.UUID) error {
	return g.inner.DeleteRoutingRule(ctx, id)
}

func (g *MeteredGateway) AddTopicValidation(ctx context.Context, v model.TopicValidationConfig) error {
	return g.inner.AddTopicValidation(ctx, v)
}

func (g *MeteredGateway) GetTopicValidations(ctx context.Context) (map[string][]model.TopicValidationConfig, error) {
	return g.inner.GetTopicValidations(ctx)
}

func (g *MeteredGateway) DeleteTopicValidation(ctx context.Context, id uuid.UUID) error {
	return g.inner.DeleteTopicValidation(ctx, id)
}

func (g *MeteredGateway) GetSampleEvents(ctx context.Context, limit, offset int64) ([]model.Event, int64, error) {
	return g.inner.GetSampleEvents(ctx, limit, offset)
}
