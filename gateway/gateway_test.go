package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hatsunemiku3939/eventgateway/model"
	"github.com/hatsunemiku3939/eventgateway/store"
)

// --- Mocks ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOne(ctx context.Context, topic string, event *model.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

// --- Test Helper Functions ---

func strp(s string) *string { return &s }

func newTestRule(t *testing.T, order int32, topic string, typeCond model.Condition) model.TopicRoutingRule {
	t.Helper()
	parsed, err := model.NewTopic(topic)
	require.NoError(t, err)
	return model.TopicRoutingRule{
		ID:                 uuid.New(),
		Order:              order,
		Topic:              parsed,
		EventTypeCondition: typeCond,
	}
}

func newTestEvent(eventType string, data model.Data) *model.Event {
	return &model.Event{
		ID:        uuid.New(),
		EventType: eventType,
		Data:      data,
	}
}

func newUserSchemaValidation(t *testing.T, topic string) model.TopicValidationConfig {
	t.Helper()
	js, err := model.NewJSONSchema([]byte(`{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"properties": {
			"userId": { "type": "string" },
			"username": { "type": "string" }
		},
		"required": ["userId", "username"]
	}`))
	require.NoError(t, err)
	parsed, err := model.NewTopic(topic)
	require.NoError(t, err)
	return model.TopicValidationConfig{
		ID:    uuid.New(),
		Topic: parsed,
		Schema: model.DataSchema{
			Name:      "user-schema",
			Schema:    model.NewJSONVariant(js),
			EventType: "user.created",
		},
	}
}

// newTestGateway builds a gateway over an in-memory store and a mock
// publisher seeded with the given rules and validations.
func newTestGateway(t *testing.T, rules []model.TopicRoutingRule, validations []model.TopicValidationConfig, opts ...Option) (*EventGateway, *mockPublisher, *store.InMemoryStorage) {
	t.Helper()
	storage := store.NewInMemoryStorage()
	ctx := context.Background()
	for _, rule := range rules {
		require.NoError(t, storage.AddRule(ctx, rule))
	}
	for _, v := range validations {
		require.NoError(t, storage.AddTopicValidation(ctx, v))
	}
	pub := &mockPublisher{}
	return New(storage, pub, nil, opts...), pub, storage
}

// --- Test Cases ---

func TestHandlePublishesToRoutedTopic(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.One(model.StartsWith("user.")))
	gw, pub, _ := newTestGateway(t, []model.TopicRoutingRule{rule}, nil)
	event := newTestEvent("user.created", model.StringData("payload"))
	pub.On("PublishOne", mock.Anything, "user-events", event).Return(nil)

	require.NoError(t, gw.Handle(context.Background(), event))
	pub.AssertExpectations(t)
}

func TestHandleNoMatchingRule(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.One(model.StartsWith("user.")))
	gw, pub, _ := newTestGateway(t, []model.TopicRoutingRule{rule}, nil)

	err := gw.Handle(context.Background(), newTestEvent("order.created", model.StringData("x")))
	assert.ErrorIs(t, err, ErrNoTopicToRoute)
	pub.AssertNotCalled(t, "PublishOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleValidPayloadPassesSchema(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.Any())
	v := newUserSchemaValidation(t, "user-events")
	gw, pub, _ := newTestGateway(t, []model.TopicRoutingRule{rule}, []model.TopicValidationConfig{v})

	event := newTestEvent("user.created", model.JSONData(map[string]any{
		"userId": "42", "username": "alice",
	}))
	pub.On("PublishOne", mock.Anything, "user-events", event).Return(nil)

	require.NoError(t, gw.Handle(context.Background(), event))
	pub.AssertExpectations(t)
}

func TestHandleInvalidPayloadFailsSchema(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.Any())
	v := newUserSchemaValidation(t, "user-events")
	gw, pub, _ := newTestGateway(t, []model.TopicRoutingRule{rule}, []model.TopicValidationConfig{v})

	event := newTestEvent("user.created", model.JSONData(map[string]any{"userId": "42"}))
	err := gw.Handle(context.Background(), event)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaInvalid)

	var invalid *SchemaInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "user-schema", invalid.SchemaName)
	assert.Contains(t, invalid.Reason, "username")

	pub.AssertNotCalled(t, "PublishOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleSchemaSelectionByTypeAndVersion(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.Any())
	v := newUserSchemaValidation(t, "user-events")
	gw, pub, _ := newTestGateway(t, []model.TopicRoutingRule{rule}, []model.TopicValidationConfig{v})

	// The schema is bound to user.created; other event types on the same
	// topic are not validated against it.
	event := newTestEvent("user.deleted", model.JSONData(map[string]any{"unrelated": true}))
	pub.On("PublishOne", mock.Anything, "user-events", event).Return(nil)
	require.NoError(t, gw.Handle(context.Background(), event))

	// A versioned event does not select the versionless schema either.
	versioned := newTestEvent("user.created", model.JSONData(map[string]any{"userId": "42"}))
	versioned.EventVersion = strp("2.0")
	pub.On("PublishOne", mock.Anything, "user-events", versioned).Return(nil)
	require.NoError(t, gw.Handle(context.Background(), versioned))

	pub.AssertExpectations(t)
}

func TestHandleNonJSONPayloadSkipsValidation(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.Any())
	v := newUserSchemaValidation(t, "user-events")
	gw, pub, _ := newTestGateway(t, []model.TopicRoutingRule{rule}, []model.TopicValidationConfig{v})

	event := newTestEvent("user.created", model.BinaryData([]byte{0x01, 0x02}))
	pub.On("PublishOne", mock.Anything, "user-events", event).Return(nil)

	require.NoError(t, gw.Handle(context.Background(), event))
	pub.AssertExpectations(t)
}

func TestHandlePublisherFailureIsInternal(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.Any())
	gw, pub, _ := newTestGateway(t, []model.TopicRoutingRule{rule}, nil)
	pub.On("PublishOne", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := gw.Handle(context.Background(), newTestEvent("user.created", model.StringData("x")))
	assert.ErrorIs(t, err, ErrInternal)
}

func TestHandleFirstMatchingRuleDecidesTopic(t *testing.T) {
	specific := newTestRule(t, 1, "user-events", model.One(model.Equals("user.created")))
	catchAll := newTestRule(t, 2, "firehose", model.Any())
	gw, pub, _ := newTestGateway(t, []model.TopicRoutingRule{catchAll, specific}, nil)

	event := newTestEvent("user.created", model.StringData("x"))
	pub.On("PublishOne", mock.Anything, "user-events", event).Return(nil)
	require.NoError(t, gw.Handle(context.Background(), event))
	pub.AssertExpectations(t)
}

func TestHandleSamplingArchivesEvents(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.Any())
	gw, pub, storage := newTestGateway(t, []model.TopicRoutingRule{rule}, nil, WithSampling(100))
	pub.On("PublishOne", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	event := newTestEvent("user.created", model.StringData("x"))
	require.NoError(t, gw.Handle(context.Background(), event))

	events, total, err := storage.GetSampleEvents(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
}

func TestHandleSamplingZeroThresholdArchivesNothing(t *testing.T) {
	rule := newTestRule(t, 1, "user-events", model.Any())
	gw, pub, storage := newTestGateway(t, []model.TopicRoutingRule{rule}, nil, WithSampling(0))
	pub.On("PublishOne", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, gw.Handle(context.Background(), newTestEvent("user.created", model.StringData("x"))))

	_, total, err := storage.GetSampleEvents(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestAdminOperationsPassThrough(t *testing.T) {
	ctx := context.Background()
	gw, _, _ := newTestGateway(t, nil, nil)

	rule := newTestRule(t, 1, "orders", model.Any())
	require.NoError(t, gw.AddRoutingRule(ctx, rule))
	assert.ErrorIs(t, gw.AddRoutingRule(ctx, rule), store.ErrConflict)

	got, err := gw.GetRoutingRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, rule.Equal(got))

	rules, err := gw.GetRoutingRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, gw.DeleteRoutingRule(ctx, rule.ID))
	assert.ErrorIs(t, gw.UpdateRoutingRule(ctx, rule.ID, rule), store.ErrNotFound)
}

func TestGetRoutingRulesAreOrdered(t *testing.T) {
	ctx := context.Background()
	high := newTestRule(t, 10, "low-priority", model.Any())
	low := newTestRule(t, 1, "high-priority", model.Any())
	gw, _, _ := newTestGateway(t, []model.TopicRoutingRule{high, low}, nil)

	rules, err := gw.GetRoutingRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, low.ID, rules[0].ID)
}
