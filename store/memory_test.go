package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatsunemiku3939/eventgateway/model"
)

// --- Test Helper Functions ---

func newTestRule(t *testing.T, order int32, topic string) model.TopicRoutingRule {
	t.Helper()
	parsed, err := model.NewTopic(topic)
	require.NoError(t, err)
	return model.TopicRoutingRule{
		ID:                 uuid.New(),
		Order:              order,
		Topic:              parsed,
		EventTypeCondition: model.Any(),
	}
}

func newTestValidation(t *testing.T, topic, eventType string) model.TopicValidationConfig {
	t.Helper()
	parsed, err := model.NewTopic(topic)
	require.NoError(t, err)
	js, err := model.NewJSONSchema([]byte(`{"type":"object"}`))
	require.NoError(t, err)
	return model.TopicValidationConfig{
		ID:    uuid.New(),
		Topic: parsed,
		Schema: model.DataSchema{
			Name:      eventType + "-schema",
			Schema:    model.NewJSONVariant(js),
			EventType: eventType,
		},
	}
}

func newTestRecord(eventType string) EventRecord {
	return EventRecord{
		Event: model.Event{
			ID:        uuid.New(),
			EventType: eventType,
			Data:      model.StringData("payload"),
		},
	}
}

// --- Test Cases ---

func TestInMemoryRuleCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()
	rule := newTestRule(t, 1, "orders")

	require.NoError(t, s.AddRule(ctx, rule))

	got, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, rule.Equal(got))

	all, err := s.GetAllRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	updated := rule
	updated.Order = 5
	require.NoError(t, s.UpdateRule(ctx, rule.ID, updated))
	got, err = s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(5), got.Order)

	require.NoError(t, s.DeleteRule(ctx, rule.ID))
	_, err = s.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryAddRuleRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()
	rule := newTestRule(t, 1, "orders")

	require.NoError(t, s.AddRule(ctx, rule))
	assert.ErrorIs(t, s.AddRule(ctx, rule), ErrConflict)
}

func TestInMemoryUpdateMissingRule(t *testing.T) {
	s := NewInMemoryStorage()
	rule := newTestRule(t, 1, "orders")
	assert.ErrorIs(t, s.UpdateRule(context.Background(), rule.ID, rule), ErrNotFound)
}

func TestInMemoryDeleteMissingRule(t *testing.T) {
	s := NewInMemoryStorage()
	assert.ErrorIs(t, s.DeleteRule(context.Background(), uuid.New()), ErrNotFound)
}

func TestInMemoryTopicValidations(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()
	v := newTestValidation(t, "orders", "order.created")

	require.NoError(t, s.AddTopicValidation(ctx, v))
	assert.ErrorIs(t, s.AddTopicValidation(ctx, v), ErrConflict)

	all, err := s.GetAllTopicValidations(ctx)
	require.NoError(t, err)
	assert.Len(t, all["orders"], 1)

	schemas, err := s.GetValidationsForTopic(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "order.created-schema", schemas[0].Name)

	require.NoError(t, s.DeleteTopicValidation(ctx, v.ID))
	assert.ErrorIs(t, s.DeleteTopicValidation(ctx, v.ID), ErrNotFound)
}

func TestInMemoryValidationsForUnknownTopic(t *testing.T) {
	schemas, err := NewInMemoryStorage().GetValidationsForTopic(context.Background(), "nope")
	require.NoError(t, err)
	require.NotNil(t, schemas, "unknown topics must yield an empty slice, not nil")
	assert.Empty(t, schemas)
}

func TestInMemoryEventArchive(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.StoreEvent(ctx, newTestRecord(fmt.Sprintf("event.%d", i))))
	}

	events, total, err := s.GetSampleEvents(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, events, 2)
	assert.Equal(t, "event.4", events[0].EventType, "newest first")
	assert.Equal(t, "event.3", events[1].EventType)

	events, total, err = s.GetSampleEvents(ctx, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, events, 1)
	assert.Equal(t, "event.0", events[0].EventType)

	events, _, err = s.GetSampleEvents(ctx, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestInMemoryEventArchiveIsBounded(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()
	for i := 0; i < maxArchivedEvents+10; i++ {
		require.NoError(t, s.StoreEvent(ctx, newTestRecord("event.flood")))
	}
	_, total, err := s.GetSampleEvents(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(maxArchivedEvents), total)
}

func TestNewInMemoryStorageFromJSON(t *testing.T) {
	seed := `{
		"routing_rules": [{
			"id": "0e41a4ba-5f4a-40f0-9bfd-9b33423f7c1d",
			"order": 1,
			"topic": "orders",
			"eventTypeCondition": "any"
		}],
		"topic_validations": {
			"orders": [{
				"id": "1e41a4ba-5f4a-40f0-9bfd-9b33423f7c1d",
				"topic": "orders",
				"schema": {
					"name": "order-schema",
					"schema": {"type": "json", "data": {"type": "object"}},
					"event_type": "order.created"
				}
			}]
		}
	}`
	s, err := NewInMemoryStorageFromJSON([]byte(seed))
	require.NoError(t, err)

	rules, err := s.GetAllRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	schemas, err := s.GetValidationsForTopic(context.Background(), "orders")
	require.NoError(t, err)
	assert.Len(t, schemas, 1)
}

func TestNewInMemoryStorageFromJSONRejectsGarbage(t *testing.T) {
	_, err := NewInMemoryStorageFromJSON([]byte(`{not json`))
	assert.Error(t, err)
}
