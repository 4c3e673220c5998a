package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/model"
)

// --- Test Helper Functions ---

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func newTestEvent(metadata map[string]string) *model.Event {
	return &model.Event{
		ID:        uuid.New(),
		EventType: "user.created",
		Metadata:  metadata,
		Data:      model.StringData("payload"),
	}
}

// --- Test Cases ---

func TestKafkaPublishOne(t *testing.T) {
	writer := &fakeWriter{}
	pub := &KafkaPublisher{writer: writer, logger: zap.NewNop()}
	event := newTestEvent(nil)

	require.NoError(t, pub.PublishOne(context.Background(), "user-events", event))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "user-events", msg.Topic)
	assert.Equal(t, event.ID.String(), string(msg.Key), "the event id is the default key")

	var decoded model.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "payload", decoded.Data.StringValue())
}

func TestKafkaMetadataFieldAsKey(t *testing.T) {
	field := "tenant"
	writer := &fakeWriter{}
	pub := &KafkaPublisher{writer: writer, keyField: &field, logger: zap.NewNop()}

	// The configured metadata field keys the message.
	event := newTestEvent(map[string]string{"tenant": "acme"})
	require.NoError(t, pub.PublishOne(context.Background(), "t", event))
	assert.Equal(t, "acme", string(writer.messages[0].Key))

	// Absent field falls back to the event id.
	fallback := newTestEvent(map[string]string{"other": "x"})
	require.NoError(t, pub.PublishOne(context.Background(), "t", fallback))
	assert.Equal(t, fallback.ID.String(), string(writer.messages[1].Key))
}

func TestKafkaPublishWrapsBrokerErrors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	pub := &KafkaPublisher{writer: writer, logger: zap.NewNop()}

	err := pub.PublishOne(context.Background(), "t", newTestEvent(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublish)
}

func TestNewKafkaPublisherConfigValidation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{}, nil)
	assert.Error(t, err, "brokers are required")

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Compression: "lz5"}, nil)
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, RequiredAcks: "most"}, nil)
	assert.Error(t, err)

	pub, err := NewKafkaPublisher(KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Compression:  "snappy",
		RequiredAcks: "all",
	}, nil)
	require.NoError(t, err)
	assert.NoError(t, pub.Close())
}

func TestParseRequiredAcks(t *testing.T) {
	tests := []struct {
		in   string
		want kafka.RequiredAcks
	}{
		{"none", kafka.RequireNone},
		{"one", kafka.RequireOne},
		{"all", kafka.RequireAll},
		{"", kafka.RequireOne},
	}
	for _, tt := range tests {
		got, err := parseRequiredAcks(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
