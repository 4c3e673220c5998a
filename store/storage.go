// Package store persists routing rules and topic validation configs, and
// archives sampled events. Implementations share one contract: adds reject
// duplicate ids, updates require an existing id, deletes signal ErrNotFound
// for absent ids (callers decide whether that is an error), and per-topic
// lookups return an empty slice for unknown topics, never nil.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hatsunemiku3939/eventgateway/model"
)

var (
	ErrNotFound = errors.New("item not found")
	ErrConflict = errors.New("item already exists")
)

// EventRecord is an archived event together with its routing outcome.
type EventRecord struct {
	Event            model.Event `json:"event"`
	RoutingID        *uuid.UUID  `json:"routingId,omitempty"`
	DestinationTopic *string     `json:"destinationTopic,omitempty"`
	FailureReason    *string     `json:"failureReason,omitempty"`
	StoredAt         time.Time   `json:"storedAt"`
}

// Storage is the capability set backing the gateway. Implementations are
// safe for concurrent use; writes are serializable and readers see either
// the pre- or post-write state in full.
type Storage interface {
	AddRule(ctx context.Context, rule model.TopicRoutingRule) error
	GetRule(ctx context.Context, id uuid.UUID) (model.TopicRoutingRule, error)
	GetAllRules(ctx context.Context) ([]model.TopicRoutingRule, error)
	UpdateRule(ctx context.Context, id uuid.UUID, rule model.TopicRoutingRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error

	AddTopicValidation(ctx context.Context, v model.TopicValidationConfig) error
	GetAllTopicValidations(ctx context.Context) (map[string][]model.TopicValidationConfig, error)
	GetValidationsForTopic(ctx context.Context, topic string) ([]model.DataSchema, error)
	DeleteTopicValidation(ctx context.Context, id uuid.UUID) error

	StoreEvent(ctx context.Context, rec EventRecord) error
	GetSampleEvents(ctx context.Context, limit, offset int64) ([]model.Event, int64, error)
}

// schemasForTopic projects the validation configs of one topic onto their
// schemas. Unknown topics yield an empty slice.
func schemasForTopic(validations map[string][]model.TopicValidationConfig, topic string) []model.DataSchema {
	configs := validations[topic]
	schemas := make([]model.DataSchema, 0, len(configs))
	for _, c := range configs {
		schemas = append(schemas, c.Schema)
	}
	return schemas
}
