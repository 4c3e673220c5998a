package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hatsunemiku3939/eventgateway/model"
)

// maxArchivedEvents bounds the in-memory event archive; the oldest records
// are dropped first.
const maxArchivedEvents = 1000

// InMemoryStorage is the authoritative, process-local storage variant.
// All writes happen under a single writer lock.
type InMemoryStorage struct {
	mu          sync.RWMutex
	rules       map[uuid.UUID]model.TopicRoutingRule
	validations map[string][]model.TopicValidationConfig
	events      []EventRecord
}

// initialData mirrors the JSON seed document accepted by
// NewInMemoryStorageFromJSON.
type initialData struct {
	RoutingRules     []model.TopicRoutingRule                 `json:"routing_rules"`
	TopicValidations map[string][]model.TopicValidationConfig `json:"topic_validations"`
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		rules:       make(map[uuid.UUID]model.TopicRoutingRule),
		validations: make(map[string][]model.TopicValidationConfig),
	}
}

// NewInMemoryStorageFromJSON seeds an in-memory store from a JSON document
// with routing_rules and topic_validations fields.
func NewInMemoryStorageFromJSON(data []byte) (*InMemoryStorage, error) {
	var seed initialData
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing initial data: %w", err)
	}
	s := NewInMemoryStorage()
	for _, rule := range seed.RoutingRules {
		s.rules[rule.ID] = rule
	}
	for topic, configs := range seed.TopicValidations {
		s.validations[topic] = configs
	}
	return s, nil
}

func (s *InMemoryStorage) AddRule(_ context.Context, rule model.TopicRoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrConflict)
	}
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryStorage) GetRule(_ context.Context, id uuid.UUID) (model.TopicRoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, exists := s.rules[id]
	if !exists {
		return model.TopicRoutingRule{}, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return rule, nil
}

func (s *InMemoryStorage) GetAllRules(_ context.Context) ([]model.TopicRoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]model.TopicRoutingRule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *InMemoryStorage) UpdateRule(_ context.Context, id uuid.UUID, rule model.TopicRoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	rule.ID = id
	s.rules[id] = rule
	return nil
}

func (s *InMemoryStorage) DeleteRule(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

func (s *InMemoryStorage) AddTopicValidation(_ context.Context, v model.TopicValidationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, configs := range s.validations {
		for _, existing := range configs {
			if existing.ID == v.ID {
				return fmt.Errorf("topic validation %s: %w", v.ID, ErrConflict)
			}
		}
	}
	topic := v.Topic.String()
	s.validations[topic] = append(s.validations[topic], v)
	return nil
}

func (s *InMemoryStorage) GetAllTopicValidations(_ context.Context) (map[string][]model.TopicValidationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.TopicValidationConfig, len(s.validations))
	for topic, configs := range s.validations {
		out[topic] = append([]model.TopicValidationConfig(nil), configs...)
	}
	return out, nil
}

func (s *InMemoryStorage) GetValidationsForTopic(_ context.Context, topic string) ([]model.DataSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schemasForTopic(s.validations, topic), nil
}

func (s *InMemoryStorage) DeleteTopicValidation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, configs := range s.validations {
		for i, existing := range configs {
			if existing.ID == id {
				s.validations[topic] = append(configs[:i:i], configs[i+1:]...)
				if len(s.validations[topic]) == 0 {
					delete(s.validations, topic)
				}
				return nil
			}
		}
	}
	return fmt.Errorf("topic validation %s: %w", id, ErrNotFound)
}

func (s *InMemoryStorage) StoreEvent(_ context.Context, rec EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	s.events = append(s.events, rec)
	if len(s.events) > maxArchivedEvents {
		s.events = s.events[len(s.events)-maxArchivedEvents:]
	}
	return nil
}

func (s *InMemoryStorage) GetSampleEvents(_ context.Context, limit, offset int64) ([]model.Event, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := int64(len(s.events))
	if offset >= total || limit <= 0 {
		return []model.Event{}, total, nil
	}
	// Newest first, to match the durable variant.
	events := make([]model.Event, 0, limit)
	for i := total - 1 - offset; i >= 0 && int64(len(events)) < limit; i-- {
		events = append(events, s.events[i].Event)
	}
	return events, total, nil
}
