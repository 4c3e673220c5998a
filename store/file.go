package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hatsunemiku3939/eventgateway/model"
)

// FileStorage persists the entire state as one JSON document. Every write
// re-reads, mutates, and truncate-rewrites the file under a lock; it is
// meant for single-process, low-volume setups.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

type fileDatabase struct {
	Rules            map[uuid.UUID]model.TopicRoutingRule     `json:"rules"`
	TopicValidations map[string][]model.TopicValidationConfig `json:"topic_validations"`
	Events           []EventRecord                            `json:"events,omitempty"`
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) readDatabase() (*fileDatabase, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return &fileDatabase{
			Rules:            make(map[uuid.UUID]model.TopicRoutingRule),
			TopicValidations: make(map[string][]model.TopicValidationConfig),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	var db fileDatabase
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if db.Rules == nil {
		db.Rules = make(map[uuid.UUID]model.TopicRoutingRule)
	}
	if db.TopicValidations == nil {
		db.TopicValidations = make(map[string][]model.TopicValidationConfig)
	}
	return &db, nil
}

func (s *FileStorage) writeDatabase(db *fileDatabase) error {
	data, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("serializing database: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStorage) AddRule(_ context.Context, rule model.TopicRoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return err
	}
	if _, exists := db.Rules[rule.ID]; exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrConflict)
	}
	db.Rules[rule.ID] = rule
	return s.writeDatabase(db)
}

func (s *FileStorage) GetRule(_ context.Context, id uuid.UUID) (model.TopicRoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return model.TopicRoutingRule{}, err
	}
	rule, exists := db.Rules[id]
	if !exists {
		return model.TopicRoutingRule{}, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return rule, nil
}

func (s *FileStorage) GetAllRules(_ context.Context) ([]model.TopicRoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return nil, err
	}
	rules := make([]model.TopicRoutingRule, 0, len(db.Rules))
	for _, rule := range db.Rules {
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *FileStorage) UpdateRule(_ context.Context, id uuid.UUID, rule model.TopicRoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return err
	}
	if _, exists := db.Rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	rule.ID = id
	db.Rules[id] = rule
	return s.writeDatabase(db)
}

func (s *FileStorage) DeleteRule(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return err
	}
	if _, exists := db.Rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	delete(db.Rules, id)
	return s.writeDatabase(db)
}

func (s *FileStorage) AddTopicValidation(_ context.Context, v model.TopicValidationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return err
	}
	for _, configs := range db.TopicValidations {
		for _, existing := range configs {
			if existing.ID == v.ID {
				return fmt.Errorf("topic validation %s: %w", v.ID, ErrConflict)
			}
		}
	}
	topic := v.Topic.String()
	db.TopicValidations[topic] = append(db.TopicValidations[topic], v)
	return s.writeDatabase(db)
}

func (s *FileStorage) GetAllTopicValidations(_ context.Context) (map[string][]model.TopicValidationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return nil, err
	}
	return db.TopicValidations, nil
}

func (s *FileStorage) GetValidationsForTopic(_ context.Context, topic string) ([]model.DataSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return nil, err
	}
	return schemasForTopic(db.TopicValidations, topic), nil
}

func (s *FileStorage) DeleteTopicValidation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return err
	}
	for topic, configs := range db.TopicValidations {
		for i, existing := range configs {
			if existing.ID == id {
				db.TopicValidations[topic] = append(configs[:i:i], configs[i+1:]...)
				if len(db.TopicValidations[topic]) == 0 {
					delete(db.TopicValidations, topic)
				}
				return s.writeDatabase(db)
			}
		}
	}
	return fmt.Errorf("topic validation %s: %w", id, ErrNotFound)
}

func (s *FileStorage) StoreEvent(_ context.Context, rec EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return err
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	db.Events = append(db.Events, rec)
	if len(db.Events) > maxArchivedEvents {
		db.Events = db.Events[len(db.Events)-maxArchivedEvents:]
	}
	return s.writeDatabase(db)
}

func (s *FileStorage) GetSampleEvents(_ context.Context, limit, offset int64) ([]model.Event, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.readDatabase()
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(db.Events))
	if offset >= total || limit <= 0 {
		return []model.Event{}, total, nil
	}
	events := make([]model.Event, 0, limit)
	for i := total - 1 - offset; i >= 0 && int64(len(events)) < limit; i-- {
		events = append(events, db.Events[i].Event)
	}
	return events, total, nil
}
