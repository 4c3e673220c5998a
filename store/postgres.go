package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/model"
)

const pgUniqueViolation = "23505"

// PostgresStorage is the durable storage variant. Rules and validations are
// stored with their conditions and schemas as JSONB documents; the `order`
// field maps to the order_num column to avoid the keyword collision.
type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStorage connects a pool to connString, runs the embedded
// migrations, and returns the storage.
func NewPostgresStorage(ctx context.Context, connString string, logger *zap.Logger) (*PostgresStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := runMigrations(stdlib.OpenDBFromPool(pool), logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStorage{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() { s.pool.Close() }

func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *PostgresStorage) AddRule(ctx context.Context, rule model.TopicRoutingRule) error {
	typeCond, err := json.Marshal(rule.EventTypeCondition)
	if err != nil {
		return fmt.Errorf("serializing event type condition: %w", err)
	}
	versionCond, err := marshalOptionalCondition(rule.EventVersionCondition)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO routing_rules (id, order_num, topic, description, event_version_condition, event_type_condition)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rule.ID, rule.Order, rule.Topic.String(), rule.Description, versionCond, typeCond)
	if err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (s *PostgresStorage) GetRule(ctx context.Context, id uuid.UUID) (model.TopicRoutingRule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, order_num, topic, description, event_version_condition, event_type_condition
		 FROM routing_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TopicRoutingRule{}, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return rule, err
}

func (s *PostgresStorage) GetAllRules(ctx context.Context) ([]model.TopicRoutingRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_num, topic, description, event_version_condition, event_type_condition
		 FROM routing_rules ORDER BY order_num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.TopicRoutingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *PostgresStorage) UpdateRule(ctx context.Context, id uuid.UUID, rule model.TopicRoutingRule) error {
	typeCond, err := json.Marshal(rule.EventTypeCondition)
	if err != nil {
		return fmt.Errorf("serializing event type condition: %w", err)
	}
	versionCond, err := marshalOptionalCondition(rule.EventVersionCondition)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE routing_rules
		 SET order_num = $2, topic = $3, description = $4,
		     event_version_condition = $5, event_type_condition = $6,
		     updated_at = NOW()
		 WHERE id = $1`,
		id, rule.Order, rule.Topic.String(), rule.Description, versionCond, typeCond)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM routing_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) AddTopicValidation(ctx context.Context, v model.TopicValidationConfig) error {
	schema, err := json.Marshal(v.Schema)
	if err != nil {
		return fmt.Errorf("serializing data schema: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO topic_validations (id, topic, schema) VALUES ($1, $2, $3)`,
		v.ID, v.Topic.String(), schema)
	if err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (s *PostgresStorage) GetAllTopicValidations(ctx context.Context) (map[string][]model.TopicValidationConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, topic, schema FROM topic_validations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	validations := make(map[string][]model.TopicValidationConfig)
	for rows.Next() {
		var (
			id        uuid.UUID
			topicName string
			schemaRaw []byte
		)
		if err := rows.Scan(&id, &topicName, &schemaRaw); err != nil {
			return nil, err
		}
		topic, err := model.NewTopic(topicName)
		if err != nil {
			return nil, fmt.Errorf("stored topic %q: %w", topicName, err)
		}
		var schema model.DataSchema
		if err := json.Unmarshal(schemaRaw, &schema); err != nil {
			return nil, fmt.Errorf("deserializing schema for validation %s: %w", id, err)
		}
		validations[topicName] = append(validations[topicName], model.TopicValidationConfig{
			ID:     id,
			Topic:  topic,
			Schema: schema,
		})
	}
	return validations, rows.Err()
}

func (s *PostgresStorage) GetValidationsForTopic(ctx context.Context, topic string) ([]model.DataSchema, error) {
	validations, err := s.GetAllTopicValidations(ctx)
	if err != nil {
		return nil, err
	}
	return schemasForTopic(validations, topic), nil
}

func (s *PostgresStorage) DeleteTopicValidation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM topic_validations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("topic validation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) StoreEvent(ctx context.Context, rec EventRecord) error {
	eventData, err := json.Marshal(rec.Event.Data)
	if err != nil {
		return fmt.Errorf("serializing event data: %w", err)
	}
	metadata, err := json.Marshal(rec.Event.Metadata)
	if err != nil {
		return fmt.Errorf("serializing event metadata: %w", err)
	}
	transportMetadata, err := json.Marshal(rec.Event.TransportMetadata)
	if err != nil {
		return fmt.Errorf("serializing transport metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, event_id, event_type, event_version, routing_id, destination_topic, failure_reason, event_data, metadata, transport_metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New(), rec.Event.ID, rec.Event.EventType, rec.Event.EventVersion,
		rec.RoutingID, rec.DestinationTopic, rec.FailureReason,
		eventData, metadata, transportMetadata)
	return err
}

func (s *PostgresStorage) GetSampleEvents(ctx context.Context, limit, offset int64) ([]model.Event, int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT event_id, event_type, event_version, event_data, metadata, transport_metadata, stored_at
		 FROM events ORDER BY stored_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]model.Event, 0, limit)
	for rows.Next() {
		var (
			eventID           uuid.UUID
			eventType         string
			eventVersion      *string
			dataRaw           []byte
			metadataRaw       []byte
			transportMetaRaw  []byte
			storedAt          time.Time
			metadata          map[string]string
			transportMetadata map[string]string
			data              model.Data
		)
		if err := rows.Scan(&eventID, &eventType, &eventVersion, &dataRaw, &metadataRaw, &transportMetaRaw, &storedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(dataRaw, &data); err != nil {
			return nil, 0, fmt.Errorf("deserializing archived event %s: %w", eventID, err)
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &metadata); err != nil {
				return nil, 0, fmt.Errorf("deserializing archived event %s: %w", eventID, err)
			}
		}
		if len(transportMetaRaw) > 0 {
			// Best effort: rows archived before the column existed hold null.
			_ = json.Unmarshal(transportMetaRaw, &transportMetadata)
		}
		ts := storedAt.UTC()
		events = append(events, model.Event{
			ID:                eventID,
			EventType:         eventType,
			EventVersion:      eventVersion,
			Metadata:          metadata,
			TransportMetadata: transportMetadata,
			Data:              data,
			Timestamp:         &ts,
		})
	}
	return events, total, rows.Err()
}

func marshalOptionalCondition(c *model.Condition) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("serializing event version condition: %w", err)
	}
	return data, nil
}

// scanRule decodes one routing_rules row; the JSONB condition columns are
// deserialized (and regexes recompiled) on the way out.
func scanRule(row pgx.Row) (model.TopicRoutingRule, error) {
	var (
		id          uuid.UUID
		order       int32
		topicName   string
		description *string
		versionRaw  []byte
		typeRaw     []byte
	)
	if err := row.Scan(&id, &order, &topicName, &description, &versionRaw, &typeRaw); err != nil {
		return model.TopicRoutingRule{}, err
	}
	topic, err := model.NewTopic(topicName)
	if err != nil {
		return model.TopicRoutingRule{}, fmt.Errorf("stored topic %q: %w", topicName, err)
	}
	var typeCond model.Condition
	if err := json.Unmarshal(typeRaw, &typeCond); err != nil {
		return model.TopicRoutingRule{}, fmt.Errorf("deserializing event type condition for rule %s: %w", id, err)
	}
	var versionCond *model.Condition
	if len(versionRaw) > 0 && string(versionRaw) != "null" {
		versionCond = new(model.Condition)
		if err := json.Unmarshal(versionRaw, versionCond); err != nil {
			return model.TopicRoutingRule{}, fmt.Errorf("deserializing event version condition for rule %s: %w", id, err)
		}
	}
	return model.TopicRoutingRule{
		ID:                    id,
		Order:                 order,
		Topic:                 topic,
		Description:           description,
		EventTypeCondition:    typeCond,
		EventVersionCondition: versionCond,
	}, nil
}
