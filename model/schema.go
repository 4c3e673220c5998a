package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// Draft URIs recognized in a schema document's $schema field.
const (
	draft4URI = "http://json-schema.org/draft-04/schema#"
	draft6URI = "http://json-schema.org/draft-06/schema#"
	draft7URI = "http://json-schema.org/draft-07/schema#"
)

// JSONSchema wraps a raw JSON Schema document together with its compiled
// form. The raw document is the source of truth: equality, hashing, and
// serialization use it exclusively, and the compiled schema is derived
// state rebuilt on every load.
type JSONSchema struct {
	raw      json.RawMessage
	compiled *gojsonschema.Schema
	draft    gojsonschema.Draft
}

// NewJSONSchema compiles raw into a JSONSchema. The draft is taken from the
// document's $schema when present; absent or unrecognized drafts fall back
// to draft-07.
func NewJSONSchema(raw json.RawMessage) (JSONSchema, error) {
	draft := parseDraft(raw)

	loader := gojsonschema.NewSchemaLoader()
	loader.Draft = draft
	loader.AutoDetect = false
	compiled, err := loader.Compile(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return JSONSchema{}, fmt.Errorf("%w: %v", ErrSchemaCompile, err)
	}

	// Keep our own copy so callers cannot mutate the document from under
	// the compiled form.
	stored := make(json.RawMessage, len(raw))
	copy(stored, raw)

	return JSONSchema{raw: stored, compiled: compiled, draft: draft}, nil
}

func parseDraft(raw json.RawMessage) gojsonschema.Draft {
	var doc struct {
		Schema string `json:"$schema"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Schema == "" {
		return gojsonschema.Draft7
	}
	switch doc.Schema {
	case draft4URI:
		return gojsonschema.Draft4
	case draft6URI:
		return gojsonschema.Draft6
	case draft7URI:
		return gojsonschema.Draft7
	default:
		zap.L().Warn("unrecognized $schema draft, falling back to draft-07",
			zap.String("schema_uri", doc.Schema))
		return gojsonschema.Draft7
	}
}

// Raw returns the raw schema document.
func (s JSONSchema) Raw() json.RawMessage { return s.raw }

// Draft returns the JSON Schema draft the document was compiled under.
func (s JSONSchema) Draft() gojsonschema.Draft { return s.draft }

// IsValid reports whether data satisfies the schema.
func (s JSONSchema) IsValid(data any) bool {
	return s.Validate(data) == nil
}

// Validate checks data against the compiled schema and returns a
// human-readable error describing every violation, or nil.
func (s JSONSchema) Validate(data any) error {
	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation system error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var sb strings.Builder
	for _, desc := range result.Errors() {
		fmt.Fprintf(&sb, "- %s; ", desc)
	}
	return fmt.Errorf("schema validation failed: %s", sb.String())
}

// Equal compares two schemas by raw document, ignoring formatting.
func (s JSONSchema) Equal(other JSONSchema) bool {
	var left, right any
	if err := json.Unmarshal(s.raw, &left); err != nil {
		return false
	}
	if err := json.Unmarshal(other.raw, &right); err != nil {
		return false
	}
	return reflect.DeepEqual(left, right)
}

func (s JSONSchema) MarshalJSON() ([]byte, error) {
	return s.raw, nil
}

func (s *JSONSchema) UnmarshalJSON(b []byte) error {
	schema, err := NewJSONSchema(b)
	if err != nil {
		return err
	}
	*s = schema
	return nil
}

// SchemaType discriminates Schema variants on the wire.
type SchemaType string

// SchemaTypeJSON is the only schema variant today; the tagged layout
// leaves room for others (e.g. Avro).
const SchemaTypeJSON SchemaType = "json"

// Schema is the tagged payload-schema union.
//
// Wire format: {"type": "json", "data": <raw schema document>}.
type Schema struct {
	schemaType SchemaType
	json       JSONSchema
}

// NewJSONVariant wraps a JSONSchema as a Schema.
func NewJSONVariant(js JSONSchema) Schema {
	return Schema{schemaType: SchemaTypeJSON, json: js}
}

// Type returns the variant tag of the schema.
func (s Schema) Type() SchemaType { return s.schemaType }

// JSON returns the JSON-schema payload of a json-variant Schema.
func (s Schema) JSON() JSONSchema { return s.json }

// IsValid reports whether data satisfies the wrapped schema.
func (s Schema) IsValid(data any) bool {
	return s.Validate(data) == nil
}

// Validate checks data against the wrapped schema.
func (s Schema) Validate(data any) error {
	switch s.schemaType {
	case SchemaTypeJSON:
		return s.json.Validate(data)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSchemaVariant, s.schemaType)
	}
}

// Equal compares two schemas by variant and raw document.
func (s Schema) Equal(other Schema) bool {
	return s.schemaType == other.schemaType && s.json.Equal(other.json)
}

func (s Schema) MarshalJSON() ([]byte, error) {
	if s.schemaType != SchemaTypeJSON {
		return nil, fmt.Errorf("%w: cannot serialize the zero schema", ErrUnknownSchemaVariant)
	}
	return json.Marshal(struct {
		Type SchemaType `json:"type"`
		Data JSONSchema `json:"data"`
	}{Type: s.schemaType, Data: s.json})
}

func (s *Schema) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type SchemaType      `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Type != SchemaTypeJSON {
		return fmt.Errorf("%w: %q", ErrUnknownSchemaVariant, raw.Type)
	}
	js, err := NewJSONSchema(raw.Data)
	if err != nil {
		return err
	}
	*s = NewJSONVariant(js)
	return nil
}

// DataSchema is a named constraint on an event payload, scoped to an event
// type and optional version. The event_type / event_version field names are
// snake_case on the wire for back-compat.
type DataSchema struct {
	Name         string            `json:"name"`
	Description  *string           `json:"description,omitempty"`
	Schema       Schema            `json:"schema"`
	EventType    string            `json:"event_type"`
	EventVersion *string           `json:"event_version,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AppliesTo reports whether the schema is selected for an event with the
// given type and version. Both the type and the version must be equal;
// a schema without a version applies only to events without one.
func (d DataSchema) AppliesTo(eventType string, eventVersion *string) bool {
	if d.EventType != eventType {
		return false
	}
	switch {
	case d.EventVersion == nil && eventVersion == nil:
		return true
	case d.EventVersion != nil && eventVersion != nil:
		return *d.EventVersion == *eventVersion
	default:
		return false
	}
}

// TopicValidationConfig binds a DataSchema to a destination topic.
type TopicValidationConfig struct {
	ID     uuid.UUID  `json:"id"`
	Topic  Topic      `json:"topic"`
	Schema DataSchema `json:"schema"`
}

// UnmarshalJSON decodes a config and rejects records without a topic or a
// schema; the schema itself compiles during decode or not at all.
func (c *TopicValidationConfig) UnmarshalJSON(b []byte) error {
	type alias TopicValidationConfig
	var decoded alias
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	if decoded.Topic.IsZero() {
		return ErrMissingTopic
	}
	if decoded.Schema.Schema.Type() == "" {
		return ErrMissingSchema
	}
	*c = TopicValidationConfig(decoded)
	return nil
}
