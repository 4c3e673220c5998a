package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DataType is the optional hint mirroring the Data variant.
type DataType string

const (
	DataTypeJSON   DataType = "json"
	DataTypeString DataType = "string"
	DataTypeBinary DataType = "binary"
)

// Data is the tagged payload union of an event. The zero value is invalid;
// construct with JSONData, StringData, or BinaryData.
//
// Wire format: {"type": "json"|"string"|"binary", "content": ...}. Binary
// content is base64-encoded.
type Data struct {
	dataType DataType
	jsonVal  map[string]any
	strVal   string
	binVal   []byte
}

func JSONData(obj map[string]any) Data {
	return Data{dataType: DataTypeJSON, jsonVal: obj}
}

func StringData(s string) Data {
	return Data{dataType: DataTypeString, strVal: s}
}

func BinaryData(b []byte) Data {
	return Data{dataType: DataTypeBinary, binVal: b}
}

// Type returns the variant tag of the payload.
func (d Data) Type() DataType { return d.dataType }

// JSONValue returns the object payload of a json-variant Data, or nil.
func (d Data) JSONValue() map[string]any { return d.jsonVal }

// StringValue returns the payload of a string-variant Data.
func (d Data) StringValue() string { return d.strVal }

// BinaryValue returns the payload of a binary-variant Data.
func (d Data) BinaryValue() []byte { return d.binVal }

func (d Data) MarshalJSON() ([]byte, error) {
	switch d.dataType {
	case DataTypeJSON:
		content := d.jsonVal
		if content == nil {
			content = map[string]any{}
		}
		return json.Marshal(struct {
			Type    DataType       `json:"type"`
			Content map[string]any `json:"content"`
		}{Type: d.dataType, Content: content})
	case DataTypeString:
		return json.Marshal(struct {
			Type    DataType `json:"type"`
			Content string   `json:"content"`
		}{Type: d.dataType, Content: d.strVal})
	case DataTypeBinary:
		return json.Marshal(struct {
			Type    DataType `json:"type"`
			Content []byte   `json:"content"`
		}{Type: d.dataType, Content: d.binVal})
	default:
		return nil, fmt.Errorf("%w: cannot serialize the zero data", ErrUnknownDataVariant)
	}
}

func (d *Data) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type    DataType        `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case DataTypeJSON:
		var obj map[string]any
		if err := json.Unmarshal(raw.Content, &obj); err != nil {
			return fmt.Errorf("json data content must be an object: %w", err)
		}
		*d = JSONData(obj)
	case DataTypeString:
		var s string
		if err := json.Unmarshal(raw.Content, &s); err != nil {
			return fmt.Errorf("string data content must be a string: %w", err)
		}
		*d = StringData(s)
	case DataTypeBinary:
		var bin []byte
		if err := json.Unmarshal(raw.Content, &bin); err != nil {
			return fmt.Errorf("binary data content must be base64: %w", err)
		}
		*d = BinaryData(bin)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDataVariant, raw.Type)
	}
	return nil
}

// Event is a self-describing message flowing through the gateway. Events
// are ephemeral: they live only for the duration of one request.
type Event struct {
	ID                uuid.UUID         `json:"id"`
	EventType         string            `json:"eventType"`
	EventVersion      *string           `json:"eventVersion,omitempty"`
	Metadata          map[string]string `json:"metadata"`
	TransportMetadata map[string]string `json:"transportMetadata,omitempty"`
	DataType          *DataType         `json:"dataType,omitempty"`
	Data              Data              `json:"data"`
	Timestamp         *time.Time        `json:"timestamp,omitempty"`
	Origin            *string           `json:"origin,omitempty"`
}

// UnmarshalJSON decodes an event and enforces the structural invariants:
// id, eventType, and data are required, and dataType, when present, must
// agree with the data variant (data's own tag is canonical).
func (e *Event) UnmarshalJSON(b []byte) error {
	type alias Event
	var decoded alias
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	if decoded.ID == uuid.Nil {
		return ErrMissingEventID
	}
	if decoded.EventType == "" {
		return ErrMissingEventType
	}
	if decoded.Data.Type() == "" {
		return ErrMissingEventData
	}
	if decoded.DataType != nil && *decoded.DataType != decoded.Data.Type() {
		return fmt.Errorf("%w: dataType=%q data=%q", ErrDataTypeMismatch, *decoded.DataType, decoded.Data.Type())
	}
	*e = Event(decoded)
	return nil
}

// Version returns the event version or "" when absent.
func (e *Event) Version() string {
	if e.EventVersion == nil {
		return ""
	}
	return *e.EventVersion
}
