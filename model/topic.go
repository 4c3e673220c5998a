package model

import (
	"encoding/json"
	"fmt"
	"unicode"
)

// maxTopicLength matches the broker-side limit on topic names.
const maxTopicLength = 255

// Topic is a validated destination stream name on the downstream broker.
// Topics are non-empty, at most 255 characters, and contain only
// alphanumerics, dots, hyphens, and underscores. The zero value is invalid;
// construct with NewTopic.
type Topic struct {
	name string
}

// NewTopic validates s and returns it as a Topic.
func NewTopic(s string) (Topic, error) {
	if s == "" {
		return Topic{}, fmt.Errorf("topic cannot be empty")
	}
	if len(s) > maxTopicLength {
		return Topic{}, fmt.Errorf("topic is too long: %d characters (max: %d)", len(s), maxTopicLength)
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_' {
			return Topic{}, fmt.Errorf("topic contains invalid character: %q", r)
		}
	}
	return Topic{name: s}, nil
}

func (t Topic) String() string { return t.name }

// IsZero reports whether t is the invalid zero value.
func (t Topic) IsZero() bool { return t.name == "" }

// MarshalJSON serializes the topic transparently as a JSON string.
func (t Topic) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.name)
}

// UnmarshalJSON parses and validates a JSON string as a topic name.
func (t *Topic) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := NewTopic(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
