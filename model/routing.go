package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// TopicRoutingRule maps matching (event type, event version) pairs to a
// destination topic. Lower order means higher priority; ties are broken by
// ascending id. Updates replace the whole record.
type TopicRoutingRule struct {
	ID                    uuid.UUID  `json:"id"`
	Order                 int32      `json:"order"`
	Topic                 Topic      `json:"topic"`
	EventTypeCondition    Condition  `json:"eventTypeCondition"`
	EventVersionCondition *Condition `json:"eventVersionCondition,omitempty"`
	Description           *string    `json:"description,omitempty"`
}

// UnmarshalJSON decodes a rule and rejects records without the required
// event type condition or topic.
func (r *TopicRoutingRule) UnmarshalJSON(b []byte) error {
	type alias TopicRoutingRule
	var decoded alias
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	if decoded.EventTypeCondition.IsZero() {
		return ErrMissingTypeCondition
	}
	if decoded.Topic.IsZero() {
		return ErrMissingTopic
	}
	*r = TopicRoutingRule(decoded)
	return nil
}

// Equal compares two rules field by field (conditions structurally, regex
// leaves by pattern).
func (r TopicRoutingRule) Equal(other TopicRoutingRule) bool {
	if r.ID != other.ID || r.Order != other.Order || r.Topic != other.Topic {
		return false
	}
	if !r.EventTypeCondition.Equal(other.EventTypeCondition) {
		return false
	}
	switch {
	case r.EventVersionCondition == nil && other.EventVersionCondition == nil:
	case r.EventVersionCondition != nil && other.EventVersionCondition != nil:
		if !r.EventVersionCondition.Equal(*other.EventVersionCondition) {
			return false
		}
	default:
		return false
	}
	switch {
	case r.Description == nil && other.Description == nil:
		return true
	case r.Description != nil && other.Description != nil:
		return *r.Description == *other.Description
	default:
		return false
	}
}
