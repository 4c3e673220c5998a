package model

import "errors"

var (
	ErrConditionTooDeep     = errors.New("condition nesting too deep")
	ErrUnknownCondition     = errors.New("unknown condition variant")
	ErrUnknownExpression    = errors.New("unknown string expression type")
	ErrInvalidRegexPattern  = errors.New("invalid regex pattern")
	ErrMissingTypeCondition = errors.New("event type condition is required")
	ErrMissingTopic         = errors.New("topic is required")
	ErrMissingSchema        = errors.New("schema is required")
	ErrMissingEventData     = errors.New("event data is required")
	ErrDataTypeMismatch     = errors.New("dataType does not agree with data variant")
	ErrMissingEventID       = errors.New("event id is required")
	ErrMissingEventType     = errors.New("event type is required")
	ErrUnknownDataVariant   = errors.New("unknown data variant")
	ErrUnknownSchemaVariant = errors.New("unknown schema variant")
	ErrSchemaCompile        = errors.New("schema failed to compile")
)
