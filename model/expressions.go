package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MaxConditionDepth is the soft limit on condition tree nesting. Deeper
// trees are rejected at deserialization so that evaluation stays bounded.
const MaxConditionDepth = 64

// String expression types as they appear on the wire.
const (
	ExprRegexMatch = "regexMatch"
	ExprEquals     = "equals"
	ExprStartsWith = "startsWith"
	ExprEndsWith   = "endsWith"
	ExprContains   = "contains"
)

// StringExpression is a leaf predicate over a string subject. Regex
// expressions hold their compiled form; equality is by source pattern.
type StringExpression struct {
	exprType string
	value    string
	re       *regexp.Regexp
}

// RegexMatch builds an unanchored regex expression. The pattern is compiled
// eagerly so that malformed patterns fail here rather than at match time.
func RegexMatch(pattern string) (StringExpression, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return StringExpression{}, fmt.Errorf("%w: %q: %v", ErrInvalidRegexPattern, pattern, err)
	}
	return StringExpression{exprType: ExprRegexMatch, value: pattern, re: re}, nil
}

func Equals(v string) StringExpression {
	return StringExpression{exprType: ExprEquals, value: v}
}

func StartsWith(v string) StringExpression {
	return StringExpression{exprType: ExprStartsWith, value: v}
}

func EndsWith(v string) StringExpression {
	return StringExpression{exprType: ExprEndsWith, value: v}
}

func Contains(v string) StringExpression {
	return StringExpression{exprType: ExprContains, value: v}
}

// Type returns the wire name of the expression variant.
func (e StringExpression) Type() string { return e.exprType }

// Value returns the comparison value or regex source pattern.
func (e StringExpression) Value() string { return e.value }

// Matches evaluates the predicate against subject. It is total: an
// uninitialized expression simply matches nothing.
func (e StringExpression) Matches(subject string) bool {
	switch e.exprType {
	case ExprRegexMatch:
		return e.re != nil && e.re.MatchString(subject)
	case ExprEquals:
		return subject == e.value
	case ExprStartsWith:
		return strings.HasPrefix(subject, e.value)
	case ExprEndsWith:
		return strings.HasSuffix(subject, e.value)
	case ExprContains:
		return strings.Contains(subject, e.value)
	default:
		return false
	}
}

// Equal compares two expressions by variant and value. Regex expressions
// compare by source pattern string.
func (e StringExpression) Equal(other StringExpression) bool {
	return e.exprType == other.exprType && e.value == other.value
}

func (e StringExpression) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{Type: e.exprType, Value: e.value})
}

func (e *StringExpression) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case ExprRegexMatch:
		expr, err := RegexMatch(raw.Value)
		if err != nil {
			return err
		}
		*e = expr
	case ExprEquals, ExprStartsWith, ExprEndsWith, ExprContains:
		*e = StringExpression{exprType: raw.Type, value: raw.Value}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExpression, raw.Type)
	}
	return nil
}

type conditionKind int

const (
	kindInvalid conditionKind = iota
	kindAny
	kindOne
	kindAnd
	kindOr
	kindNot
)

// Condition is a recursive boolean expression over string predicates.
//
// Wire format: "any" is the bare JSON string "any"; and/or/not are
// single-key objects ({"and":[...]}, {"or":[...]}, {"not":{...}}); a leaf
// is the untagged StringExpression object ({"type":"equals","value":"x"}).
// The zero value is invalid and matches nothing.
type Condition struct {
	kind     conditionKind
	expr     StringExpression
	children []Condition
	child    *Condition
}

// Any matches every subject.
func Any() Condition { return Condition{kind: kindAny} }

// One wraps a single string expression.
func One(expr StringExpression) Condition {
	return Condition{kind: kindOne, expr: expr}
}

// And matches when every child matches. And() with no children matches
// everything.
func And(children ...Condition) Condition {
	return Condition{kind: kindAnd, children: children}
}

// Or matches when at least one child matches. Or() with no children matches
// nothing.
func Or(children ...Condition) Condition {
	return Condition{kind: kindOr, children: children}
}

// Not inverts its child.
func Not(child Condition) Condition {
	return Condition{kind: kindNot, child: &child}
}

// IsZero reports whether c is the invalid zero value.
func (c Condition) IsZero() bool { return c.kind == kindInvalid }

// Matches evaluates the condition against subject. Evaluation is total and
// never panics; the invalid zero condition matches nothing.
func (c Condition) Matches(subject string) bool {
	switch c.kind {
	case kindAny:
		return true
	case kindOne:
		return c.expr.Matches(subject)
	case kindAnd:
		for _, child := range c.children {
			if !child.Matches(subject) {
				return false
			}
		}
		return true
	case kindOr:
		for _, child := range c.children {
			if child.Matches(subject) {
				return true
			}
		}
		return false
	case kindNot:
		return c.child != nil && !c.child.Matches(subject)
	default:
		return false
	}
}

// Equal compares two condition trees structurally. Regex leaves compare by
// source pattern.
func (c Condition) Equal(other Condition) bool {
	if c.kind != other.kind {
		return false
	}
	switch c.kind {
	case kindOne:
		return c.expr.Equal(other.expr)
	case kindAnd, kindOr:
		if len(c.children) != len(other.children) {
			return false
		}
		for i := range c.children {
			if !c.children[i].Equal(other.children[i]) {
				return false
			}
		}
		return true
	case kindNot:
		return c.child.Equal(*other.child)
	default:
		return true
	}
}

func (c Condition) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case kindAny:
		return json.Marshal("any")
	case kindOne:
		return json.Marshal(c.expr)
	case kindAnd:
		return json.Marshal(map[string][]Condition{"and": c.children})
	case kindOr:
		return json.Marshal(map[string][]Condition{"or": c.children})
	case kindNot:
		return json.Marshal(map[string]*Condition{"not": c.child})
	default:
		return nil, fmt.Errorf("%w: cannot serialize the zero condition", ErrUnknownCondition)
	}
}

func (c *Condition) UnmarshalJSON(b []byte) error {
	return c.decode(b, 0)
}

func (c *Condition) decode(b []byte, depth int) error {
	if depth > MaxConditionDepth {
		return fmt.Errorf("%w: exceeds %d levels", ErrConditionTooDeep, MaxConditionDepth)
	}

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty condition", ErrUnknownCondition)
	}

	if trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return err
		}
		if tag != "any" {
			return fmt.Errorf("%w: %q", ErrUnknownCondition, tag)
		}
		*c = Any()
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}

	decodeList := func(raw json.RawMessage) ([]Condition, error) {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		// A null child list is distinct from an empty one and never valid.
		if elems == nil {
			return nil, fmt.Errorf("%w: child conditions must be a list", ErrUnknownCondition)
		}
		children := make([]Condition, len(elems))
		for i, elem := range elems {
			if err := children[i].decode(elem, depth+1); err != nil {
				return nil, err
			}
		}
		return children, nil
	}

	switch {
	case fields["and"] != nil:
		children, err := decodeList(fields["and"])
		if err != nil {
			return err
		}
		*c = And(children...)
	case fields["or"] != nil:
		children, err := decodeList(fields["or"])
		if err != nil {
			return err
		}
		*c = Or(children...)
	case fields["not"] != nil:
		var child Condition
		if err := child.decode(fields["not"], depth+1); err != nil {
			return err
		}
		*c = Not(child)
	case fields["type"] != nil:
		var expr StringExpression
		if err := json.Unmarshal(trimmed, &expr); err != nil {
			return err
		}
		*c = One(expr)
	default:
		return fmt.Errorf("%w: expected and/or/not or a string expression", ErrUnknownCondition)
	}
	return nil
}
