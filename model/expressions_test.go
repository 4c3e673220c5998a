package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helper Functions ---

func mustRegex(t *testing.T, pattern string) StringExpression {
	t.Helper()
	expr, err := RegexMatch(pattern)
	require.NoError(t, err, "pattern %q should compile", pattern)
	return expr
}

func decodeCondition(t *testing.T, raw string) Condition {
	t.Helper()
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

// --- Test Cases ---

func TestStringExpressionMatches(t *testing.T) {
	tests := []struct {
		name    string
		expr    StringExpression
		subject string
		want    bool
	}{
		{"equals hit", Equals("user.created"), "user.created", true},
		{"equals miss", Equals("user.created"), "user.deleted", false},
		{"startsWith hit", StartsWith("user."), "user.created", true},
		{"startsWith miss", StartsWith("user."), "order.created", false},
		{"endsWith hit", EndsWith(".created"), "user.created", true},
		{"endsWith miss", EndsWith(".created"), "user.deleted", false},
		{"contains hit", Contains("ser.cre"), "user.created", true},
		{"contains miss", Contains("xyz"), "user.created", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expr.Matches(tt.subject))
		})
	}
}

func TestRegexMatchIsUnanchored(t *testing.T) {
	expr := mustRegex(t, "test")
	assert.True(t, expr.Matches("test"))
	assert.True(t, expr.Matches("a test b"), "regex should match anywhere in the subject")

	anchored := mustRegex(t, "^test$")
	assert.True(t, anchored.Matches("test"))
	assert.False(t, anchored.Matches("a test b"))
}

func TestRegexMatchRejectsInvalidPattern(t *testing.T) {
	_, err := RegexMatch("[unclosed")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRegexPattern)
}

func TestStringExpressionRoundTrip(t *testing.T) {
	expr := mustRegex(t, "^test.*")
	data, err := json.Marshal(expr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"regexMatch","value":"^test.*"}`, string(data))

	var decoded StringExpression
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, expr.Equal(decoded))
	assert.True(t, decoded.Matches("testing"), "regex should be recompiled on decode")
}

func TestStringExpressionUnknownType(t *testing.T) {
	var expr StringExpression
	err := json.Unmarshal([]byte(`{"type":"glob","value":"*"}`), &expr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownExpression)
}

func TestConditionMatches(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		subject string
		want    bool
	}{
		{"any matches everything", Any(), "whatever", true},
		{"leaf", One(Equals("user.created")), "user.created", true},
		{"and all match", And(One(StartsWith("user.")), One(EndsWith(".created"))), "user.created", true},
		{"and one misses", And(One(StartsWith("user.")), One(EndsWith(".deleted"))), "user.created", false},
		{"empty and matches", And(), "anything", true},
		{"or one matches", Or(One(Equals("a")), One(Equals("b"))), "b", true},
		{"or none match", Or(One(Equals("a")), One(Equals("b"))), "c", false},
		{"empty or matches nothing", Or(), "anything", false},
		{"not inverts", Not(One(Equals("a"))), "b", true},
		{"not inverts hit", Not(One(Equals("a"))), "a", false},
		{"zero condition matches nothing", Condition{}, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Matches(tt.subject))
		})
	}
}

func TestConditionWireFormat(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		wire string
	}{
		{"any is a bare string", Any(), `"any"`},
		{"leaf is untagged", One(Equals("user.created")), `{"type":"equals","value":"user.created"}`},
		{
			"and is a single-key object",
			And(One(mustRegex(t, "^test.*")), One(Equals("x"))),
			`{"and":[{"type":"regexMatch","value":"^test.*"},{"type":"equals","value":"x"}]}`,
		},
		{
			"not nests",
			Not(Or(One(Equals("a")))),
			`{"not":{"or":[{"type":"equals","value":"a"}]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.cond)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wire, string(data))

			decoded := decodeCondition(t, tt.wire)
			assert.True(t, tt.cond.Equal(decoded), "round trip should preserve structure")
		})
	}
}

func TestConditionDecodeRejectsUnknownShape(t *testing.T) {
	var c Condition
	assert.ErrorIs(t, json.Unmarshal([]byte(`"sometimes"`), &c), ErrUnknownCondition)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"xor":[]}`), &c), ErrUnknownCondition)
}

func TestConditionDecodeRejectsNullChildren(t *testing.T) {
	// {"and":null} must not collapse into the match-all empty conjunction.
	var c Condition
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"and":null}`), &c), ErrUnknownCondition)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"or":null}`), &c), ErrUnknownCondition)
	assert.Error(t, json.Unmarshal([]byte(`{"not":null}`), &c))
}

func TestConditionDepthLimit(t *testing.T) {
	// A not-chain one level past the limit.
	var sb strings.Builder
	for i := 0; i <= MaxConditionDepth; i++ {
		sb.WriteString(`{"not":`)
	}
	sb.WriteString(`{"type":"equals","value":"x"}`)
	sb.WriteString(strings.Repeat("}", MaxConditionDepth+1))

	var c Condition
	err := json.Unmarshal([]byte(sb.String()), &c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConditionTooDeep)
}

func TestConditionDepthLimitAllowsDeepButLegalTrees(t *testing.T) {
	raw := `{"type":"equals","value":"x"}`
	for i := 0; i < MaxConditionDepth-1; i++ {
		raw = fmt.Sprintf(`{"not":%s}`, raw)
	}
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
}

func TestConditionEqual(t *testing.T) {
	left := And(One(Equals("a")), Not(One(StartsWith("b"))))
	right := And(One(Equals("a")), Not(One(StartsWith("b"))))
	assert.True(t, left.Equal(right))
	assert.False(t, left.Equal(Or(One(Equals("a")))))
	assert.True(t, mustRegex(t, "^a$").Equal(mustRegex(t, "^a$")), "regexes compare by pattern")
}
