package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Expression evaluation
// =============================================================================

func TestExpression_Eval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expr     string
		vars     map[string]any
		expected bool
	}{
		// --- Comparison operators ---
		{name: "greater than true", expr: `score > 0.8`, vars: map[string]any{"score": 0.9}, expected: true},
		{name: "greater than false", expr: `score > 0.8`, vars: map[string]any{"score": 0.5}},
		{name: "equal string", expr: `status == "active"`, vars: map[string]any{"status": "active"}, expected: true},
		{name: "equal single quoted", expr: `status == 'active'`, vars: map[string]any{"status": "active"}, expected: true},
		{name: "equal string false", expr: `status == "active"`, vars: map[string]any{"status": "inactive"}},
		{name: "not equal true", expr: `count != 0`, vars: map[string]any{"count": 5}, expected: true},
		{name: "not equal false", expr: `count != 0`, vars: map[string]any{"count": 0}},
		{name: "greater or equal", expr: `count >= 10`, vars: map[string]any{"count": 10}, expected: true},
		{name: "less or equal", expr: `count <= 5`, vars: map[string]any{"count": 3}, expected: true},
		{name: "less than false", expr: `count < 5`, vars: map[string]any{"count": 5}},
		{name: "negative literal", expr: `delta > -1`, vars: map[string]any{"delta": 0}, expected: true},
		{name: "numeric string", expr: `count == 3`, vars: map[string]any{"count": "3"}, expected: true},
		{name: "bool equality", expr: `done == true`, vars: map[string]any{"done": true}, expected: true},

		// --- Logical operators ---
		{name: "and both true", expr: `score > 0.8 && status == "active"`, vars: map[string]any{"score": 0.9, "status": "active"}, expected: true},
		{name: "and one false", expr: `score > 0.8 && status == "active"`, vars: map[string]any{"score": 0.5, "status": "active"}},
		{name: "or one true", expr: `score > 0.8 || status == "active"`, vars: map[string]any{"score": 0.5, "status": "active"}, expected: true},
		{name: "or both false", expr: `score > 0.8 || status == "active"`, vars: map[string]any{"score": 0.5, "status": "inactive"}},
		{name: "and binds tighter than or", expr: `a || b && c`, vars: map[string]any{"a": true, "b": false, "c": false}, expected: true},
		{name: "parentheses", expr: `(a || b) && c`, vars: map[string]any{"a": true, "b": false, "c": false}},
		{name: "not false", expr: `!done`, vars: map[string]any{"done": false}, expected: true},
		{name: "double not", expr: `!!done`, vars: map[string]any{"done": true}, expected: true},

		// --- Paths ---
		{name: "nested field", expr: `review.approved`, vars: map[string]any{"review": map[string]any{"approved": true}}, expected: true},
		{name: "nested comparison", expr: `review.selected_option == "ship"`, vars: map[string]any{"review": map[string]any{"selected_option": "ship"}}, expected: true},
		{name: "missing path is falsy", expr: `review.approved`, vars: map[string]any{}},
		{name: "path through scalar", expr: `name.length`, vars: map[string]any{"name": "x"}},

		// --- null ---
		{name: "missing equals null", expr: `missing == null`, vars: map[string]any{}, expected: true},
		{name: "present not null", expr: `x != null`, vars: map[string]any{"x": 1}, expected: true},
		{name: "null is not ordered", expr: `missing < 1`, vars: map[string]any{}},

		// --- Truthiness ---
		{name: "truthy string", expr: `value`, vars: map[string]any{"value": "yes"}, expected: true},
		{name: "false string", expr: `value`, vars: map[string]any{"value": "false"}},
		{name: "zero literal", expr: `0`},
		{name: "false literal", expr: `false`},
		{name: "empty list", expr: `items`, vars: map[string]any{"items": []any{}}},
		{name: "non-empty map", expr: `items`, vars: map[string]any{"items": map[string]any{"a": 1}}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, expr.Eval(tt.vars))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	t.Parallel()

	for _, src := range []string{
		``,
		`   `,
		`a &&`,
		`(a > 1`,
		`a & b`,
		`"unterminated`,
		`a b`,
		`> 1`,
		`a.`,
		`a == ()`,
	} {
		_, err := Compile(src)
		assert.Error(t, err, "expected %q to fail", src)
	}
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile(`a &&`) })
	assert.NotPanics(t, func() { MustCompile(`a`) })
}

func TestExpression_Roots(t *testing.T) {
	expr := MustCompile(`review.approved && (score > 1 || review.comment != "") && !skip`)
	assert.Equal(t, []string{"review", "score", "skip"}, expr.Roots())
	assert.Equal(t, `review.approved && (score > 1 || review.comment != "") && !skip`, expr.String())

	assert.Empty(t, MustCompile(`true && 1 > 0`).Roots())
}

func TestEvaluate(t *testing.T) {
	ok, err := Evaluate(`x > 1`, map[string]any{"x": 2})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Evaluate(`x >`, nil)
	assert.Error(t, err)
}

// =============================================================================
// lexer
// =============================================================================

func TestLex(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		expected []token
	}{
		{
			name: "simple comparison",
			expr: `score > 0.8`,
			expected: []token{
				{kind: tkIdent, text: "score", pos: 0},
				{kind: tkOp, text: ">", pos: 6},
				{kind: tkNumber, text: "0.8", pos: 8},
			},
		},
		{
			name: "escaped quote",
			expr: `"a\"b"`,
			expected: []token{
				{kind: tkString, text: `a"b`, pos: 0},
			},
		},
		{
			name: "negative after operator",
			expr: `x>-2`,
			expected: []token{
				{kind: tkIdent, text: "x", pos: 0},
				{kind: tkOp, text: ">", pos: 1},
				{kind: tkNumber, text: "-2", pos: 2},
			},
		},
		{
			name: "dotted identifier",
			expr: `(result.score)`,
			expected: []token{
				{kind: tkLParen, text: "(", pos: 0},
				{kind: tkIdent, text: "result.score", pos: 1},
				{kind: tkRParen, text: ")", pos: 13},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := lex(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tokens)
		})
	}
}

func TestLookupPath(t *testing.T) {
	vars := map[string]any{
		"simple": "hello",
		"nested": map[string]any{
			"value": 42,
			"deep":  map[string]any{"item": "found"},
		},
	}

	tests := []struct {
		path     []string
		expected any
	}{
		{[]string{"simple"}, "hello"},
		{[]string{"nested", "value"}, 42},
		{[]string{"nested", "deep", "item"}, "found"},
		{[]string{"missing"}, nil},
		{[]string{"nested", "missing"}, nil},
		{[]string{"simple", "x"}, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, lookupPath(vars, tt.path), "path %v", tt.path)
	}
}
