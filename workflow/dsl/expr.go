package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expression is a compiled condition. It is parsed once and evaluated on
// every run against the run state.
//
// Grammar, loosest binding first:
//
//	or    = and { "||" and }
//	and   = cmp { "&&" cmp }
//	cmp   = unary [ ("=="|"!="|">"|"<"|">="|"<=") unary ]
//	unary = "!" unary | primary
//	primary = number | string | true | false | null | path | "(" or ")"
//
// A path such as review.approved walks nested maps; a missing segment yields
// null.
type Expression struct {
	src  string
	root exprNode
}

// Compile parses src.
func Compile(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
	return &Expression{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(fmt.Sprintf("dsl: compile %q: %v", src, err))
	}
	return e
}

// Eval evaluates the expression and converts the result to a boolean.
func (e *Expression) Eval(vars map[string]any) bool {
	return truthy(e.root.eval(vars))
}

// String returns the source text.
func (e *Expression) String() string { return e.src }

// Roots returns the first segment of every path referenced, in order of
// appearance and without duplicates.
func (e *Expression) Roots() []string {
	var roots []string
	seen := make(map[string]bool)
	e.root.walk(func(n exprNode) {
		if v, ok := n.(*pathNode); ok && !seen[v.parts[0]] {
			seen[v.parts[0]] = true
			roots = append(roots, v.parts[0])
		}
	})
	return roots
}

// Evaluate compiles and evaluates src in one step.
func Evaluate(src string, vars map[string]any) (bool, error) {
	e, err := Compile(src)
	if err != nil {
		return false, err
	}
	return e.Eval(vars), nil
}

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

type exprNode interface {
	eval(vars map[string]any) any
	walk(fn func(exprNode))
}

type literalNode struct{ value any }

func (n *literalNode) eval(map[string]any) any  { return n.value }
func (n *literalNode) walk(fn func(exprNode)) { fn(n) }

type pathNode struct{ parts []string }

func (n *pathNode) eval(vars map[string]any) any { return lookupPath(vars, n.parts) }
func (n *pathNode) walk(fn func(exprNode))       { fn(n) }

type notNode struct{ operand exprNode }

func (n *notNode) eval(vars map[string]any) any { return !truthy(n.operand.eval(vars)) }
func (n *notNode) walk(fn func(exprNode)) {
	fn(n)
	n.operand.walk(fn)
}

type binaryNode struct {
	op          string
	left, right exprNode
}

func (n *binaryNode) eval(vars map[string]any) any {
	switch n.op {
	case "&&":
		return truthy(n.left.eval(vars)) && truthy(n.right.eval(vars))
	case "||":
		return truthy(n.left.eval(vars)) || truthy(n.right.eval(vars))
	default:
		return compare(n.left.eval(vars), n.op, n.right.eval(vars))
	}
}

func (n *binaryNode) walk(fn func(exprNode)) {
	fn(n)
	n.left.walk(fn)
	n.right.walk(fn)
}

// ---------------------------------------------------------------------------
// lexer
// ---------------------------------------------------------------------------

type tokenKind int

const (
	tkNumber tokenKind = iota
	tkString
	tkIdent
	tkOp
	tkLParen
	tkRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)

	for i := 0; i < len(runes); {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++

		case ch == '(' || ch == ')':
			kind := tkLParen
			if ch == ')' {
				kind = tkRParen
			}
			tokens = append(tokens, token{kind: kind, text: string(ch), pos: i})
			i++

		case ch == '"' || ch == '\'':
			s, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tkString, text: s, pos: i})
			i = next

		case i+1 < len(runes) && isTwoCharOp(string(runes[i:i+2])):
			tokens = append(tokens, token{kind: tkOp, text: string(runes[i : i+2]), pos: i})
			i += 2

		case ch == '>' || ch == '<' || ch == '!':
			tokens = append(tokens, token{kind: tkOp, text: string(ch), pos: i})
			i++

		case isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && negativeAllowed(tokens)):
			start := i
			i++
			for i < len(runes) && (isDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tkNumber, text: string(runes[start:i]), pos: start})

		case unicode.IsLetter(ch) || ch == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.' || runes[i] == '-') {
				i++
			}
			tokens = append(tokens, token{kind: tkIdent, text: string(runes[start:i]), pos: start})

		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", ch, i)
		}
	}
	return tokens, nil
}

func lexString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var sb strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) {
				i++
				sb.WriteRune(runes[i])
			}
		case quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteRune(runes[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string at offset %d", start)
}

func isTwoCharOp(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", "&&", "||":
		return true
	}
	return false
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

// negativeAllowed reports whether a '-' starts a negative number: at the
// start of the input or after an operator or an opening parenthesis.
func negativeAllowed(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1].kind
	return last == tkOp || last == tkLParen
}

// ---------------------------------------------------------------------------
// parser
// ---------------------------------------------------------------------------

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *exprParser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "||", left: left, right: right}
	}
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "&&", left: left, right: right}
	}
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &binaryNode{op: op, left: left, right: right}, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if _, ok := p.acceptOp("!"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	p.pos++

	switch t.kind {
	case tkNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", t.text, t.pos)
		}
		return &literalNode{value: f}, nil

	case tkString:
		return &literalNode{value: t.text}, nil

	case tkIdent:
		switch t.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "nil":
			return &literalNode{value: nil}, nil
		}
		parts := strings.Split(t.text, ".")
		for _, part := range parts {
			if part == "" {
				return nil, fmt.Errorf("invalid path %q at offset %d", t.text, t.pos)
			}
		}
		return &pathNode{parts: parts}, nil

	case tkLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if next := p.peek(); next == nil || next.kind != tkRParen {
			return nil, fmt.Errorf("expected ) to close ( at offset %d", t.pos)
		}
		p.pos++
		return inner, nil

	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
}

// ---------------------------------------------------------------------------
// evaluation helpers
// ---------------------------------------------------------------------------

// lookupPath walks nested maps. Any missing or non-map segment yields nil.
func lookupPath(vars map[string]any, parts []string) any {
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = m[part]; !ok {
			return nil
		}
	}
	return current
}

// compare applies a comparison operator. Numbers compare numerically, other
// values by their string form. nil only equals nil and is never ordered.
func compare(left any, op string, right any) bool {
	if left == nil || right == nil {
		switch op {
		case "==":
			return left == nil && right == nil
		case "!=":
			return left != nil || right != nil
		}
		return false
	}

	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return ordered(lf, rf, op)
		}
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			switch op {
			case "==":
				return lb == rb
			case "!=":
				return lb != rb
			}
			return false
		}
	}
	return ordered(fmt.Sprint(left), fmt.Sprint(right), op)
}

func ordered[T float64 | string](l, r T, op string) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case ">":
		return l > r
	case "<":
		return l < r
	case ">=":
		return l >= r
	case "<=":
		return l <= r
	}
	return false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
