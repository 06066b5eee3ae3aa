package rules

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Value is the result of evaluating an expression: either a decimal
// number or a boolean. Nothing else is expressible in the rule grammar.
type Value struct {
	IsBool bool
	Bool   bool
	Num    decimal.Decimal
}

// NumberValue wraps a decimal as a Value.
func NumberValue(d decimal.Decimal) Value { return Value{Num: d} }

// BoolValue wraps a bool as a Value.
func BoolValue(b bool) Value { return Value{IsBool: true, Bool: b} }

// Truthy reports whether the value counts as a pass: booleans as
// themselves, numbers as non-zero.
func (v Value) Truthy() bool {
	if v.IsBool {
		return v.Bool
	}
	return !v.Num.IsZero()
}

func (v Value) String() string {
	if v.IsBool {
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return v.Num.String()
}

// Context is the flat variable namespace an expression may read.
// Only keys present here are reachable; any other identifier is an
// evaluation error.
type Context map[string]Value

// allowedFuncs is the complete call allow-list. Expressions cannot
// reach any other function, method, or name.
var allowedFuncs = map[string]struct{}{
	"min":    {},
	"max":    {},
	"abs":    {},
	"round":  {},
	"rupees": {},
}

// EvaluateExpression parses and evaluates expr against ctx. It returns
// the result and the sorted set of context variables the expression
// actually read. Errors (syntax, unknown identifier, disallowed call,
// type mismatch, division by zero) are returned, never panicked.
func EvaluateExpression(expr string, ctx Context) (Value, []string, error) {
	node, err := Parse(expr)
	if err != nil {
		return Value{}, nil, err
	}
	return evalNode(node, ctx)
}

func evalNode(node exprNode, ctx Context) (Value, []string, error) {
	ev := &evaluator{ctx: ctx, read: make(map[string]struct{})}
	val, err := ev.eval(node)
	if err != nil {
		return Value{}, nil, err
	}
	inputs := make([]string, 0, len(ev.read))
	for name := range ev.read {
		inputs = append(inputs, name)
	}
	sort.Strings(inputs)
	return val, inputs, nil
}

// --- AST ---

type exprNode interface{}

type numberNode struct{ val decimal.Decimal }
type boolNode struct{ val bool }
type identNode struct{ name string }
type unaryNode struct {
	op    string // "-" or "!"
	child exprNode
}
type binaryNode struct {
	op          string
	left, right exprNode
}
type callNode struct {
	name string
	args []exprNode
}

// --- Lexer ---

type token struct {
	kind string // "num", "ident", "op", "lparen", "rparen", "comma", "eof"
	text string
	pos  int
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c >= '0' && c <= '9' || c == '.':
			if err := l.lexNumber(); err != nil {
				return nil, err
			}
		case unicode.IsLetter(rune(c)) || c == '_':
			l.lexIdent()
		case c == '(':
			l.emit("lparen", "(")
		case c == ')':
			l.emit("rparen", ")")
		case c == ',':
			l.emit("comma", ",")
		default:
			if !l.lexOperator() {
				return nil, fmt.Errorf("unexpected character %q at position %d", c, l.pos)
			}
		}
	}
	l.toks = append(l.toks, token{kind: "eof", pos: len(src)})
	return l.toks, nil
}

func (l *lexer) emit(kind, text string) {
	l.toks = append(l.toks, token{kind: kind, text: text, pos: l.pos})
	l.pos += len(text)
}

func (l *lexer) lexNumber() error {
	start := l.pos
	seenDot := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '.' {
			if seenDot {
				return fmt.Errorf("malformed number at position %d", start)
			}
			seenDot = true
			l.pos++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		l.pos++
	}
	text := l.src[start:l.pos]
	if text == "." {
		return fmt.Errorf("malformed number at position %d", start)
	}
	l.toks = append(l.toks, token{kind: "num", text: text, pos: start})
	return nil
}

func (l *lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.src) {
		c := rune(l.src[l.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			break
		}
		l.pos++
	}
	l.toks = append(l.toks, token{kind: "ident", text: l.src[start:l.pos], pos: start})
}

var operators = []string{"<=", ">=", "==", "!=", "&&", "||", "<", ">", "+", "-", "*", "/", "!"}

func (l *lexer) lexOperator() bool {
	rest := l.src[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.emit("op", op)
			return true
		}
	}
	return false
}

// --- Parser ---

// Parse compiles an expression into an AST over the whitelisted
// grammar: decimal literals, identifiers, arithmetic, comparison,
// boolean connectives, and calls to the allow-listed functions.
func Parse(expr string) (exprNode, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != "eof" {
		return nil, fmt.Errorf("unexpected %q at position %d", p.peek().text, p.peek().pos)
	}
	return node, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != "eof" {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind == "op" {
		for _, op := range ops {
			if t.text == op {
				p.next()
				return op, true
			}
		}
	}
	// Word forms of the boolean operators.
	if t.kind == "ident" {
		for _, op := range ops {
			if (op == "&&" && t.text == "and") || (op == "||" && t.text == "or") {
				p.next()
				return op, true
			}
		}
	}
	return "", false
}

func (p *parser) parseOr() (exprNode, error) {
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
		left = binaryNode{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (exprNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseNot() (exprNode, error) {
	t := p.peek()
	if (t.kind == "op" && t.text == "!") || (t.kind == "ident" && t.text == "not") {
		p.next()
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "!", child: child}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (exprNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op, ok := p.acceptOp("<=", ">=", "==", "!=", "<", ">"); ok {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (exprNode, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (exprNode, error) {
	if _, ok := p.acceptOp("-"); ok {
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "-", child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	t := p.next()
	switch t.kind {
	case "num":
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at position %d", t.text, t.pos)
		}
		return numberNode{val: d}, nil
	case "ident":
		switch t.text {
		case "true":
			return boolNode{val: true}, nil
		case "false":
			return boolNode{val: false}, nil
		}
		if p.peek().kind == "lparen" {
			return p.parseCall(t)
		}
		return identNode{name: t.text}, nil
	case "lparen":
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != "rparen" {
			return nil, fmt.Errorf("missing ')' at position %d", t.pos)
		}
		return node, nil
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
}

func (p *parser) parseCall(name token) (exprNode, error) {
	if _, ok := allowedFuncs[name.text]; !ok {
		return nil, fmt.Errorf("function %q is not allowed", name.text)
	}
	p.next() // consume '('
	call := callNode{name: name.text}
	if p.peek().kind == "rparen" {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		switch p.peek().kind {
		case "comma":
			p.next()
		case "rparen":
			p.next()
			return call, nil
		default:
			return nil, fmt.Errorf("expected ',' or ')' in call to %s at position %d", name.text, p.peek().pos)
		}
	}
}

// --- Evaluator ---

type evaluator struct {
	ctx  Context
	read map[string]struct{}
}

func (e *evaluator) eval(node exprNode) (Value, error) {
	switch n := node.(type) {
	case numberNode:
		return NumberValue(n.val), nil
	case boolNode:
		return BoolValue(n.val), nil
	case identNode:
		val, ok := e.ctx[n.name]
		if !ok {
			return Value{}, fmt.Errorf("undefined variable %q", n.name)
		}
		e.read[n.name] = struct{}{}
		return val, nil
	case unaryNode:
		return e.evalUnary(n)
	case binaryNode:
		return e.evalBinary(n)
	case callNode:
		return e.evalCall(n)
	default:
		return Value{}, fmt.Errorf("unknown expression node %T", node)
	}
}

func (e *evaluator) evalUnary(n unaryNode) (Value, error) {
	child, err := e.eval(n.child)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case "-":
		if child.IsBool {
			return Value{}, fmt.Errorf("cannot negate a boolean")
		}
		return NumberValue(child.Num.Neg()), nil
	case "!":
		return BoolValue(!child.Truthy()), nil
	}
	return Value{}, fmt.Errorf("unknown unary operator %q", n.op)
}

func (e *evaluator) evalBinary(n binaryNode) (Value, error) {
	left, err := e.eval(n.left)
	if err != nil {
		return Value{}, err
	}

	// Boolean connectives short-circuit.
	switch n.op {
	case "&&":
		if !left.Truthy() {
			return BoolValue(false), nil
		}
		right, err := e.eval(n.right)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(right.Truthy()), nil
	case "||":
		if left.Truthy() {
			return BoolValue(true), nil
		}
		right, err := e.eval(n.right)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(right.Truthy()), nil
	}

	right, err := e.eval(n.right)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case "==":
		if left.IsBool != right.IsBool {
			return BoolValue(false), nil
		}
		if left.IsBool {
			return BoolValue(left.Bool == right.Bool), nil
		}
		return BoolValue(left.Num.Equal(right.Num)), nil
	case "!=":
		eq, err := e.evalBinary(binaryNode{op: "==", left: numberOrBool(left), right: numberOrBool(right)})
		if err != nil {
			return Value{}, err
		}
		return BoolValue(!eq.Bool), nil
	}

	if left.IsBool || right.IsBool {
		return Value{}, fmt.Errorf("operator %q needs numeric operands", n.op)
	}

	switch n.op {
	case "<":
		return BoolValue(left.Num.LessThan(right.Num)), nil
	case "<=":
		return BoolValue(left.Num.LessThanOrEqual(right.Num)), nil
	case ">":
		return BoolValue(left.Num.GreaterThan(right.Num)), nil
	case ">=":
		return BoolValue(left.Num.GreaterThanOrEqual(right.Num)), nil
	case "+":
		return NumberValue(left.Num.Add(right.Num)), nil
	case "-":
		return NumberValue(left.Num.Sub(right.Num)), nil
	case "*":
		return NumberValue(left.Num.Mul(right.Num)), nil
	case "/":
		if right.Num.IsZero() {
			return Value{}, fmt.Errorf("division by zero")
		}
		return NumberValue(left.Num.DivRound(right.Num, 10)), nil
	}
	return Value{}, fmt.Errorf("unknown operator %q", n.op)
}

// numberOrBool re-wraps an already-evaluated value as a literal node so
// derived evaluations do not double-count variable reads.
func numberOrBool(v Value) exprNode {
	if v.IsBool {
		return boolNode{val: v.Bool}
	}
	return numberNode{val: v.Num}
}

func (e *evaluator) evalCall(n callNode) (Value, error) {
	args := make([]Value, len(n.args))
	for i, arg := range n.args {
		val, err := e.eval(arg)
		if err != nil {
			return Value{}, err
		}
		if val.IsBool {
			return Value{}, fmt.Errorf("%s: argument %d is not numeric", n.name, i+1)
		}
		args[i] = val
	}

	switch n.name {
	case "min", "max":
		if len(args) < 2 {
			return Value{}, fmt.Errorf("%s needs at least 2 arguments", n.name)
		}
		best := args[0].Num
		for _, a := range args[1:] {
			if n.name == "min" && a.Num.LessThan(best) {
				best = a.Num
			}
			if n.name == "max" && a.Num.GreaterThan(best) {
				best = a.Num
			}
		}
		return NumberValue(best), nil
	case "abs":
		if len(args) != 1 {
			return Value{}, fmt.Errorf("abs needs exactly 1 argument")
		}
		return NumberValue(args[0].Num.Abs()), nil
	case "round":
		switch len(args) {
		case 1:
			return NumberValue(args[0].Num.Round(0)), nil
		case 2:
			places := args[1].Num.IntPart()
			return NumberValue(args[0].Num.Round(int32(places))), nil
		default:
			return Value{}, fmt.Errorf("round needs 1 or 2 arguments")
		}
	case "rupees":
		if len(args) != 1 {
			return Value{}, fmt.Errorf("rupees needs exactly 1 argument")
		}
		return NumberValue(args[0].Num.Round(2)), nil
	}
	return Value{}, fmt.Errorf("function %q is not allowed", n.name)
}
