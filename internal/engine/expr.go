package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Expr — скомпилированное выражение ограниченной грамматики.
//
// Грамматика:
//
//	expr    := or
//	or      := and (("||" | "or") and)*
//	and     := not (("&&" | "and") not)*
//	not     := ("!" | "not") not | cmp
//	cmp     := sum (("==" | "!=" | "<" | "<=" | ">" | ">=" | "in") sum)?
//	sum     := term (("+" | "-") term)*
//	term    := unary (("*" | "/" | "%") unary)*
//	unary   := "-" unary | primary
//	primary := number | string | true | false | null | path | func "(" args ")" | "[" args "]" | "(" expr ")"
//
// Путь — ссылка на поле рабочего документа: policy.state, drivers[0].age.
// Выражение не имеет побочных эффектов: только чтение документа и чистые функции.
type Expr struct {
	src  string
	root node
}

// String возвращает исходный текст выражения.
func (e *Expr) String() string {
	return e.src
}

// Eval вычисляет выражение над документом.
func (e *Expr) Eval(doc map[string]any) (any, error) {
	return e.root.eval(doc)
}

// EvalBool вычисляет выражение и приводит результат к bool.
func (e *Expr) EvalBool(doc map[string]any) (bool, error) {
	v, err := e.root.eval(doc)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// exprCache — кэш скомпилированных выражений. Выражения из конфигурации
// шагов повторяются в каждой транзакции.
var exprCache sync.Map

// Compile разбирает выражение. Результат кэшируется по тексту.
func Compile(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if cached, ok := exprCache.Load(src); ok {
		return cached.(*Expr), nil
	}
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrExpressionSyntax)
	}

	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrExpressionSyntax, p.peek().text, p.peek().pos)
	}

	e := &Expr{src: src, root: root}
	exprCache.Store(src, e)
	return e, nil
}

// Evaluate компилирует и вычисляет выражение.
func Evaluate(src string, doc map[string]any) (any, error) {
	e, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return e.Eval(doc)
}

// EvaluateBool компилирует и вычисляет условие. Пустое условие истинно.
func EvaluateBool(src string, doc map[string]any) (bool, error) {
	if strings.TrimSpace(src) == "" {
		return true, nil
	}
	e, err := Compile(src)
	if err != nil {
		return false, err
	}
	return e.EvalBool(doc)
}

// --- лексер ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				i++
				if i < len(src) && (src[i] == '+' || src[i] == '-') {
					i++
				}
				for i < len(src) && src[i] >= '0' && src[i] <= '9' {
					i++
				}
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrExpressionSyntax, src[start:i])
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], num: n, pos: start})

		case c == '\'' || c == '"':
			start := i
			quote := c
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if src[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrExpressionSyntax, start)
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})

		case isIdentStart(rune(c)):
			start := i
			for i < len(src) {
				r := rune(src[i])
				if isIdentPart(r) || r == '.' {
					i++
					continue
				}
				// индекс массива внутри пути: drivers[0]
				if r == '[' {
					end := strings.IndexByte(src[i:], ']')
					if end > 1 && isDigits(src[i+1:i+end]) {
						i += end + 1
						continue
					}
				}
				break
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})

		default:
			start := i
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, token{kind: tokOp, text: two, pos: start})
				i += 2
				continue
			}
			switch c {
			case '+', '-', '*', '/', '%', '<', '>', '!', '(', ')', ',', '[', ']':
				toks = append(toks, token{kind: tokOp, text: string(c), pos: start})
				i++
			default:
				return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrExpressionSyntax, c, start)
			}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// --- парсер ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// accept поглощает оператор или ключевое слово, если оно следующее.
func (p *parser) accept(texts ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp && t.kind != tokIdent {
		return "", false
	}
	for _, s := range texts {
		if t.text == s {
			p.pos++
			return s, true
		}
	}
	return "", false
}

func (p *parser) expect(text string) error {
	if _, ok := p.accept(text); !ok {
		t := p.peek()
		return fmt.Errorf("%w: expected %q at %d, got %q", ErrExpressionSyntax, text, t.pos, t.text)
	}
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("||", "or"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{or: true, left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("&&", "and"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{left: left, right: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.accept("!", "not"); ok {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	op, ok := p.accept("==", "!=", "<=", ">=", "<", ">", "in")
	if !ok {
		return left, nil
	}
	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return &binaryNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.accept("-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literalNode{v: t.num}, nil
	case tokString:
		return &literalNode{v: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literalNode{v: true}, nil
		case "false":
			return &literalNode{v: false}, nil
		case "null", "nil":
			return &literalNode{v: nil}, nil
		}
		if p.peek().kind == tokOp && p.peek().text == "(" {
			fn, ok := exprFuncs[t.text]
			if !ok {
				return nil, fmt.Errorf("%w: unknown function %q", ErrExpressionSyntax, t.text)
			}
			p.next()
			args, err := p.parseArgs(")")
			if err != nil {
				return nil, err
			}
			return &callNode{name: t.text, fn: fn, args: args}, nil
		}
		if _, err := parsePath(t.text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExpressionSyntax, err)
		}
		return &refNode{path: t.text}, nil
	case tokOp:
		switch t.text {
		case "(":
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			items, err := p.parseArgs("]")
			if err != nil {
				return nil, err
			}
			return &listNode{items: items}, nil
		}
	}
	if t.kind == tokEOF {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrExpressionSyntax)
	}
	return nil, fmt.Errorf("%w: unexpected %q at %d", ErrExpressionSyntax, t.text, t.pos)
}

func (p *parser) parseArgs(closing string) ([]node, error) {
	var args []node
	if _, ok := p.accept(closing); ok {
		return args, nil
	}
	for {
		a, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if _, ok := p.accept(","); ok {
			continue
		}
		if err := p.expect(closing); err != nil {
			return nil, err
		}
		return args, nil
	}
}

// --- узлы ---

type node interface {
	eval(doc map[string]any) (any, error)
}

type literalNode struct{ v any }

func (n *literalNode) eval(map[string]any) (any, error) { return n.v, nil }

type refNode struct{ path string }

func (n *refNode) eval(doc map[string]any) (any, error) {
	v, _ := Get(doc, n.path)
	return v, nil
}

type listNode struct{ items []node }

func (n *listNode) eval(doc map[string]any) (any, error) {
	out := make([]any, len(n.items))
	for i, item := range n.items {
		v, err := item.eval(doc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type notNode struct{ x node }

func (n *notNode) eval(doc map[string]any) (any, error) {
	v, err := n.x.eval(doc)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

type negNode struct{ x node }

func (n *negNode) eval(doc map[string]any) (any, error) {
	v, err := n.x.eval(doc)
	if err != nil {
		return nil, err
	}
	f, ok := ToFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: cannot negate %v", ErrExpressionEval, v)
	}
	return -f, nil
}

type logicalNode struct {
	or          bool
	left, right node
}

func (n *logicalNode) eval(doc map[string]any) (any, error) {
	l, err := n.left.eval(doc)
	if err != nil {
		return nil, err
	}
	if n.or && Truthy(l) {
		return true, nil
	}
	if !n.or && !Truthy(l) {
		return false, nil
	}
	r, err := n.right.eval(doc)
	if err != nil {
		return nil, err
	}
	return Truthy(r), nil
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) eval(doc map[string]any) (any, error) {
	l, err := n.left.eval(doc)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(doc)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "<", "<=", ">", ">=":
		c, ok := Compare(l, r)
		if !ok {
			return false, nil
		}
		switch n.op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "in":
		items, ok := ToSlice(r)
		if !ok {
			return nil, fmt.Errorf("%w: right side of 'in' is not a list", ErrExpressionEval)
		}
		for _, item := range items {
			if Equal(l, item) {
				return true, nil
			}
		}
		return false, nil
	case "+":
		lf, lok := ToFloat(l)
		rf, rok := ToFloat(r)
		if lok && rok {
			return lf + rf, nil
		}
		return ToString(l) + ToString(r), nil
	}

	lf, lok := ToFloat(l)
	rf, rok := ToFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: operator %s needs numbers, got %v and %v", ErrExpressionEval, n.op, l, r)
	}
	switch n.op {
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrExpressionEval)
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrExpressionEval)
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("%w: unknown operator %s", ErrExpressionEval, n.op)
}

type callNode struct {
	name string
	fn   exprFunc
	args []node
}

func (n *callNode) eval(doc map[string]any) (any, error) {
	// if() вычисляет только нужную ветку
	if n.name == "if" {
		if len(n.args) != 3 {
			return nil, fmt.Errorf("%w: if() takes 3 arguments", ErrExpressionEval)
		}
		c, err := n.args[0].eval(doc)
		if err != nil {
			return nil, err
		}
		if Truthy(c) {
			return n.args[1].eval(doc)
		}
		return n.args[2].eval(doc)
	}

	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(doc)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := n.fn(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s(): %v", ErrExpressionEval, n.name, err)
	}
	return v, nil
}
