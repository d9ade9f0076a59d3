package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a parsed boolean expression node.
type Expr interface {
	Eval(rec FieldSource) (bool, error)
}

// FieldSource is what expressions resolve field names against.
// *record.Record satisfies it.
type FieldSource interface {
	Get(name string) (any, bool)
}

// logicExpr is AND / OR with short-circuit evaluation.
type logicExpr struct {
	op          string // "and" | "or"
	left, right Expr
}

func (e *logicExpr) Eval(rec FieldSource) (bool, error) {
	left, err := e.left.Eval(rec)
	if err != nil {
		return false, err
	}
	if e.op == "and" && !left {
		return false, nil
	}
	if e.op == "or" && left {
		return true, nil
	}
	return e.right.Eval(rec)
}

// notExpr negates its operand.
type notExpr struct {
	inner Expr
}

func (e *notExpr) Eval(rec FieldSource) (bool, error) {
	v, err := e.inner.Eval(rec)
	if err != nil {
		return false, err
	}
	return !v, nil
}

// cmpExpr compares two operands.
type cmpExpr struct {
	op          string
	left, right operand
}

func (e *cmpExpr) Eval(rec FieldSource) (bool, error) {
	lv, err := e.left.resolve(rec)
	if err != nil {
		return false, err
	}
	rv, err := e.right.resolve(rec)
	if err != nil {
		return false, err
	}
	return compare(e.op, lv, rv)
}

// operand is a literal value or a field name.
type operand struct {
	field   string
	literal any
	isField bool
}

func (o operand) resolve(rec FieldSource) (any, error) {
	if !o.isField {
		return o.literal, nil
	}
	v, ok := rec.Get(o.field)
	if !ok {
		return nil, fmt.Errorf("field %q not found", o.field)
	}
	return v, nil
}

// ---------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------

type lexKind int

const (
	lexWord lexKind = iota
	lexOp
	lexString
	lexNumber
	lexBool
	lexLParen
	lexRParen
	lexEOF
)

type lexeme struct {
	kind lexKind
	text string
}

func lex(input string) ([]lexeme, error) {
	var out []lexeme
	i := 0
	for i < len(input) {
		ch := input[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(':
			out = append(out, lexeme{lexLParen, "("})
			i++
		case ch == ')':
			out = append(out, lexeme{lexRParen, ")"})
			i++
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				out = append(out, lexeme{lexOp, input[i : i+2]})
				i += 2
			} else {
				out = append(out, lexeme{lexOp, string(ch)})
				i++
			}
		case ch == '"' || ch == '\'':
			lit, next, err := lexString2(input, i)
			if err != nil {
				return nil, err
			}
			out = append(out, lexeme{lexString, lit})
			i = next
		case unicode.IsDigit(rune(ch)) || (ch == '-' && i+1 < len(input) && unicode.IsDigit(rune(input[i+1]))):
			j := i + 1
			for j < len(input) && (unicode.IsDigit(rune(input[j])) || input[j] == '.') {
				j++
			}
			out = append(out, lexeme{lexNumber, input[i:j]})
			i = j
		case unicode.IsLetter(rune(ch)) || ch == '_':
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_' || input[j] == '.') {
				j++
			}
			word := input[i:j]
			if lw := strings.ToLower(word); lw == "true" || lw == "false" {
				out = append(out, lexeme{lexBool, lw})
			} else {
				out = append(out, lexeme{lexWord, word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	return append(out, lexeme{lexEOF, ""}), nil
}

func lexString2(input string, start int) (lit string, next int, err error) {
	quote := input[start]
	j := start + 1
	for j < len(input) && input[j] != quote {
		if input[j] == '\\' {
			j++
		}
		j++
	}
	if j >= len(input) {
		return "", 0, fmt.Errorf("unterminated string at position %d", start)
	}
	inner := input[start+1 : j]
	inner = strings.ReplaceAll(inner, `\"`, `"`)
	inner = strings.ReplaceAll(inner, `\'`, `'`)
	inner = strings.ReplaceAll(inner, `\\`, `\`)
	return inner, j + 1, nil
}

// ---------------------------------------------------------------------
// Parser: or ← and ← not ← comparison | "(" or ")"
// ---------------------------------------------------------------------

type exprParser struct {
	toks []lexeme
	pos  int
}

func (p *exprParser) peek() lexeme { return p.toks[p.pos] }

func (p *exprParser) next() lexeme {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *exprParser) atKeyword(kw string) bool {
	t := p.peek()
	return t.kind == lexWord && strings.EqualFold(t.text, kw)
}

// Parse compiles an expression string.
func Parse(input string) (Expr, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != lexEOF {
		return nil, fmt.Errorf("unexpected token %q after expression", p.peek().text)
	}
	return node, nil
}

func (p *exprParser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (Expr, error) {
	if p.atKeyword("not") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	if p.peek().kind == lexLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != lexRParen {
			return nil, fmt.Errorf("expected %q but got %q", ")", p.peek().text)
		}
		p.next()
		return inner, nil
	}
	return p.parseCmp()
}

func (p *exprParser) parseCmp() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	var op string
	switch {
	case t.kind == lexOp:
		op = t.text
		p.next()
	case t.kind == lexWord && strings.EqualFold(t.text, "contains"):
		op = "contains"
		p.next()
	case t.kind == lexWord && strings.EqualFold(t.text, "matches"):
		op = "matches"
		p.next()
	default:
		return nil, fmt.Errorf("expected comparison operator, got %q", t.text)
	}

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &cmpExpr{op: op, left: left, right: right}, nil
}

func (p *exprParser) parseOperand() (operand, error) {
	t := p.peek()
	switch t.kind {
	case lexString:
		p.next()
		return operand{literal: t.text}, nil
	case lexNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q", t.text)
		}
		return operand{literal: f}, nil
	case lexBool:
		p.next()
		return operand{literal: t.text == "true"}, nil
	case lexWord:
		p.next()
		return operand{field: t.text, isField: true}, nil
	default:
		return operand{}, fmt.Errorf("expected operand, got %q", t.text)
	}
}
