// Package filter compiles the small boolean language stream clients use to
// narrow what they receive, e.g.
//
//	type == "proximity_alert" AND payload.user_id == "u-42"
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// node is a compiled boolean expression.
type node interface {
	eval(f fields) (bool, error)
}

type (
	andNode struct{ left, right node }
	orNode  struct{ left, right node }
	notNode struct{ inner node }
	cmpNode struct {
		left, right operand
		op          Operator
		re          *regexp.Regexp // precompiled when op is matches
	}
)

// operand is either a literal or a dotted field path.
type operand struct {
	path  []string
	value any
}

func (o operand) isField() bool { return o.path != nil }

// ---------------------------------------------------------------------------
// lexer
// ---------------------------------------------------------------------------

type tokKind int

const (
	tEOF tokKind = iota
	tIdent
	tOp
	tString
	tNumber
	tBool
	tLParen
	tRParen
)

type tok struct {
	kind tokKind
	text string
	pos  int
}

func lex(src string) ([]tok, error) {
	var out []tok
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(':
			out = append(out, tok{tLParen, "(", i})
			i++
		case c == ')':
			out = append(out, tok{tRParen, ")", i})
			i++
		case strings.ContainsRune("=!<>", rune(c)):
			n := 1
			if i+1 < len(src) && src[i+1] == '=' {
				n = 2
			}
			out = append(out, tok{tOp, src[i : i+n], i})
			i += n
		case c == '"' || c == '\'':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, tok{tString, s, i})
			i = next
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			out = append(out, tok{tNumber, src[i:j], i})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i + 1
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			word := src[i:j]
			if w := strings.ToLower(word); w == "true" || w == "false" {
				out = append(out, tok{tBool, w, i})
			} else {
				out = append(out, tok{tIdent, word, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return append(out, tok{tEOF, "", len(src)}), nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for j := start + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			if j+1 < len(src) {
				j++
				b.WriteByte(src[j])
			}
		case quote:
			return b.String(), j + 1, nil
		default:
			b.WriteByte(src[j])
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

// ---------------------------------------------------------------------------
// parser
//
//	or   = and { "OR" and }
//	and  = not { "AND" not }
//	not  = "NOT" not | "(" or ")" | cmp
//	cmp  = operand op operand
// ---------------------------------------------------------------------------

type parser struct {
	toks []tok
	pos  int
}

func (p *parser) peek() tok { return p.toks[p.pos] }
func (p *parser) next() tok {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.keyword("NOT") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner}, nil
	}
	if p.peek().kind == tLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tRParen {
			return nil, fmt.Errorf("expected ) at position %d, got %q", t.pos, t.text)
		}
		return inner, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	var op Operator
	t := p.next()
	switch {
	case t.kind == tOp:
		op = Operator(t.text)
	case t.kind == tIdent && strings.EqualFold(t.text, string(OpContains)):
		op = OpContains
	case t.kind == tIdent && strings.EqualFold(t.text, string(OpMatches)):
		op = OpMatches
	default:
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.text)
	}
	if !op.valid() {
		return nil, fmt.Errorf("unknown operator %q at position %d", t.text, t.pos)
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	n := &cmpNode{left: left, op: op, right: right}
	if op == OpMatches && !right.isField() {
		pattern, ok := right.value.(string)
		if !ok {
			return nil, fmt.Errorf("matches needs a string pattern, got %v", right.value)
		}
		if n.re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	return n, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tString:
		return operand{value: t.text}, nil
	case tNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return operand{value: f}, nil
	case tBool:
		return operand{value: t.text == "true"}, nil
	case tIdent:
		return operand{path: strings.Split(t.text, ".")}, nil
	}
	if t.kind == tEOF {
		return operand{}, fmt.Errorf("expected operand at end of expression")
	}
	return operand{}, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.text)
}
