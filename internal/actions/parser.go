package actions

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// callExpr is the parsed form of `ident(key=literal, ...)`.
type callExpr struct {
	callee string
	kwargs map[string]any
	order  []string
}

// parseCall is a small recursive-descent parser for the restricted
// call-expression grammar the model is allowed to emit:
//
//	call    := ident '(' [ kwarg { ',' kwarg } [ ',' ] ] ')'
//	kwarg   := ident '=' literal
//	literal := string | number | bool | none | '[' literals ']' | '(' literals ')'
//
// Argument values must be literal constants. Name lookups, nested calls and
// any other syntax are rejected by construction; nothing is ever evaluated.
func parseCall(input string) (*callExpr, error) {
	p := &scanner{src: input}
	p.skipSpace()

	callee := p.ident()
	if callee == "" {
		return nil, p.errorf("expected call identifier")
	}
	if !p.consume('(') {
		return nil, p.errorf("expected '(' after %q", callee)
	}

	call := &callExpr{callee: callee, kwargs: map[string]any{}}
	p.skipSpace()
	for !p.consume(')') {
		key := p.ident()
		if key == "" {
			return nil, p.errorf("expected keyword argument name")
		}
		if !p.consume('=') {
			return nil, p.errorf("argument %q must be keyword=literal", key)
		}
		value, err := p.literal()
		if err != nil {
			return nil, err
		}
		call.kwargs[key] = value
		call.order = append(call.order, key)

		p.skipSpace()
		if p.consume(',') {
			p.skipSpace()
			continue
		}
		if !p.consume(')') {
			return nil, p.errorf("expected ',' or ')' after argument %q", key)
		}
		break
	}

	p.skipSpace()
	if !p.done() {
		return nil, p.errorf("trailing content after call expression")
	}
	return call, nil
}

type scanner struct {
	src string
	pos int
}

func (p *scanner) errorf(format string, args ...any) error {
	return fmt.Errorf("%s (at offset %d)", fmt.Sprintf(format, args...), p.pos)
}

func (p *scanner) done() bool { return p.pos >= len(p.src) }

func (p *scanner) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *scanner) skipSpace() {
	for !p.done() && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

// consume eats ch (after leading space) and reports whether it was present.
func (p *scanner) consume(ch byte) bool {
	p.skipSpace()
	if p.peek() == ch {
		p.pos++
		return true
	}
	return false
}

func (p *scanner) ident() string {
	p.skipSpace()
	start := p.pos
	for !p.done() {
		c := p.src[p.pos]
		if c == '_' || unicode.IsLetter(rune(c)) || (p.pos > start && unicode.IsDigit(rune(c))) {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

// literal parses exactly one literal constant. Anything else, including a
// bare identifier that is not a boolean/none keyword, is an error.
func (p *scanner) literal() (any, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == '"' || c == '\'':
		return p.stringLiteral()
	case c == '[':
		return p.listLiteral('[', ']')
	case c == '(':
		return p.listLiteral('(', ')')
	case c == '-' || c == '+' || unicode.IsDigit(rune(c)):
		return p.numberLiteral()
	default:
		word := p.ident()
		switch word {
		case "true", "True":
			return true, nil
		case "false", "False":
			return false, nil
		case "None", "null":
			return nil, nil
		case "":
			return nil, p.errorf("expected literal value")
		default:
			return nil, p.errorf("value %q is not a literal constant", word)
		}
	}
}

func (p *scanner) stringLiteral() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var sb strings.Builder
	for !p.done() {
		c := p.src[p.pos]
		switch c {
		case '\\':
			p.pos++
			if p.done() {
				return "", p.errorf("unterminated escape in string")
			}
			sb.WriteByte(unescape(p.src[p.pos]))
			p.pos++
		case quote:
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string literal")
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	default:
		return c
	}
}

func (p *scanner) numberLiteral() (float64, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	for !p.done() {
		c := p.src[p.pos]
		if unicode.IsDigit(rune(c)) || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	n, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, p.errorf("malformed number %q", p.src[start:p.pos])
	}
	return n, nil
}

func (p *scanner) listLiteral(open, close byte) ([]any, error) {
	p.pos++ // consume the opener
	items := []any{}
	p.skipSpace()
	for !p.consume(close) {
		item, err := p.literal()
		if err != nil {
			return nil, err
		}
		items = append(items, item)

		p.skipSpace()
		if p.consume(',') {
			p.skipSpace()
			continue
		}
		if !p.consume(close) {
			return nil, p.errorf("expected ',' or '%c' in list", close)
		}
		break
	}
	return items, nil
}
