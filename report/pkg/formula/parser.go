package formula

import (
	"fmt"
	"strconv"
)

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
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

func (p *parser) expression() (node, error) {
	cond, err := p.binaryLevel(0)
	if err != nil {
		return nil, err
	}
	if _, ok := p.acceptOp("?"); !ok {
		return cond, nil
	}
	then, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, ok := p.acceptOp(":"); !ok {
		return nil, fmt.Errorf("expected ':' at %d", p.peek().pos)
	}
	otherwise, err := p.expression()
	if err != nil {
		return nil, err
	}
	return conditional{cond: cond, then: then, otherwise: otherwise}, nil
}

// precedence levels, loosest first
var levels = [][]string{
	{"||"},
	{"&&"},
	{"==", "!=", "===", "!=="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) binaryLevel(level int) (node, error) {
	if level == len(levels) {
		return p.unary()
	}
	left, err := p.binaryLevel(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp(levels[level]...)
		if !ok {
			return left, nil
		}
		right, err := p.binaryLevel(level + 1)
		if err != nil {
			return nil, err
		}
		left = binary{op: op, l: left, r: right}
	}
}

func (p *parser) unary() (node, error) {
	if op, ok := p.acceptOp("!", "-", "+"); ok {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unary{op: op, x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		return literal{v: f}, nil
	case tokString:
		return literal{v: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literal{v: true}, nil
		case "false":
			return literal{v: false}, nil
		case "null":
			return literal{v: nil}, nil
		}
		if p.peek().kind != tokLParen {
			return ident{name: t.text}, nil
		}
		p.next()
		var args []node
		if p.peek().kind != tokRParen {
			for {
				arg, err := p.expression()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("expected ')' after arguments to %s", t.text)
		}
		return call{name: t.text, args: args}, nil
	case tokLParen:
		inner, err := p.expression()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at %d", p.peek().pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of formula")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}
