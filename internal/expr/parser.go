package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type parser struct {
	toks []token
	pos  int
}

func parse(src string, names []string) (node, error) {
	toks, err := newLexer(src, names).tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s", tok)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isKeyword(word string) bool {
	tok := p.peek()
	return tok.kind == tokName && tok.text == word
}

func (p *parser) isOp(ops ...string) bool {
	tok := p.peek()
	if tok.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if tok.text == op {
			return true
		}
	}
	return false
}

// ternary := or [ ("if" or "else" ternary) | ("?" ternary ":" ternary) ]
func (p *parser) parseTernary() (node, error) {
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("if"):
		p.advance()
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.isKeyword("else") {
			return nil, fmt.Errorf("expected else, got %s", p.peek())
		}
		p.advance()
		alt, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return &ternaryNode{cond: cond, then: n, alt: alt}, nil
	case p.isOp("?"):
		p.advance()
		then, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if !p.isOp(":") {
			return nil, fmt.Errorf("expected :, got %s", p.peek())
		}
		p.advance()
		alt, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return &ternaryNode{cond: n, then: then, alt: alt}, nil
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") || p.isOp("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{and: false, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") || p.isOp("&&") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") || p.isOp("!") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.isOp("==", "!=", "<", "<=", ">", ">="):
			op = p.advance().text
		case p.isKeyword("in"):
			p.advance()
			op = "in"
		case p.isKeyword("not") && p.toks[p.pos+1].kind == tokName && p.toks[p.pos+1].text == "in":
			p.advance()
			p.advance()
			op = "not in"
		default:
			return left, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &compareNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.advance().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "//", "%") {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("-", "+") {
		op := p.advance().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{negate: op == "-", operand: operand}, nil
	}
	return p.parsePower()
}

// power binds tighter than unary minus on its left but accepts one on its right
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.advance()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokNumber:
		if !strings.ContainsAny(tok.text, ".eE") {
			if i, err := strconv.ParseInt(tok.text, 10, 64); err == nil {
				return &literalNode{value: i}, nil
			}
		}
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %s", tok)
		}
		return &literalNode{value: f}, nil
	case tokString:
		return &literalNode{value: tok.text}, nil
	case tokLParen:
		n, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ), got %s", p.peek())
		}
		p.advance()
		return n, nil
	case tokLBracket:
		items, err := p.parseList(tokRBracket)
		if err != nil {
			return nil, err
		}
		return &listNode{items: items}, nil
	case tokName:
		return p.parseName(tok)
	}
	return nil, fmt.Errorf("unexpected %s", tok)
}

func (p *parser) parseName(tok token) (node, error) {
	switch tok.text {
	case "true", "True":
		return &literalNode{value: true}, nil
	case "false", "False":
		return &literalNode{value: false}, nil
	case "null", "None", "nil":
		return &literalNode{value: nil}, nil
	}
	// row["col"] and row['col'] address a column by its header
	if tok.text == "row" && p.peek().kind == tokLBracket {
		p.advance()
		key := p.advance()
		if key.kind != tokString {
			return nil, fmt.Errorf("expected column name string, got %s", key)
		}
		if p.peek().kind != tokRBracket {
			return nil, fmt.Errorf("expected ], got %s", p.peek())
		}
		p.advance()
		return &nameNode{name: key.text}, nil
	}
	if p.peek().kind == tokLParen {
		if _, ok := builtins[tok.text]; !ok {
			return nil, fmt.Errorf("unknown function %s", tok.text)
		}
		p.advance()
		args, err := p.parseList(tokRParen)
		if err != nil {
			return nil, err
		}
		return &callNode{name: tok.text, args: args}, nil
	}
	return &nameNode{name: tok.text}, nil
}

func (p *parser) parseList(closing tokenKind) ([]node, error) {
	var items []node
	if p.peek().kind == closing {
		p.advance()
		return items, nil
	}
	for {
		item, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		switch p.peek().kind {
		case tokComma:
			p.advance()
			if p.peek().kind == closing {
				p.advance()
				return items, nil
			}
		case closing:
			p.advance()
			return items, nil
		default:
			return nil, fmt.Errorf("expected , or closing bracket, got %s", p.peek())
		}
	}
}
