package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a parsed condition expression. A nil root means the expression was
// empty and evaluates to true.
type Expr struct {
	raw  string
	root node
}

// Raw returns the original expression text.
func (e *Expr) Raw() string { return e.raw }

// Parse parses a boolean condition expression.
//
// Grammar (keywords case-insensitive, NOT binds tightest, then AND, then OR):
//
//	expression := or_expr
//	or_expr    := and_expr ("OR" and_expr)*
//	and_expr   := not_expr ("AND" not_expr)*
//	not_expr   := "NOT"? comparison
//	comparison := value OP value | "(" expression ")" | bool
//	OP         := == | != | < | > | <= | >= | IN | NOT IN
//	value      := variable | number | string | bool | list
func Parse(input string) (*Expr, error) {
	if strings.TrimSpace(input) == "" {
		return &Expr{raw: input}, nil
	}
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, &ParseError{Expression: input, Pos: p.peek().pos, Message: fmt.Sprintf("unexpected token %q", p.peek().text)}
	}
	return &Expr{raw: input, root: root}, nil
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []node{left}
	for p.peek().kind == tokenKeyword && p.peek().text == "OR" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return &logicalNode{op: "OR", terms: terms}, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	terms := []node{left}
	for p.peek().kind == tokenKeyword && p.peek().text == "AND" {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return &logicalNode{op: "AND", terms: terms}, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokenKeyword && p.peek().text == "NOT" {
		// "NOT IN" never reaches here: NOT after a value is consumed by
		// parseComparison as part of the two-token operator.
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	if p.peek().kind == tokenLParen {
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokenRParen {
			return nil, &ParseError{Expression: p.input, Pos: p.peek().pos, Message: "expected ')'"}
		}
		p.advance()
		return inner, nil
	}

	left, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	op, ok, err := p.parseOperator()
	if err != nil {
		return nil, err
	}
	if !ok {
		// Bare value: only booleans and variables are meaningful predicates.
		switch left.(type) {
		case *literalNode, *variableNode:
			return &truthyNode{value: left}, nil
		}
		return nil, &ParseError{Expression: p.input, Pos: p.peek().pos, Message: "expected comparison operator"}
	}

	right, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &comparisonNode{op: op, left: left, right: right}, nil
}

// parseOperator consumes a comparison operator, recognising the two-token
// keyword "NOT IN" and canonicalizing it to a single internal spelling.
func (p *parser) parseOperator() (string, bool, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokenOperator:
		p.advance()
		return tok.text, true, nil
	case tok.kind == tokenKeyword && tok.text == "IN":
		p.advance()
		return "IN", true, nil
	case tok.kind == tokenKeyword && tok.text == "NOT":
		next := p.tokens[p.pos+1]
		if next.kind == tokenKeyword && next.text == "IN" {
			p.advance()
			p.advance()
			return "NOT IN", true, nil
		}
		return "", false, nil
	default:
		return "", false, nil
	}
}

func (p *parser) parseValue() (node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokenVariable:
		p.advance()
		return &variableNode{path: strings.Split(tok.text, "."), raw: tok.text}, nil
	case tokenNumber:
		p.advance()
		if strings.Contains(tok.text, ".") {
			f, err := strconv.ParseFloat(tok.text, 64)
			if err != nil {
				return nil, &ParseError{Expression: p.input, Pos: tok.pos, Message: "invalid number"}
			}
			return &literalNode{value: f}, nil
		}
		n, err := strconv.Atoi(tok.text)
		if err != nil {
			return nil, &ParseError{Expression: p.input, Pos: tok.pos, Message: "invalid number"}
		}
		return &literalNode{value: n}, nil
	case tokenString:
		p.advance()
		return &literalNode{value: tok.text}, nil
	case tokenKeyword:
		switch tok.text {
		case "TRUE":
			p.advance()
			return &literalNode{value: true}, nil
		case "FALSE":
			p.advance()
			return &literalNode{value: false}, nil
		}
		return nil, &ParseError{Expression: p.input, Pos: tok.pos, Message: fmt.Sprintf("unexpected keyword %q", tok.text)}
	case tokenLBracket:
		return p.parseList()
	default:
		return nil, &ParseError{Expression: p.input, Pos: tok.pos, Message: fmt.Sprintf("unexpected token %q", tok.text)}
	}
}

// parseList parses [v, v, ...] of numbers or strings.
func (p *parser) parseList() (node, error) {
	p.advance() // '['
	var items []node
	if p.peek().kind == tokenRBracket {
		p.advance()
		return &listNode{items: items}, nil
	}
	for {
		tok := p.peek()
		if tok.kind != tokenNumber && tok.kind != tokenString && tok.kind != tokenVariable {
			return nil, &ParseError{Expression: p.input, Pos: tok.pos, Message: "list items must be numbers or strings"}
		}
		item, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		switch p.peek().kind {
		case tokenComma:
			p.advance()
		case tokenRBracket:
			p.advance()
			return &listNode{items: items}, nil
		default:
			return nil, &ParseError{Expression: p.input, Pos: p.peek().pos, Message: "expected ',' or ']'"}
		}
	}
}
