package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenVariable
	tokenNumber
	tokenString
	tokenKeyword // AND OR NOT IN TRUE FALSE (case-insensitive)
	tokenOperator
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string // keyword text is upper-cased, "NOT IN" canonicalized to one space
	pos  int
}

var keywords = map[string]bool{
	"AND":   true,
	"OR":    true,
	"NOT":   true,
	"IN":    true,
	"TRUE":  true,
	"FALSE": true,
}

type lexer struct {
	input string
	pos   int
}

func lex(input string) ([]token, error) {
	l := &lexer{input: input}
	var tokens []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case c == '$':
		return l.lexVariable()
	case c == '\'' || c == '"':
		return l.lexString(c)
	case c >= '0' && c <= '9' || c == '-' && l.peekDigit():
		return l.lexNumber()
	case c == '[':
		l.pos++
		return token{kind: tokenLBracket, text: "[", pos: start}, nil
	case c == ']':
		l.pos++
		return token{kind: tokenRBracket, text: "]", pos: start}, nil
	case c == '(':
		l.pos++
		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokenComma, text: ",", pos: start}, nil
	case isWordStart(c):
		return l.lexWord()
	default:
		return l.lexOperator()
	}
}

func (l *lexer) peekDigit() bool {
	return l.pos+1 < len(l.input) && l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9'
}

// lexVariable reads $name(.name)* into a single token whose text excludes the
// leading dollar sign.
func (l *lexer) lexVariable() (token, error) {
	start := l.pos
	l.pos++ // consume '$'
	if l.pos >= len(l.input) || !isWordStart(l.input[l.pos]) {
		return token{}, &ParseError{Expression: l.input, Pos: start, Message: "expected variable name after '$'"}
	}
	var parts []string
	for {
		seg := l.pos
		for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
			l.pos++
		}
		parts = append(parts, l.input[seg:l.pos])
		if l.pos < len(l.input) && l.input[l.pos] == '.' {
			l.pos++
			if l.pos >= len(l.input) || !isWordStart(l.input[l.pos]) {
				return token{}, &ParseError{Expression: l.input, Pos: l.pos, Message: "expected path segment after '.'"}
			}
			continue
		}
		break
	}
	return token{kind: tokenVariable, text: strings.Join(parts, "."), pos: start}, nil
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			b.WriteByte(l.input[l.pos])
			l.pos++
			continue
		}
		if c == quote {
			l.pos++
			return token{kind: tokenString, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, &ParseError{Expression: l.input, Pos: start, Message: "unterminated string"}
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '.' && !seenDot && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]) {
			seenDot = true
			l.pos++
			continue
		}
		if !isDigit(c) {
			break
		}
		l.pos++
	}
	return token{kind: tokenNumber, text: l.input[start:l.pos], pos: start}, nil
}

func (l *lexer) lexWord() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		l.pos++
	}
	word := strings.ToUpper(l.input[start:l.pos])
	if !keywords[word] {
		return token{}, &ParseError{
			Expression: l.input,
			Pos:        start,
			Message:    fmt.Sprintf("unexpected identifier %q (variables must start with '$')", l.input[start:l.pos]),
		}
	}
	return token{kind: tokenKeyword, text: word, pos: start}, nil
}

var operators = []string{"==", "!=", "<=", ">=", "<", ">"}

func (l *lexer) lexOperator() (token, error) {
	start := l.pos
	rest := l.input[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)
			return token{kind: tokenOperator, text: op, pos: start}, nil
		}
	}
	// Single '=' and other near-misses surface as unsupported operators so the
	// caller can distinguish them from plain syntax errors.
	for _, bad := range []string{"=", "&&", "||", "!"} {
		if strings.HasPrefix(rest, bad) {
			return token{}, &UnsupportedOperatorError{Op: bad}
		}
	}
	return token{}, &ParseError{Expression: l.input, Pos: start, Message: fmt.Sprintf("unexpected character %q", l.input[l.pos])}
}

func isWordStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isWordChar(c byte) bool {
	return isWordStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
