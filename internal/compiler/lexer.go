package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// lexer is a minimal hand-rolled scanner over the GraphQL query-language
// subset the compiler supports: operations, fragments, selection sets,
// arguments, directives, and the literal value grammar (strings, numbers,
// booleans, null, enums, lists, objects, variables).
//
// Thunder's own graphql/parser_test.go sketches the exact shape this
// grammar must produce (Query{Name,Kind,SelectionSet} / Selection{Name,
// Alias,Args,SelectionSet}); that test is commented out in the teacher
// repo and graphql-go/graphql is never imported anywhere else, so this
// lexer/parser is hand-written rather than built atop an unverified
// third-party AST (see DESIGN.md).
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (l *lexer) eof() bool { return l.pos >= len(l.src) }

func (l *lexer) peekByte() byte {
	if l.eof() {
		return 0
	}
	return l.src[l.pos]
}

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isNameCont(b byte) bool {
	return isNameStart(b) || (b >= '0' && b <= '9')
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// skipIgnored skips whitespace, commas, and comments.
func (l *lexer) skipIgnored() {
	for !l.eof() {
		b := l.src[l.pos]
		switch {
		case b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == ',' || b == 0xFEFF:
			l.pos++
		case b == '#':
			for !l.eof() && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) peek() byte {
	l.skipIgnored()
	return l.peekByte()
}

// peekIsSpread reports whether the next significant token is "...".
func (l *lexer) peekIsSpread() bool {
	l.skipIgnored()
	return strings.HasPrefix(l.src[l.pos:], "...")
}

func (l *lexer) consumeSpread() {
	l.skipIgnored()
	l.pos += 3
}

func (l *lexer) consumeByte(b byte) bool {
	l.skipIgnored()
	if !l.eof() && l.src[l.pos] == b {
		l.pos++
		return true
	}
	return false
}

func (l *lexer) expectByte(b byte) error {
	if !l.consumeByte(b) {
		return newParseError(l, "expected %q", string(b))
	}
	return nil
}

func (l *lexer) readName() (string, bool) {
	l.skipIgnored()
	start := l.pos
	if l.eof() || !isNameStart(l.src[l.pos]) {
		return "", false
	}
	l.pos++
	for !l.eof() && isNameCont(l.src[l.pos]) {
		l.pos++
	}
	return l.src[start:l.pos], true
}

func (l *lexer) expectName() (string, error) {
	name, ok := l.readName()
	if !ok {
		return "", newParseError(l, "expected name")
	}
	return name, nil
}

// readValue parses a single GraphQL literal value.
func (l *lexer) readValue() (valueNode, error) {
	l.skipIgnored()
	if l.eof() {
		return nil, newParseError(l, "expected value")
	}

	switch b := l.src[l.pos]; {
	case b == '$':
		l.pos++
		name, err := l.expectName()
		if err != nil {
			return nil, err
		}
		return varNode{name: name}, nil
	case b == '"':
		s, err := l.readString()
		if err != nil {
			return nil, err
		}
		return litNode{value: s}, nil
	case b == '-' || isDigit(b):
		return l.readNumber()
	case b == '[':
		return l.readList()
	case b == '{':
		return l.readObject()
	case isNameStart(b):
		name, _ := l.readName()
		switch name {
		case "true":
			return litNode{value: true}, nil
		case "false":
			return litNode{value: false}, nil
		case "null":
			return litNode{value: nil}, nil
		default:
			return enumNode{name: name}, nil
		}
	default:
		return nil, newParseError(l, "unexpected character %q", string(b))
	}
}

func (l *lexer) readString() (string, error) {
	if !l.consumeByte('"') {
		return "", newParseError(l, "expected string")
	}
	var b strings.Builder
	for {
		if l.eof() {
			return "", newParseError(l, "unterminated string")
		}
		c := l.src[l.pos]
		if c == '"' {
			l.pos++
			return b.String(), nil
		}
		if c == '\\' {
			l.pos++
			if l.eof() {
				return "", newParseError(l, "unterminated string escape")
			}
			esc := l.src[l.pos]
			switch esc {
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			case '/':
				b.WriteByte('/')
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(esc)
			}
			l.pos++
			continue
		}
		b.WriteByte(c)
		l.pos++
	}
}

func (l *lexer) readNumber() (valueNode, error) {
	start := l.pos
	if l.peekByte() == '-' {
		l.pos++
	}
	for !l.eof() && isDigit(l.src[l.pos]) {
		l.pos++
	}
	isFloat := false
	if !l.eof() && l.src[l.pos] == '.' {
		isFloat = true
		l.pos++
		for !l.eof() && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if !l.eof() && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		isFloat = true
		l.pos++
		if !l.eof() && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		for !l.eof() && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	text := l.src[start:l.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, newParseError(l, "invalid number %q", text)
	}
	_ = isFloat
	return litNode{value: f}, nil
}

func (l *lexer) readList() (valueNode, error) {
	if err := l.expectByte('['); err != nil {
		return nil, err
	}
	var items []valueNode
	for l.peek() != ']' {
		v, err := l.readValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	l.consumeByte(']')
	return listNode{items: items}, nil
}

func (l *lexer) readObject() (valueNode, error) {
	if err := l.expectByte('{'); err != nil {
		return nil, err
	}
	fields := map[string]valueNode{}
	var order []string
	for l.peek() != '}' {
		name, err := l.expectName()
		if err != nil {
			return nil, err
		}
		if err := l.expectByte(':'); err != nil {
			return nil, err
		}
		v, err := l.readValue()
		if err != nil {
			return nil, err
		}
		if _, seen := fields[name]; !seen {
			order = append(order, name)
		}
		fields[name] = v
	}
	l.consumeByte('}')
	return objectNode{fields: fields, order: order}, nil
}

type parseError struct {
	msg string
	pos int
}

func (e *parseError) Error() string { return e.msg }

func newParseError(l *lexer, format string, args ...interface{}) error {
	return &parseError{msg: fmt.Sprintf(format, args...), pos: l.pos}
}
