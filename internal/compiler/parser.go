package compiler

// parseDocument parses a full GraphQL document (one or more operations
// and/or fragment definitions).
func parseDocument(src string) (*documentNode, error) {
	l := newLexer(src)
	doc := &documentNode{fragments: map[string]*fragmentDefNode{}}

	for l.peek() != 0 {
		if l.peekIsFragmentKeyword() {
			frag, err := parseFragmentDefinition(l)
			if err != nil {
				return nil, err
			}
			doc.fragments[frag.name] = frag
			continue
		}
		op, err := parseOperationDefinition(l)
		if err != nil {
			return nil, err
		}
		doc.operations = append(doc.operations, op)
	}

	return doc, nil
}

func (l *lexer) peekIsFragmentKeyword() bool {
	save := l.pos
	l.skipIgnored()
	name, ok := l.readName()
	l.pos = save
	return ok && name == "fragment"
}

func parseFragmentDefinition(l *lexer) (*fragmentDefNode, error) {
	if _, err := l.expectName(); err != nil { // "fragment"
		return nil, err
	}
	name, err := l.expectName()
	if err != nil {
		return nil, err
	}
	onKw, err := l.expectName()
	if err != nil {
		return nil, err
	}
	if onKw != "on" {
		return nil, newParseError(l, `expected "on" in fragment definition`)
	}
	typeName, err := l.expectName()
	if err != nil {
		return nil, err
	}
	if _, err := parseDirectives(l); err != nil {
		return nil, err
	}
	sel, err := parseSelectionSet(l)
	if err != nil {
		return nil, err
	}
	return &fragmentDefNode{name: name, on: typeName, selectionSet: sel}, nil
}

func parseOperationDefinition(l *lexer) (*operationDefNode, error) {
	op := &operationDefNode{operation: "query"}

	if l.peek() != '{' {
		name, err := l.expectName()
		if err != nil {
			return nil, err
		}
		switch name {
		case "query", "mutation", "subscription":
			op.operation = name
			if l.peek() != '{' && l.peek() != '(' && l.peek() != '@' {
				opName, ok := l.readName()
				if ok {
					op.name = opName
				}
			}
		default:
			op.name = name
		}
		if l.peek() == '(' {
			if err := skipVariableDefinitions(l); err != nil {
				return nil, err
			}
		}
		if _, err := parseDirectives(l); err != nil {
			return nil, err
		}
	}

	sel, err := parseSelectionSet(l)
	if err != nil {
		return nil, err
	}
	op.selectionSet = sel
	return op, nil
}

// skipVariableDefinitions consumes "($a: Int, $b: String = "x")" — variable
// types/defaults are not part of this core's contract (no schema validation).
func skipVariableDefinitions(l *lexer) error {
	if err := l.expectByte('('); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		if l.eof() {
			return newParseError(l, "unterminated variable definitions")
		}
		b := l.peekByte()
		switch b {
		case '(':
			depth++
			l.pos++
		case ')':
			depth--
			l.pos++
		default:
			l.pos++
		}
	}
	return nil
}

func parseDirectives(l *lexer) ([]directiveNode, error) {
	var directives []directiveNode
	for l.peek() == '@' {
		l.consumeByte('@')
		name, err := l.expectName()
		if err != nil {
			return nil, err
		}
		var args []argNode
		if l.peek() == '(' {
			args, err = parseArguments(l)
			if err != nil {
				return nil, err
			}
		}
		directives = append(directives, directiveNode{name: name, args: args})
	}
	return directives, nil
}

func parseArguments(l *lexer) ([]argNode, error) {
	if err := l.expectByte('('); err != nil {
		return nil, err
	}
	var args []argNode
	for l.peek() != ')' {
		name, err := l.expectName()
		if err != nil {
			return nil, err
		}
		if err := l.expectByte(':'); err != nil {
			return nil, err
		}
		val, err := l.readValue()
		if err != nil {
			return nil, err
		}
		args = append(args, argNode{name: name, value: val})
	}
	l.consumeByte(')')
	return args, nil
}

func parseSelectionSet(l *lexer) ([]selectionNode, error) {
	if err := l.expectByte('{'); err != nil {
		return nil, err
	}
	var selections []selectionNode
	for l.peek() != '}' {
		sel, err := parseSelection(l)
		if err != nil {
			return nil, err
		}
		selections = append(selections, sel)
	}
	l.consumeByte('}')
	return selections, nil
}

func parseSelection(l *lexer) (selectionNode, error) {
	if l.peekIsSpread() {
		l.consumeSpread()
		// "on" introduces an inline fragment; otherwise it's a fragment spread.
		save := l.pos
		name, ok := l.readName()
		if ok && name == "on" {
			typeName, err := l.expectName()
			if err != nil {
				return selectionNode{}, err
			}
			if _, err := parseDirectives(l); err != nil {
				return selectionNode{}, err
			}
			sel, err := parseSelectionSet(l)
			if err != nil {
				return selectionNode{}, err
			}
			return selectionNode{inlineFragment: &inlineFragmentNode{on: typeName, selectionSet: sel}}, nil
		}
		if !ok {
			l.pos = save
			return selectionNode{}, newParseError(l, "expected fragment name or inline fragment")
		}
		return selectionNode{fragmentSpread: name}, nil
	}

	field, err := parseField(l)
	if err != nil {
		return selectionNode{}, err
	}
	return selectionNode{field: field}, nil
}

func parseField(l *lexer) (*fieldNode, error) {
	first, err := l.expectName()
	if err != nil {
		return nil, err
	}

	f := &fieldNode{name: first, alias: first}
	if l.peek() == ':' {
		l.consumeByte(':')
		name, err := l.expectName()
		if err != nil {
			return nil, err
		}
		f.name = name
	}

	if l.peek() == '(' {
		args, err := parseArguments(l)
		if err != nil {
			return nil, err
		}
		f.args = args
	}

	directives, err := parseDirectives(l)
	if err != nil {
		return nil, err
	}
	f.directives = directives

	if l.peek() == '{' {
		sel, err := parseSelectionSet(l)
		if err != nil {
			return nil, err
		}
		f.selectionSet = sel
		f.hasSelection = true
	}

	return f, nil
}
