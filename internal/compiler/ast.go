package compiler

// valueNode is the parsed representation of a GraphQL literal value, kept
// unresolved (variables included) until buildArgs substitutes concrete
// variables (spec §4.1).
type valueNode interface{ isValue() }

type varNode struct{ name string }
type litNode struct{ value interface{} }
type enumNode struct{ name string }
type listNode struct{ items []valueNode }
type objectNode struct {
	fields map[string]valueNode
	order  []string
}

func (varNode) isValue()    {}
func (litNode) isValue()    {}
func (enumNode) isValue()   {}
func (listNode) isValue()   {}
func (objectNode) isValue() {}

type argNode struct {
	name  string
	value valueNode
}

type directiveNode struct {
	name string
	args []argNode
}

type fieldNode struct {
	alias        string
	name         string
	args         []argNode
	directives   []directiveNode
	selectionSet []selectionNode // nil for leaf fields
	hasSelection bool
}

type inlineFragmentNode struct {
	on           string
	selectionSet []selectionNode
}

type selectionNode struct {
	field          *fieldNode
	fragmentSpread string // fragment name, or "" if not a spread
	inlineFragment *inlineFragmentNode
}

type fragmentDefNode struct {
	name         string
	on           string
	selectionSet []selectionNode
}

type operationDefNode struct {
	operation    string // "query" | "mutation" | "subscription"
	name         string
	selectionSet []selectionNode
}

type documentNode struct {
	operations []*operationDefNode
	fragments  map[string]*fragmentDefNode
}
