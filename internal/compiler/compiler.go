package compiler

import (
	"strings"

	"github.com/lockvoid/cachebay/internal/cerrors"
	"github.com/lockvoid/cachebay/internal/stablejson"
)

func stableJSONOf(v map[string]interface{}) string {
	return stablejson.Stringify(v)
}

// Options configures how a document compiles to a Plan.
type Options struct {
	// FragmentName selects which fragment to compile when the document
	// contains more than one fragment, or contains fragments alongside
	// operations.
	FragmentName string
}

// Compile compiles GraphQL source text into a frozen Plan (spec §4.1).
func Compile(source string, opts Options) (*Plan, error) {
	doc, err := parseDocument(source)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.MalformedDocument, err, "parsing document")
	}
	return compileDocument(doc, opts)
}

func compileDocument(doc *documentNode, opts Options) (*Plan, error) {
	if opts.FragmentName != "" {
		frag, ok := doc.fragments[opts.FragmentName]
		if !ok {
			return nil, cerrors.New(cerrors.UnknownFragmentName, "unknown fragment %q", opts.FragmentName)
		}
		return compileFragment(frag, doc.fragments)
	}

	switch {
	case len(doc.operations) == 1:
		return compileOperation(doc.operations[0], doc.fragments)
	case len(doc.operations) == 0 && len(doc.fragments) == 1:
		for _, frag := range doc.fragments {
			return compileFragment(frag, doc.fragments)
		}
	}
	return nil, cerrors.New(cerrors.MalformedDocument,
		"document must contain exactly one operation or exactly one fragment (found %d operations, %d fragments); pass fragmentName to disambiguate",
		len(doc.operations), len(doc.fragments))
}

func compileOperation(op *operationDefNode, fragments map[string]*fragmentDefNode) (*Plan, error) {
	operation := Operation(op.operation)
	rootTypename := rootTypenameForOperation(operation)

	fields, selMap, printed, err := buildSelectionSet(op.selectionSet, fragments, map[string]bool{})
	if err != nil {
		return nil, err
	}

	header := op.operation
	if op.name != "" {
		header += " " + op.name
	}

	return &Plan{
		Operation:        operation,
		RootTypename:     rootTypename,
		Root:             fields,
		RootSelectionMap: selMap,
		NetworkQuery:     header + " " + printed,
	}, nil
}

func compileFragment(frag *fragmentDefNode, fragments map[string]*fragmentDefNode) (*Plan, error) {
	fields, selMap, printed, err := buildSelectionSet(frag.selectionSet, fragments, map[string]bool{})
	if err != nil {
		return nil, err
	}

	header := "fragment " + frag.name + " on " + frag.on

	return &Plan{
		Operation:        OperationFragment,
		RootTypename:     frag.on,
		Root:             fields,
		RootSelectionMap: selMap,
		NetworkQuery:     header + " " + printed,
	}, nil
}

func rootTypenameForOperation(op Operation) string {
	switch op {
	case OperationMutation:
		return "Mutation"
	case OperationSubscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// buildSelectionSet flattens fragment spreads/inline fragments, merges
// duplicate response keys, injects __typename, compiles each resulting
// field into a PlanField, and prints the network-query text for this
// selection set (with non-network directives like @connection stripped,
// and the injected __typename included — spec §4.1).
func buildSelectionSet(selections []selectionNode, fragments map[string]*fragmentDefNode, visiting map[string]bool) ([]*PlanField, map[string]*PlanField, string, error) {
	flat, err := flattenSelections(selections, fragments, visiting)
	if err != nil {
		return nil, nil, "", err
	}

	merged, order, err := mergeFields(flat)
	if err != nil {
		return nil, nil, "", err
	}

	hasTypename := false
	for _, rk := range order {
		if merged[rk].name == "__typename" {
			hasTypename = true
			break
		}
	}

	fields := make([]*PlanField, 0, len(order)+1)
	selMap := make(map[string]*PlanField, len(order)+1)
	printedFields := make([]string, 0, len(order)+1)

	if !hasTypename {
		pf := &PlanField{FieldName: "__typename", ResponseKey: "__typename", BuildArgs: noArgs, StringifyArgs: noArgsString}
		fields = append(fields, pf)
		selMap["__typename"] = pf
		printedFields = append(printedFields, "__typename")
	}

	for _, rk := range order {
		fn := merged[rk]
		pf, err := compileField(fn, fragments, visiting)
		if err != nil {
			return nil, nil, "", err
		}
		fields = append(fields, pf)
		selMap[pf.ResponseKey] = pf

		printed, err := printField(fn, fragments, visiting)
		if err != nil {
			return nil, nil, "", err
		}
		printedFields = append(printedFields, printed)
	}

	return fields, selMap, "{ " + strings.Join(printedFields, " ") + " }", nil
}

// flattenSelections recursively inlines fragment spreads and inline
// fragments into a flat ordered list of fieldNodes.
func flattenSelections(selections []selectionNode, fragments map[string]*fragmentDefNode, visiting map[string]bool) ([]*fieldNode, error) {
	var out []*fieldNode
	for _, sel := range selections {
		switch {
		case sel.field != nil:
			out = append(out, sel.field)
		case sel.inlineFragment != nil:
			inner, err := flattenSelections(sel.inlineFragment.selectionSet, fragments, visiting)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		case sel.fragmentSpread != "":
			if visiting[sel.fragmentSpread] {
				continue
			}
			frag, ok := fragments[sel.fragmentSpread]
			if !ok {
				return nil, cerrors.New(cerrors.UnknownFragmentName, "unknown fragment %q", sel.fragmentSpread)
			}
			visiting[sel.fragmentSpread] = true
			inner, err := flattenSelections(frag.selectionSet, fragments, visiting)
			visiting[sel.fragmentSpread] = false
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		}
	}
	return out, nil
}

// mergeFields groups fieldNodes by response key (alias or name), merging
// the subselections of duplicates so that fields requested twice (directly
// or via overlapping fragments) are compiled once (GraphQL field merging).
func mergeFields(flat []*fieldNode) (map[string]*fieldNode, []string, error) {
	merged := map[string]*fieldNode{}
	var order []string

	for _, fn := range flat {
		rk := fn.alias
		existing, ok := merged[rk]
		if !ok {
			// copy so later merges don't mutate the original parse tree
			cp := *fn
			merged[rk] = &cp
			order = append(order, rk)
			continue
		}
		if fn.hasSelection && existing.hasSelection {
			existing.selectionSet = append(existing.selectionSet, fn.selectionSet...)
		}
	}

	return merged, order, nil
}

func compileField(fn *fieldNode, fragments map[string]*fragmentDefNode, visiting map[string]bool) (*PlanField, error) {
	buildArgs := buildArgsFor(fn.args)
	pf := &PlanField{
		FieldName:     fn.name,
		ResponseKey:   fn.alias,
		BuildArgs:     buildArgs,
		StringifyArgs: stringifyArgsFor(buildArgs),
	}

	if fn.hasSelection {
		fields, selMap, _, err := buildSelectionSet(fn.selectionSet, fragments, visiting)
		if err != nil {
			return nil, err
		}
		pf.SelectionSet = fields
		pf.SelectionMap = selMap
	}

	for _, d := range fn.directives {
		if d.name != "connection" {
			continue
		}
		pf.IsConnection = true
		pf.ConnectionKey = pf.FieldName
		pf.ConnectionMode = ConnectionModeInfinite

		for _, a := range d.args {
			v, err := resolveValue(a.value, nil)
			if err != nil {
				return nil, err
			}
			switch a.name {
			case "key":
				if s, ok := v.(string); ok {
					pf.ConnectionKey = s
				}
			case "mode":
				if s, ok := v.(string); ok {
					pf.ConnectionMode = ConnectionMode(s)
				}
			case "filters":
				if items, ok := v.([]interface{}); ok {
					for _, item := range items {
						if s, ok := item.(string); ok {
							pf.ConnectionFilters = append(pf.ConnectionFilters, s)
						}
					}
				}
			}
		}
	}

	return pf, nil
}

func noArgs(vars map[string]interface{}) (map[string]interface{}, error) { return nil, nil }
func noArgsString(vars map[string]interface{}) (string, error)           { return "", nil }

func buildArgsFor(args []argNode) func(map[string]interface{}) (map[string]interface{}, error) {
	if len(args) == 0 {
		return noArgs
	}
	return func(vars map[string]interface{}) (map[string]interface{}, error) {
		out := make(map[string]interface{}, len(args))
		for _, a := range args {
			v, err := resolveValue(a.value, vars)
			if err != nil {
				return nil, err
			}
			out[a.name] = v
		}
		return out, nil
	}
}

func stringifyArgsFor(buildArgs func(map[string]interface{}) (map[string]interface{}, error)) func(map[string]interface{}) (string, error) {
	return func(vars map[string]interface{}) (string, error) {
		args, err := buildArgs(vars)
		if err != nil {
			return "", err
		}
		if args == nil {
			args = map[string]interface{}{}
		}
		return stableJSONOf(args), nil
	}
}

func resolveValue(v valueNode, vars map[string]interface{}) (interface{}, error) {
	switch n := v.(type) {
	case varNode:
		val, ok := vars[n.name]
		if !ok {
			return nil, nil
		}
		return val, nil
	case litNode:
		return n.value, nil
	case enumNode:
		return n.name, nil
	case listNode:
		items := make([]interface{}, len(n.items))
		for i, it := range n.items {
			v, err := resolveValue(it, vars)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case objectNode:
		out := map[string]interface{}{}
		for _, k := range n.order {
			v, err := resolveValue(n.fields[k], vars)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, cerrors.New(cerrors.MalformedDocument, "unsupported value node %T", v)
	}
}
