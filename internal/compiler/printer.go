package compiler

import (
	"strconv"
	"strings"
)

// printField renders a single field (with its subselection, if any) as
// network-query text, stripping non-network directives (only @connection
// today) while preserving everything else, per spec §4.1.
func printField(fn *fieldNode, fragments map[string]*fragmentDefNode, visiting map[string]bool) (string, error) {
	var b strings.Builder
	if fn.alias != fn.name {
		b.WriteString(fn.alias)
		b.WriteString(": ")
	}
	b.WriteString(fn.name)

	if len(fn.args) > 0 {
		b.WriteString("(")
		for i, a := range fn.args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.name)
			b.WriteString(": ")
			b.WriteString(printValue(a.value))
		}
		b.WriteString(")")
	}

	for _, d := range fn.directives {
		if !isNetworkDirective(d.name) {
			continue
		}
		b.WriteString(" @")
		b.WriteString(d.name)
		if len(d.args) > 0 {
			b.WriteString("(")
			for i, a := range d.args {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(a.name)
				b.WriteString(": ")
				b.WriteString(printValue(a.value))
			}
			b.WriteString(")")
		}
	}

	if fn.hasSelection {
		_, _, printed, err := buildSelectionSet(fn.selectionSet, fragments, visiting)
		if err != nil {
			return "", err
		}
		b.WriteString(" ")
		b.WriteString(printed)
	}

	return b.String(), nil
}

// isNetworkDirective reports whether a directive should survive into the
// network query; cache-only directives like @connection are stripped.
func isNetworkDirective(name string) bool {
	return name != "connection"
}

func printValue(v valueNode) string {
	switch n := v.(type) {
	case varNode:
		return "$" + n.name
	case enumNode:
		return n.name
	case litNode:
		switch val := n.value.(type) {
		case nil:
			return "null"
		case string:
			return strconv.Quote(val)
		case bool:
			if val {
				return "true"
			}
			return "false"
		case float64:
			return strconv.FormatFloat(val, 'g', -1, 64)
		default:
			return "null"
		}
	case listNode:
		items := make([]string, len(n.items))
		for i, it := range n.items {
			items[i] = printValue(it)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case objectNode:
		items := make([]string, len(n.order))
		for i, k := range n.order {
			items[i] = k + ": " + printValue(n.fields[k])
		}
		return "{" + strings.Join(items, ", ") + "}"
	default:
		return "null"
	}
}
