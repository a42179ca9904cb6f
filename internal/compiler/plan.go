// Package compiler turns a GraphQL document or fragment into an immutable,
// memoized cache plan (spec §4.1): a tree of field descriptors carrying
// selection maps, argument stringifiers, connection metadata, and a
// network-query string.
package compiler

// Operation names the kind of thing a Plan was compiled from.
type Operation string

const (
	OperationQuery        Operation = "query"
	OperationMutation     Operation = "mutation"
	OperationSubscription Operation = "subscription"
	OperationFragment     Operation = "fragment"
)

// ConnectionMode selects how Canonical merges pages of a connection field.
type ConnectionMode string

const (
	ConnectionModeInfinite ConnectionMode = "infinite"
	ConnectionModePage     ConnectionMode = "page"
)

// PlanField is a compiled field descriptor (spec §3).
type PlanField struct {
	FieldName   string
	ResponseKey string

	BuildArgs     func(vars map[string]interface{}) (map[string]interface{}, error)
	StringifyArgs func(vars map[string]interface{}) (string, error)

	SelectionSet []*PlanField
	SelectionMap map[string]*PlanField

	IsConnection      bool
	ConnectionKey     string
	ConnectionFilters []string
	ConnectionMode    ConnectionMode
}

// HasArgs reports whether buildArgs ever produces a non-empty argument map
// for this field (used to decide whether a storage key needs an arg suffix).
func (f *PlanField) HasArgs(vars map[string]interface{}) (bool, error) {
	args, err := f.BuildArgs(vars)
	if err != nil {
		return false, err
	}
	return len(args) > 0, nil
}

// StorageKey computes the field-storage-key for the current variables:
// plain field name with no arguments, else "fieldName({stableJsonArgs})".
func (f *PlanField) StorageKey(vars map[string]interface{}) (string, error) {
	has, err := f.HasArgs(vars)
	if err != nil {
		return "", err
	}
	if !has {
		return f.FieldName, nil
	}
	s, err := f.StringifyArgs(vars)
	if err != nil {
		return "", err
	}
	return f.FieldName + "(" + s + ")", nil
}

// CanonicalArgsString computes the stableJson of only the arguments listed
// in ConnectionFilters (spec §4.4).
func (f *PlanField) CanonicalArgsString(vars map[string]interface{}) (string, error) {
	args, err := f.BuildArgs(vars)
	if err != nil {
		return "", err
	}
	filtered := map[string]interface{}{}
	for _, name := range f.ConnectionFilters {
		if v, ok := args[name]; ok {
			filtered[name] = v
		}
	}
	return stableJSONOf(filtered), nil
}

// Plan is the frozen, compiled output of the Compiler (spec §3).
type Plan struct {
	Operation        Operation
	RootTypename     string
	Root             []*PlanField
	RootSelectionMap map[string]*PlanField
	NetworkQuery     string
}
